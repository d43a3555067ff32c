// Package source reads entity kinds from the document store being migrated.
// Stores are read-only and return documents ordered by identifier so a page
// can be fetched again with the same (offset, limit) and yield the same records.
package source

import (
	"context"
	"fmt"
	"maps"

	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/kind"
)

// IDField is the identifier field of every source document.
const IDField = "_id"

// Record is one source document. Fields holds normalized values: nested
// documents are map[string]any, arrays are []any, object identifiers are hex
// strings and integers are int64.
type Record struct {
	ID     string
	Fields map[string]any
}

// Get returns a field value. A present field holding null reports ok=false,
// matching how the migration treats absent and null identically.
func (r Record) Get(field string) (any, bool) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Clone returns a copy whose top-level field map may be modified freely.
func (r Record) Clone() Record {
	return Record{ID: r.ID, Fields: maps.Clone(r.Fields)}
}

// Store is the read-only source collaborator.
type Store interface {
	// Count returns the number of documents of kind.
	Count(ctx context.Context, k kind.Kind) (int64, error)
	// FetchPage returns up to limit documents of kind starting at offset,
	// ordered by identifier ascending.
	FetchPage(ctx context.Context, k kind.Kind, offset, limit int64) ([]Record, error)
	// FetchByIDs returns the documents with the given identifiers. Unknown
	// identifiers are absent from the result.
	FetchByIDs(ctx context.Context, k kind.Kind, ids []string) (map[string]Record, error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close(ctx context.Context) error
}

func sourceError(err error, operation string, k kind.Kind) error {
	return errors.New(err).
		Component("source").
		Category(errors.CategorySource).
		Context("operation", operation).
		KindContext(string(k), "").
		Build()
}

func unknownKindError(k kind.Kind) error {
	return errors.New(fmt.Errorf("no source collection configured for kind %q", k)).
		Component("source").
		Category(errors.CategoryConfiguration).
		Build()
}
