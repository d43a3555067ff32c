package migration

import (
	"fmt"
	"strings"

	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/kind"
)

// retryable is implemented by errors that declare whether a chunk may be
// attempted again after them.
type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err, or an error it wraps, allows the chunk to
// be retried.
func IsRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

// SchemaMismatchError reports a source record that lacks a required field or
// carries a value of the wrong shape.
type SchemaMismatchError struct {
	Kind     kind.Kind
	SourceID string
	Field    string
	Reason   string
}

func (e *SchemaMismatchError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("schema mismatch in %s %s: required field %q is missing", e.Kind, e.SourceID, e.Field)
	}
	return fmt.Sprintf("schema mismatch in %s %s: field %q %s", e.Kind, e.SourceID, e.Field, e.Reason)
}

func (e *SchemaMismatchError) ErrorCategory() errors.ErrorCategory { return errors.CategoryValidation }
func (e *SchemaMismatchError) Retryable() bool                     { return false }

// UnresolvedReferenceError reports a reference to a record that has no
// mapping yet. On a correctly ordered run it indicates mapping corruption.
type UnresolvedReferenceError struct {
	Kind         kind.Kind // kind of the missing record
	SourceID     string    // source identifier of the missing record
	Field        string
	ReferencedBy string // source identifier of the referencing record
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference: %s %s (field %q of %s) has not been migrated",
		e.Kind, e.SourceID, e.Field, e.ReferencedBy)
}

func (e *UnresolvedReferenceError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryIntegrity
}
func (e *UnresolvedReferenceError) Retryable() bool { return false }

// DuplicateMappingError is raised by the mapping store; see repository.DuplicateMappingError.
type DuplicateMappingError = repository.DuplicateMappingError

// TransactionError reports a chunk transaction the target store rejected.
// The chunk was rolled back as a whole.
type TransactionError struct {
	Kind   kind.Kind
	Offset int64
	Reason datastore.ErrorReason
	Err    error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("chunk %s@%d rolled back (%s): %v", e.Kind, e.Offset, e.Reason, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

func (e *TransactionError) ErrorCategory() errors.ErrorCategory { return errors.CategoryDatabase }

// Retryable is true for every rejected transaction. Persistent constraint
// failures exhaust the retry budget and fail the kind.
func (e *TransactionError) Retryable() bool { return true }

// SourceReadError reports a failed read from the source store: a page
// fetch, or a count when Operation is set.
type SourceReadError struct {
	Kind      kind.Kind
	Operation string
	Offset    int64
	Err       error
}

func (e *SourceReadError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s %s: %v", e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("read %s at offset %d: %v", e.Kind, e.Offset, e.Err)
}

func (e *SourceReadError) Unwrap() error                       { return e.Err }
func (e *SourceReadError) ErrorCategory() errors.ErrorCategory { return errors.CategorySource }
func (e *SourceReadError) Retryable() bool                     { return true }

// DependencyError reports a kind whose dependencies are not completed.
type DependencyError struct {
	Kind    kind.Kind
	Pending []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s blocked: dependencies not completed: %s", e.Kind, strings.Join(e.Pending, ", "))
}

func (e *DependencyError) ErrorCategory() errors.ErrorCategory { return errors.CategoryState }
func (e *DependencyError) Retryable() bool                     { return false }

// ConsistencyWarning is a non-fatal verification finding.
type ConsistencyWarning struct {
	Kind     kind.Kind
	SourceID string
	Check    string
	Detail   string
}

// Verification checks.
const (
	CheckCount   = "count"
	CheckMissing = "missing"
	CheckRecord  = "record"
)

func (w *ConsistencyWarning) Error() string {
	if w.SourceID == "" {
		return fmt.Sprintf("consistency warning (%s) for %s: %s", w.Check, w.Kind, w.Detail)
	}
	return fmt.Sprintf("consistency warning (%s) for %s %s: %s", w.Check, w.Kind, w.SourceID, w.Detail)
}

func (w *ConsistencyWarning) ErrorCategory() errors.ErrorCategory { return errors.CategoryIntegrity }
