package migration

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/source"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go-cache runs a janitor per cache that is only stopped by a finalizer.
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// setupTarget creates an initialized SQLite target in a temp directory.
func setupTarget(t *testing.T) *datastore.SQLiteManager {
	t.Helper()

	mgr, err := datastore.NewSQLiteManager(&datastore.SQLiteConfig{Path: filepath.Join(t.TempDir(), "target.db")})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func newTestOrchestrator(t *testing.T, src source.Store, target datastore.Manager, mutate ...func(*Config)) *Orchestrator {
	t.Helper()

	cfg := Config{
		Source:       src,
		Target:       target,
		Logger:       testLogger(),
		PageSize:     100,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	o, err := NewOrchestrator(cfg)
	require.NoError(t, err)
	return o
}

func mappingCount(t *testing.T, target datastore.Manager, k kind.Kind) int64 {
	t.Helper()
	n, err := repository.NewMappingStore(target.DB()).Count(context.Background(), string(k))
	require.NoError(t, err)
	return n
}

func rowCount(t *testing.T, target datastore.Manager, k kind.Kind) int64 {
	t.Helper()
	n, err := datastore.CountRows(context.Background(), target.DB(), specs[k].prototype)
	require.NoError(t, err)
	return n
}

func doc(id string, fields map[string]any) source.Record {
	fields[source.IDField] = id
	return source.Record{ID: id, Fields: fields}
}

func blobValue(id string) source.Record {
	return doc(id, map[string]any{"value": "output of " + id})
}

func keywordSet(id, hash string) source.Record {
	return doc(id, map[string]any{
		"values":     map[string]any{"maxiter": int64(100), "e_convergence": 1e-8},
		"hash_index": hash,
	})
}

func molecule(id string) source.Record {
	return doc(id, map[string]any{
		"name":                   "H2",
		"symbols":                []any{"H", "H"},
		"geometry":               []any{0.0, 0.0, 0.0, 0.0, 0.0, 1.4},
		"molecule_hash":          "hash-" + id,
		"molecular_multiplicity": int64(1),
		"identifiers":            map[string]any{"molecular_formula": "H2"},
	})
}

func result(id, moleculeID, keywordsID, stdoutID string) source.Record {
	fields := map[string]any{
		"program":       "psi4",
		"driver":        "energy",
		"method":        "b3lyp",
		"basis":         "6-31g",
		"molecule":      moleculeID,
		"return_result": -1.1754,
		"properties":    map[string]any{"scf_iterations": int64(9)},
		"provenance":    map[string]any{"creator": "Psi4"},
	}
	if keywordsID != "" {
		fields["keywords"] = keywordsID
	}
	if stdoutID != "" {
		fields["stdout"] = stdoutID
	}
	return doc(id, fields)
}

// seed fills a memory store with n records per kind. Results reference the
// molecule, keyword set and blob of the same index.
func seed(n int) *source.MemoryStore {
	src := source.NewMemoryStore()
	for i := range n {
		src.Put(kind.BlobValues, blobValue(fmt.Sprintf("kv%04d", i)))
		src.Put(kind.KeywordSets, keywordSet(fmt.Sprintf("kw%04d", i), fmt.Sprintf("kwhash%04d", i)))
		src.Put(kind.MolecularStructures, molecule(fmt.Sprintf("mol%04d", i)))
		src.Put(kind.ComputedResults, result(fmt.Sprintf("res%04d", i),
			fmt.Sprintf("mol%04d", i), fmt.Sprintf("kw%04d", i), fmt.Sprintf("kv%04d", i)))
	}
	return src
}

// hookedSource runs hooks before every count and page read.
type hookedSource struct {
	source.Store
	beforeCount func(k kind.Kind) error
	beforeFetch func(k kind.Kind, offset int64) error
}

func (h *hookedSource) Count(ctx context.Context, k kind.Kind) (int64, error) {
	if h.beforeCount != nil {
		if err := h.beforeCount(k); err != nil {
			return 0, err
		}
	}
	return h.Store.Count(ctx, k)
}

func (h *hookedSource) FetchPage(ctx context.Context, k kind.Kind, offset, limit int64) ([]source.Record, error) {
	if h.beforeFetch != nil {
		if err := h.beforeFetch(k, offset); err != nil {
			return nil, err
		}
	}
	return h.Store.FetchPage(ctx, k, offset, limit)
}
