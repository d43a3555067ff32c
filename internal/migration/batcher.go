package migration

import (
	"context"
	"time"

	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/observability/metrics"
)

// Target opens chunk transactions on the relational store.
type Target interface {
	Begin(ctx context.Context) (*datastore.Tx, error)
}

// WriteResult describes one committed chunk.
type WriteResult struct {
	// TargetIDs holds the target identifier of every record, in input order.
	TargetIDs []uint
	Inserted  int
	Reused    int
}

// Batcher writes a chunk of target records and their identifier mappings in
// a single transaction.
type Batcher struct {
	target   Target
	mappings *repository.MappingStore
	states   *datastore.StateManager
	metrics  *metrics.DatastoreMetrics
}

// NewBatcher creates a batcher. m may be nil.
func NewBatcher(target Target, mappings *repository.MappingStore, states *datastore.StateManager, m *metrics.DatastoreMetrics) *Batcher {
	return &Batcher{target: target, mappings: mappings, states: states, metrics: m}
}

// Write inserts the records of chunk that have no mapping yet, records their
// mappings and advances the kind's progress, then commits. Records already
// mapped by an earlier partial attempt are not inserted again; their existing
// target identifiers are returned in position. On any error nothing of the
// chunk is committed.
func (b *Batcher) Write(ctx context.Context, chunk Chunk, records []*TargetRecord) (result *WriteResult, err error) {
	start := time.Now()
	k := string(chunk.Kind)

	defer func() {
		status := metrics.StatusCommitted
		if err != nil {
			status = metrics.StatusRolledBack
		}
		b.observe(k, status, time.Since(start), err)
	}()

	tx, err := b.target.Begin(ctx)
	if err != nil {
		return nil, b.txError(chunk, err)
	}
	defer func() { _ = tx.Rollback() }()

	mappings := b.mappings.WithTx(tx.DB())

	sourceIDs := make([]string, len(records))
	for i, rec := range records {
		sourceIDs[i] = rec.SourceID
	}
	existing, err := mappings.LookupBatch(ctx, k, sourceIDs)
	if err != nil {
		return nil, b.txError(chunk, err)
	}

	result = &WriteResult{TargetIDs: make([]uint, len(records))}
	fresh := make([]entities.Row, 0, len(records))
	positions := make([]int, 0, len(records))
	for i, rec := range records {
		if id, ok := existing[rec.SourceID]; ok {
			result.TargetIDs[i] = id
			result.Reused++
			continue
		}
		fresh = append(fresh, rec.Row)
		positions = append(positions, i)
	}

	if len(fresh) > 0 {
		ids, err := tx.InsertBatch(fresh)
		if err != nil {
			return nil, b.txError(chunk, err)
		}
		pairs := make([]repository.Pair, len(ids))
		for j, id := range ids {
			i := positions[j]
			result.TargetIDs[i] = id
			pairs[j] = repository.Pair{SourceID: records[i].SourceID, TargetID: id}
		}
		if err := mappings.RecordBatch(ctx, k, pairs); err != nil {
			return nil, b.txError(chunk, err)
		}
		result.Inserted = len(ids)
	}

	if err := b.states.AdvanceProgress(tx.DB(), k, chunk.End(), int64(result.Inserted), int64(result.Reused)); err != nil {
		return nil, b.txError(chunk, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, b.txError(chunk, err)
	}
	return result, nil
}

// txError wraps a store failure as a TransactionError. Integrity errors keep
// their own type so they are never retried.
func (b *Batcher) txError(chunk Chunk, err error) error {
	var dup *DuplicateMappingError
	if errors.As(err, &dup) {
		return err
	}
	return &TransactionError{
		Kind:   chunk.Kind,
		Offset: chunk.Offset,
		Reason: datastore.ClassifyError(err),
		Err:    err,
	}
}

func (b *Batcher) observe(k, status string, d time.Duration, err error) {
	if b.metrics == nil {
		return
	}
	b.metrics.RecordTransaction(k, status, d.Seconds())
	if err != nil {
		b.metrics.RecordTransactionError(k, string(datastore.ClassifyError(err)))
	}
}
