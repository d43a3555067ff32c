package migration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/observability/metrics"
	"github.com/tphakala/qcmigrate/internal/source"
)

func TestRun_KeywordSetsInThreeChunks(t *testing.T) {
	t.Parallel()

	src := source.NewMemoryStore()
	for i := range 250 {
		src.Put(kind.KeywordSets, keywordSet(fmt.Sprintf("kw%04d", i), fmt.Sprintf("hash%04d", i)))
	}
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target)

	run, err := o.Run(context.Background(), []kind.Kind{kind.KeywordSets})
	require.NoError(t, err)
	require.False(t, run.HasErrors(), run.Summary())

	res := run.Kind(kind.KeywordSets)
	require.NotNil(t, res)
	assert.Equal(t, entities.KindStatusCompleted, res.Status)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, int64(250), res.Inserted)
	assert.Equal(t, 3, src.Fetches(kind.KeywordSets))

	assert.Equal(t, int64(250), mappingCount(t, target, kind.KeywordSets))
	assert.Equal(t, int64(250), rowCount(t, target, kind.KeywordSets))

	state, err := datastore.NewStateManager(target.DB()).Get(context.Background(), string(kind.KeywordSets))
	require.NoError(t, err)
	assert.Equal(t, entities.KindStatusCompleted, state.State)
	assert.Equal(t, int64(250), state.LastOffset)
	assert.Equal(t, run.RunID, state.RunID)
	assert.InDelta(t, 100.0, state.Progress(), 0.001)
}

func TestRun_UnresolvedReferenceWhenResultsRunFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := seed(3)
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target)

	// Bypass the dependency gate to simulate an ordering bug.
	res := &KindResult{Kind: kind.ComputedResults}
	o.runKind(ctx, "ordering-bug", kind.ComputedResults, res)

	assert.Equal(t, entities.KindStatusFailed, res.Status)
	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, res.Err, &unresolved)
	assert.Equal(t, kind.MolecularStructures, unresolved.Kind)
	assert.Equal(t, "mol0000", unresolved.SourceID)
	assert.Equal(t, 0, res.Retries, "integrity errors are never retried")
	assert.Zero(t, mappingCount(t, target, kind.ComputedResults))

	failures, err := datastore.NewStateManager(target.DB()).Failures(ctx, string(kind.ComputedResults), 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "res0000", failures[0].SourceID)
	assert.Equal(t, "unresolved_reference", failures[0].Reason)

	// In dependency order the same data migrates cleanly.
	run, err := o.Run(ctx, nil)
	require.NoError(t, err)
	require.False(t, run.HasErrors(), run.Summary())
	assert.Equal(t, int64(3), mappingCount(t, target, kind.ComputedResults))
}

func TestRun_DependencyGateBlocksDependents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := seed(2)
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target)

	run, err := o.Run(ctx, []kind.Kind{kind.ComputedResults})
	require.NoError(t, err)

	res := run.Kind(kind.ComputedResults)
	assert.True(t, res.Blocked)
	assert.Equal(t, entities.KindStatusNotStarted, res.Status)
	var depErr *DependencyError
	require.ErrorAs(t, res.Err, &depErr)
	assert.ElementsMatch(t, []string{"blob-values", "keyword-sets", "molecular-structures"}, depErr.Pending)
	assert.Zero(t, src.Fetches(kind.ComputedResults))

	state, err := datastore.NewStateManager(target.DB()).Get(ctx, string(kind.ComputedResults))
	require.NoError(t, err)
	assert.Equal(t, entities.KindStatusNotStarted, state.State)

	// Dependencies completed by an earlier run satisfy the gate.
	_, err = o.Run(ctx, []kind.Kind{kind.BlobValues, kind.KeywordSets, kind.MolecularStructures})
	require.NoError(t, err)
	run, err = o.Run(ctx, []kind.Kind{kind.ComputedResults})
	require.NoError(t, err)
	assert.Equal(t, entities.KindStatusCompleted, run.Kind(kind.ComputedResults).Status)
}

func TestRun_FailedDependencyBlocksDependentsOnly(t *testing.T) {
	t.Parallel()

	src := seed(3)
	src.Put(kind.MolecularStructures, doc("mol0001", map[string]any{"symbols": []any{"H"}}))
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target)

	run, err := o.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []kind.Kind{kind.MolecularStructures}, run.Failed())
	assert.Equal(t, entities.KindStatusCompleted, run.Kind(kind.BlobValues).Status)
	assert.Equal(t, entities.KindStatusCompleted, run.Kind(kind.KeywordSets).Status)
	assert.True(t, run.Kind(kind.ComputedResults).Blocked)

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, run.Kind(kind.MolecularStructures).Err, &mismatch)
	assert.Equal(t, "mol0001", mismatch.SourceID)
	assert.Equal(t, "geometry", mismatch.Field)
	assert.Zero(t, mappingCount(t, target, kind.MolecularStructures), "the failing chunk commits nothing")
}

func TestRun_RerunOfCompletedKindInsertsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := seed(25)
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target, func(c *Config) { c.PageSize = 10 })

	first, err := o.Run(ctx, nil)
	require.NoError(t, err)
	require.False(t, first.HasErrors(), first.Summary())

	before, err := repository.NewMappingStore(target.DB()).Sample(ctx, string(kind.ComputedResults), 100)
	require.NoError(t, err)

	second, err := o.Run(ctx, nil)
	require.NoError(t, err)
	require.False(t, second.HasErrors(), second.Summary())

	for _, res := range second.Kinds {
		assert.Zero(t, res.Inserted, "kind %s", res.Kind)
		assert.Equal(t, 3, res.SkippedChunks, "kind %s", res.Kind)
		assert.Equal(t, int64(25), rowCount(t, target, res.Kind))
		assert.Equal(t, int64(25), mappingCount(t, target, res.Kind))
	}

	after, err := repository.NewMappingStore(target.DB()).Sample(ctx, string(kind.ComputedResults), 100)
	require.NoError(t, err)
	assert.Equal(t, before, after, "mappings must not change")
}

func TestRun_ConstraintViolationRollsBackChunk(t *testing.T) {
	t.Parallel()

	src := source.NewMemoryStore()
	src.Put(kind.KeywordSets,
		keywordSet("kw0", "hash-a"),
		keywordSet("kw1", "hash-b"),
		keywordSet("kw2", "hash-a"), // third record violates the unique hash index
		keywordSet("kw3", "hash-c"),
		keywordSet("kw4", "hash-d"),
	)
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target, func(c *Config) { c.PageSize = 5 })

	run, err := o.Run(context.Background(), []kind.Kind{kind.KeywordSets})
	require.NoError(t, err)

	res := run.Kind(kind.KeywordSets)
	assert.Equal(t, entities.KindStatusFailed, res.Status)
	assert.Equal(t, 2, res.Retries)

	var txErr *TransactionError
	require.ErrorAs(t, res.Err, &txErr)
	assert.Equal(t, datastore.ReasonUniqueViolation, txErr.Reason)
	assert.Equal(t, int64(0), txErr.Offset)

	assert.Zero(t, mappingCount(t, target, kind.KeywordSets))
	assert.Zero(t, rowCount(t, target, kind.KeywordSets))

	state, err := datastore.NewStateManager(target.DB()).Get(context.Background(), string(kind.KeywordSets))
	require.NoError(t, err)
	assert.Equal(t, entities.KindStatusFailed, state.State)
	assert.Zero(t, state.LastOffset)
	assert.Contains(t, state.ErrorMessage, "unique_violation")
}

func TestRun_CountFailureFailsKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var counts atomic.Int32
	src := &hookedSource{
		Store: seed(5),
		beforeCount: func(k kind.Kind) error {
			if k == kind.KeywordSets {
				counts.Add(1)
				return fmt.Errorf("connection reset by peer")
			}
			return nil
		},
	}
	target := setupTarget(t)

	run, err := newTestOrchestrator(t, src, target).Run(ctx, nil)
	require.NoError(t, err)

	res := run.Kind(kind.KeywordSets)
	assert.Equal(t, entities.KindStatusFailed, res.Status)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, int32(3), counts.Load(), "one attempt plus two retries")
	var readErr *SourceReadError
	require.ErrorAs(t, res.Err, &readErr)
	assert.Equal(t, []kind.Kind{kind.KeywordSets}, run.Failed())

	assert.True(t, run.Kind(kind.ComputedResults).Blocked)
	assert.Equal(t, entities.KindStatusCompleted, run.Kind(kind.BlobValues).Status)

	states := datastore.NewStateManager(target.DB())
	state, err := states.Get(ctx, string(kind.KeywordSets))
	require.NoError(t, err)
	assert.Equal(t, entities.KindStatusFailed, state.State)
	assert.Equal(t, run.RunID, state.RunID)
	assert.Contains(t, state.ErrorMessage, "connection reset by peer")

	failures, err := states.Failures(ctx, string(kind.KeywordSets), 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "source_read", failures[0].Reason)
}

func TestRun_TransientCountErrorIsRetried(t *testing.T) {
	t.Parallel()

	var failed atomic.Bool
	src := &hookedSource{
		Store: seed(5),
		beforeCount: func(k kind.Kind) error {
			if k == kind.BlobValues && failed.CompareAndSwap(false, true) {
				return fmt.Errorf("connection reset by peer")
			}
			return nil
		},
	}
	target := setupTarget(t)

	run, err := newTestOrchestrator(t, src, target).Run(context.Background(), []kind.Kind{kind.BlobValues})
	require.NoError(t, err)

	res := run.Kind(kind.BlobValues)
	require.Equal(t, entities.KindStatusCompleted, res.Status, run.Summary())
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, int64(5), res.Total)

	state, err := datastore.NewStateManager(target.DB()).Get(context.Background(), string(kind.BlobValues))
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.TotalRecords)
}

func TestRun_IndependentKindsConcurrently(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := source.NewMemoryStore()
	for i := range 120 {
		id := fmt.Sprintf("id%04d", i) // identical source ids in both kinds
		src.Put(kind.BlobValues, blobValue(id))
		src.Put(kind.KeywordSets, keywordSet(id, "hash-"+id))
	}
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target, func(c *Config) {
		c.PageSize = 10
		c.Concurrency = 2
	})

	run, err := o.Run(ctx, []kind.Kind{kind.BlobValues, kind.KeywordSets})
	require.NoError(t, err)
	require.False(t, run.HasErrors(), run.Summary())

	mappings := repository.NewMappingStore(target.DB())
	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("id%04d", i)
	}
	for _, k := range []kind.Kind{kind.BlobValues, kind.KeywordSets} {
		assert.Equal(t, entities.KindStatusCompleted, run.Kind(k).Status)

		found, err := mappings.LookupBatch(ctx, string(k), ids)
		require.NoError(t, err)
		require.Len(t, found, 120)

		targetIDs := make([]uint, 0, len(found))
		for _, id := range found {
			targetIDs = append(targetIDs, id)
		}
		rows, err := specs[k].load(ctx, target.DB(), targetIDs)
		require.NoError(t, err)
		assert.Len(t, rows, 120, "every %s mapping points at a %s row", k, k)
	}
}

func TestRun_ResumeAfterFailureMatchesUninterruptedRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := seed(47)

	reference := setupTarget(t)
	_, err := newTestOrchestrator(t, src, reference, func(c *Config) { c.PageSize = 10 }).Run(ctx, nil)
	require.NoError(t, err)

	failing := true
	flaky := &hookedSource{Store: src, beforeFetch: func(k kind.Kind, offset int64) error {
		if failing && k == kind.MolecularStructures && offset == 30 {
			return fmt.Errorf("connection reset by peer")
		}
		return nil
	}}
	target := setupTarget(t)
	o := newTestOrchestrator(t, flaky, target, func(c *Config) { c.PageSize = 10 })

	first, err := o.Run(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []kind.Kind{kind.MolecularStructures}, first.Failed())
	assert.Equal(t, int64(30), mappingCount(t, target, kind.MolecularStructures))
	var readErr *SourceReadError
	require.ErrorAs(t, first.Kind(kind.MolecularStructures).Err, &readErr)

	failing = false
	second, err := o.Run(ctx, nil)
	require.NoError(t, err)
	require.False(t, second.HasErrors(), second.Summary())
	assert.Equal(t, 3, second.Kind(kind.MolecularStructures).SkippedChunks)
	assert.Equal(t, int64(17), second.Kind(kind.MolecularStructures).Inserted)

	for _, k := range kind.All() {
		want, err := repository.NewMappingStore(reference.DB()).Sample(ctx, string(k), 100)
		require.NoError(t, err)
		got, err := repository.NewMappingStore(target.DB()).Sample(ctx, string(k), 100)
		require.NoError(t, err)
		assert.Equal(t, sourceIDs(want), sourceIDs(got), "kind %s", k)
	}
}

func TestRun_ReprocessesPartiallyMappedChunk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := seed(10)
	target := setupTarget(t)

	// Simulate an earlier attempt that committed only the first record.
	batcher := NewBatcher(target, repository.NewMappingStore(target.DB()), datastore.NewStateManager(target.DB()), nil)
	first, err := transformBlobValue(blobValue("kv0000"))
	require.NoError(t, err)
	_, err = batcher.Write(ctx, Chunk{Kind: kind.BlobValues, Offset: 0, Limit: 1}, []*TargetRecord{first})
	require.NoError(t, err)

	o := newTestOrchestrator(t, src, target, func(c *Config) { c.PageSize = 10 })
	run, err := o.Run(ctx, []kind.Kind{kind.BlobValues})
	require.NoError(t, err)

	res := run.Kind(kind.BlobValues)
	assert.Equal(t, entities.KindStatusCompleted, res.Status)
	assert.Zero(t, res.SkippedChunks, "last record was not mapped, so the chunk is reprocessed")
	assert.Equal(t, int64(9), res.Inserted)
	assert.Equal(t, int64(1), res.Reused)
	assert.Equal(t, int64(10), rowCount(t, target, kind.BlobValues))
}

func TestRun_StrictResumeChecksEveryRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := seed(10)
	target := setupTarget(t)

	// Map only the last record: the default heuristic would skip the chunk.
	batcher := NewBatcher(target, repository.NewMappingStore(target.DB()), datastore.NewStateManager(target.DB()), nil)
	last, err := transformBlobValue(blobValue("kv0009"))
	require.NoError(t, err)
	_, err = batcher.Write(ctx, Chunk{Kind: kind.BlobValues, Offset: 9, Limit: 1}, []*TargetRecord{last})
	require.NoError(t, err)

	o := newTestOrchestrator(t, src, target, func(c *Config) {
		c.PageSize = 10
		c.StrictResume = true
	})
	run, err := o.Run(ctx, []kind.Kind{kind.BlobValues})
	require.NoError(t, err)

	res := run.Kind(kind.BlobValues)
	assert.Zero(t, res.SkippedChunks)
	assert.Equal(t, int64(9), res.Inserted)
	assert.Equal(t, int64(10), mappingCount(t, target, kind.BlobValues))
}

func TestRun_StopBetweenChunksThenResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := seed(30)
	target := setupTarget(t)

	var o *Orchestrator
	hooked := &hookedSource{Store: src, beforeFetch: func(k kind.Kind, offset int64) error {
		if k == kind.BlobValues && offset == 10 {
			o.Stop()
		}
		return nil
	}}
	o = newTestOrchestrator(t, hooked, target, func(c *Config) {
		c.PageSize = 10
		c.Concurrency = 1
	})

	run, err := o.Run(ctx, nil)
	require.NoError(t, err)
	assert.True(t, run.Cancelled())
	assert.Empty(t, run.Failed())

	blobs := run.Kind(kind.BlobValues)
	assert.True(t, blobs.Cancelled)
	assert.Equal(t, entities.KindStatusInProgress, blobs.Status)
	assert.Equal(t, int64(20), mappingCount(t, target, kind.BlobValues), "the chunk in flight commits")

	state, err := datastore.NewStateManager(target.DB()).Get(ctx, string(kind.BlobValues))
	require.NoError(t, err)
	assert.Equal(t, entities.KindStatusInProgress, state.State)

	resumed, err := newTestOrchestrator(t, src, target, func(c *Config) { c.PageSize = 10 }).Run(ctx, nil)
	require.NoError(t, err)
	require.False(t, resumed.HasErrors(), resumed.Summary())
	assert.Equal(t, 2, resumed.Kind(kind.BlobValues).SkippedChunks)
	assert.Equal(t, int64(30), mappingCount(t, target, kind.ComputedResults))
}

func TestRun_ContextCancellationRollsBackChunkInFlight(t *testing.T) {
	t.Parallel()

	src := seed(30)
	target := setupTarget(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hooked := &hookedSource{Store: src, beforeFetch: func(k kind.Kind, offset int64) error {
		if offset == 10 {
			cancel()
		}
		return nil
	}}
	o := newTestOrchestrator(t, hooked, target, func(c *Config) {
		c.PageSize = 10
		c.Concurrency = 1
	})

	run, err := o.Run(ctx, []kind.Kind{kind.BlobValues})
	require.NoError(t, err)

	res := run.Kind(kind.BlobValues)
	assert.True(t, res.Cancelled)
	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, int64(10), mappingCount(t, target, kind.BlobValues))
}

func TestRun_ReferenceIntegrity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := seed(15)
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target, func(c *Config) { c.PageSize = 4 })

	run, err := o.Run(ctx, nil)
	require.NoError(t, err)
	require.False(t, run.HasErrors(), run.Summary())

	var results []entities.Result
	require.NoError(t, target.DB().Preload("Molecule").Preload("Keywords").Preload("Stdout").Find(&results).Error)
	require.Len(t, results, 15)

	mappings := repository.NewMappingStore(target.DB())
	for _, r := range results {
		require.NotNil(t, r.Molecule)
		require.NotNil(t, r.Keywords)
		require.NotNil(t, r.Stdout)
		assert.Nil(t, r.StderrID)

		var mappedIDs []string
		require.NoError(t, target.DB().Model(&entities.IDMapping{}).
			Where("kind = ? AND target_id = ?", kind.ComputedResults, r.ID).
			Pluck("source_id", &mappedIDs).Error)
		require.Len(t, mappedIDs, 1)
		molID, found, err := mappings.Lookup(ctx, string(kind.MolecularStructures), "mol"+mappedIDs[0][3:])
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, molID, r.MoleculeID)
	}
}

func TestRun_VerifyReportsNoWarningsOnCleanRun(t *testing.T) {
	t.Parallel()

	src := seed(12)
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target, func(c *Config) {
		c.PageSize = 5
		c.Verify = true
		c.SampleSize = 4
	})

	run, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, run.HasErrors(), run.Summary())
	assert.Empty(t, run.Warnings())
}

func TestRun_RecordsMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewMigrationMetrics(registry)
	require.NoError(t, err)
	dm, err := metrics.NewDatastoreMetrics(registry)
	require.NoError(t, err)

	src := seed(25)
	target := setupTarget(t)
	o := newTestOrchestrator(t, src, target, func(c *Config) {
		c.PageSize = 10
		c.Metrics = m
		c.DatastoreMetrics = dm
	})

	_, err = o.Run(context.Background(), []kind.Kind{kind.BlobValues})
	require.NoError(t, err)
	_, err = o.Run(context.Background(), []kind.Kind{kind.BlobValues})
	require.NoError(t, err)

	assert.InDelta(t, 3.0, counterValue(t, registry, "qcmigrate_chunks_total", "blob-values", metrics.StatusCommitted), 0)
	assert.InDelta(t, 3.0, counterValue(t, registry, "qcmigrate_chunks_total", "blob-values", metrics.StatusSkipped), 0)
	assert.InDelta(t, 25.0, counterValue(t, registry, "qcmigrate_records_total", "blob-values", metrics.OutcomeInserted), 0)
	assert.InDelta(t, 3.0, counterValue(t, registry, "datastore_db_transactions_total", "blob-values", metrics.StatusCommitted), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m, "qcmigrate_kind_progress_records"))
}

// counterValue reads one counter sample by its two label values.
func counterValue(t *testing.T, registry *prometheus.Registry, name, kindLabel, second string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := metric.GetLabel()
			if len(labels) == 2 && labels[0].GetValue() == kindLabel && labels[1].GetValue() == second {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func sourceIDs(mappings []entities.IDMapping) []string {
	out := make([]string, len(mappings))
	for i, m := range mappings {
		out[i] = m.SourceID
	}
	return out
}
