package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/source"
)

func newTestBatcher(target *datastore.SQLiteManager) *Batcher {
	return NewBatcher(target, repository.NewMappingStore(target.DB()), datastore.NewStateManager(target.DB()), nil)
}

func blobTargets(t *testing.T, ids ...string) []*TargetRecord {
	t.Helper()
	records := make([]source.Record, len(ids))
	for i, id := range ids {
		records[i] = blobValue(id)
	}
	out, err := TransformAll(transformBlobValue, records)
	require.NoError(t, err)
	return out
}

func TestBatcher_ReturnsIDsInInputOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := setupTarget(t)
	b := newTestBatcher(target)
	chunk := Chunk{Kind: kind.BlobValues, Offset: 0, Limit: 3}

	res, err := b.Write(ctx, chunk, blobTargets(t, "kv-c", "kv-a", "kv-b"))
	require.NoError(t, err)
	require.Len(t, res.TargetIDs, 3)
	assert.Equal(t, 3, res.Inserted)

	mappings := repository.NewMappingStore(target.DB())
	for i, id := range []string{"kv-c", "kv-a", "kv-b"} {
		got, found, err := mappings.Lookup(ctx, string(kind.BlobValues), id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, res.TargetIDs[i], got)
	}
}

func TestBatcher_SecondWriteReusesMappings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := setupTarget(t)
	b := newTestBatcher(target)
	chunk := Chunk{Kind: kind.BlobValues, Offset: 0, Limit: 2}

	first, err := b.Write(ctx, chunk, blobTargets(t, "kv1", "kv2"))
	require.NoError(t, err)
	second, err := b.Write(ctx, chunk, blobTargets(t, "kv1", "kv2"))
	require.NoError(t, err)

	assert.Equal(t, first.TargetIDs, second.TargetIDs)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 2, second.Reused)
	assert.Equal(t, int64(2), rowCount(t, target, kind.BlobValues))
}

func TestBatcher_FailureCommitsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := setupTarget(t)
	b := newTestBatcher(target)

	records, err := TransformAll(transformKeywordSet, []source.Record{
		keywordSet("kw1", "same"),
		keywordSet("kw2", "other"),
		keywordSet("kw3", "same"),
	})
	require.NoError(t, err)

	_, err = b.Write(ctx, Chunk{Kind: kind.KeywordSets, Offset: 0, Limit: 3}, records)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, datastore.ReasonUniqueViolation, txErr.Reason)
	assert.True(t, IsRetryable(err))
	assert.Zero(t, mappingCount(t, target, kind.KeywordSets))
	assert.Zero(t, rowCount(t, target, kind.KeywordSets))
}

func TestBatcher_CancelledContext(t *testing.T) {
	t.Parallel()

	target := setupTarget(t)
	b := newTestBatcher(target)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Write(ctx, Chunk{Kind: kind.BlobValues, Offset: 0, Limit: 1}, blobTargets(t, "kv1"))
	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, datastore.ReasonCancelled, txErr.Reason)
}
