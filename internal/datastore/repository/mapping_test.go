package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupMappingStore(t *testing.T) (*MappingStore, *gorm.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "mappings.db")
	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=ON"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.IDMapping{}))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return NewMappingStore(db), db
}

func TestMappingStore_RecordAndLookup(t *testing.T) {
	store, _ := setupMappingStore(t)
	ctx := context.Background()

	_, found, err := store.Lookup(ctx, "keyword-sets", "k1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Record(ctx, "keyword-sets", "k1", 7))

	target, found, err := store.Lookup(ctx, "keyword-sets", "k1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint(7), target)
}

func TestMappingStore_RecordIdenticalIsNoop(t *testing.T) {
	store, _ := setupMappingStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "keyword-sets", "k1", 7))
	require.NoError(t, store.Record(ctx, "keyword-sets", "k1", 7))

	n, err := store.Count(ctx, "keyword-sets")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMappingStore_RecordDifferentTargetFails(t *testing.T) {
	store, _ := setupMappingStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "keyword-sets", "k1", 7))

	err := store.RecordBatch(ctx, "keyword-sets", []Pair{{SourceID: "k2", TargetID: 8}, {SourceID: "k1", TargetID: 9}})
	var dup *DuplicateMappingError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "k1", dup.SourceID)
	assert.Equal(t, uint(7), dup.ExistingTargetID)
	assert.Equal(t, uint(9), dup.TargetID)
	assert.False(t, dup.Retryable())
	assert.True(t, errors.IsCategory(err, errors.CategoryIntegrity))
}

func TestMappingStore_KindsDoNotCollide(t *testing.T) {
	store, _ := setupMappingStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "blob-values", "same-id", 1))
	require.NoError(t, store.Record(ctx, "keyword-sets", "same-id", 2))

	blob, _, err := store.Lookup(ctx, "blob-values", "same-id")
	require.NoError(t, err)
	kw, _, err := store.Lookup(ctx, "keyword-sets", "same-id")
	require.NoError(t, err)
	assert.Equal(t, uint(1), blob)
	assert.Equal(t, uint(2), kw)
}

func TestMappingStore_LookupBatchSpansQueries(t *testing.T) {
	store, _ := setupMappingStore(t)
	ctx := context.Background()

	const n = lookupBatchSize + 20
	pairs := make([]Pair, n)
	ids := make([]string, 0, n+1)
	for i := range n {
		pairs[i] = Pair{SourceID: fmt.Sprintf("s%04d", i), TargetID: uint(i + 1)}
		ids = append(ids, pairs[i].SourceID)
	}
	require.NoError(t, store.RecordBatch(ctx, "molecular-structures", pairs))

	got, err := store.LookupBatch(ctx, "molecular-structures", append(ids, "missing"))
	require.NoError(t, err)
	assert.Len(t, got, n)
	assert.Equal(t, uint(n), got[fmt.Sprintf("s%04d", n-1)])
	assert.NotContains(t, got, "missing")
}

func TestMappingStore_WithTxRollsBack(t *testing.T) {
	store, db := setupMappingStore(t)
	ctx := context.Background()

	tx := db.Begin()
	require.NoError(t, store.WithTx(tx).Record(ctx, "blob-values", "b1", 1))
	require.NoError(t, tx.Rollback().Error)

	_, found, err := store.Lookup(ctx, "blob-values", "b1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMappingStore_SampleAndDelete(t *testing.T) {
	store, _ := setupMappingStore(t)
	ctx := context.Background()

	pairs := make([]Pair, 10)
	for i := range pairs {
		pairs[i] = Pair{SourceID: fmt.Sprintf("r%02d", i), TargetID: uint(100 + i)}
	}
	require.NoError(t, store.RecordBatch(ctx, "computed-results", pairs))

	sample, err := store.Sample(ctx, "computed-results", 3)
	require.NoError(t, err)
	require.Len(t, sample, 3)
	assert.Equal(t, "r00", sample[0].SourceID)
	assert.Equal(t, "r09", sample[2].SourceID)

	all, err := store.Sample(ctx, "computed-results", 50)
	require.NoError(t, err)
	assert.Len(t, all, 10)

	deleted, err := store.DeleteKind(ctx, "computed-results")
	require.NoError(t, err)
	assert.Equal(t, int64(10), deleted)

	n, err := store.Count(ctx, "computed-results")
	require.NoError(t, err)
	assert.Zero(t, n)
}
