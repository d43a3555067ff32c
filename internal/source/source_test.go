package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/conf"
	"github.com/tphakala/qcmigrate/internal/kind"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNormalize_ConvertsDriverTypes(t *testing.T) {
	t.Parallel()

	oid := primitive.NewObjectID()
	when := time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC)

	doc := bson.M{
		"_id":      oid,
		"molecule": oid,
		"created":  primitive.NewDateTimeFromTime(when),
		"charge":   int32(-1),
		"nested":   bson.D{{Key: "basis", Value: "sto-3g"}, {Key: "ids", Value: bson.A{oid, int32(2)}}},
		"missing":  primitive.Null{},
	}

	r, err := recordFromDocument(doc)
	require.NoError(t, err)

	assert.Equal(t, oid.Hex(), r.ID)
	assert.NotContains(t, r.Fields, IDField)
	assert.Equal(t, oid.Hex(), r.Fields["molecule"])
	created, ok := r.Fields["created"].(time.Time)
	require.True(t, ok)
	assert.True(t, when.Equal(created))
	assert.Equal(t, int64(-1), r.Fields["charge"])
	assert.Equal(t, map[string]any{"basis": "sto-3g", "ids": []any{oid.Hex(), int64(2)}}, r.Fields["nested"])

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRecordFromDocument_RequiresID(t *testing.T) {
	t.Parallel()

	_, err := recordFromDocument(map[string]any{"value": 1})
	require.Error(t, err)
}

func TestMemoryStore_PagesAreOrderedAndStable(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	for _, id := range []string{"c", "a", "e", "b", "d"} {
		store.Put(kind.KeywordSets, Record{ID: id, Fields: map[string]any{"hash_index": id}})
	}
	ctx := context.Background()

	n, err := store.Count(ctx, kind.KeywordSets)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	first, err := store.FetchPage(ctx, kind.KeywordSets, 0, 2)
	require.NoError(t, err)
	again, err := store.FetchPage(ctx, kind.KeywordSets, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, "a", first[0].ID)
	assert.Equal(t, "b", first[1].ID)

	last, err := store.FetchPage(ctx, kind.KeywordSets, 4, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "e", last[0].ID)

	past, err := store.FetchPage(ctx, kind.KeywordSets, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, past)
	assert.Equal(t, 4, store.Fetches(kind.KeywordSets))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(kind.BlobValues, Record{ID: "b1", Fields: map[string]any{"value": "x"}})

	page, err := store.FetchPage(context.Background(), kind.BlobValues, 0, 1)
	require.NoError(t, err)
	page[0].Fields["value"] = "mutated"

	byID, err := store.FetchByIDs(context.Background(), kind.BlobValues, []string{"b1", "nope"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "x", byID["b1"].Fields["value"])
}

func TestMemoryStore_HonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryStore().FetchPage(ctx, kind.BlobValues, 0, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadFixture(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fixture.yaml")
	content := `
kinds:
  molecule:
    - _id: m2
      symbols: [He]
      molecular_charge: 0
    - _id: m1
      symbols: [Ne]
      extras: {source: test}
  keyword-sets:
    - _id: 17
      hash_index: abc
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := LoadFixture(path)
	require.NoError(t, err)

	page, err := store.FetchPage(context.Background(), kind.MolecularStructures, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "m1", page[0].ID)
	assert.Equal(t, []any{"Ne"}, page[0].Fields["symbols"])
	assert.Equal(t, map[string]any{"source": "test"}, page[0].Fields["extras"])
	assert.Equal(t, int64(0), page[1].Fields["molecular_charge"])

	kw, err := store.FetchByIDs(context.Background(), kind.KeywordSets, []string{"17"})
	require.NoError(t, err)
	assert.Contains(t, kw, "17")
}

func TestParseFixture_RejectsUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := ParseFixture([]byte("kinds:\n  spectra:\n    - _id: s1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%q", "spectra"))
}

func TestOpen_Fixture(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kinds:\n  kv_store:\n    - _id: kv1\n      value: 42\n"), 0o600))

	store, err := Open(context.Background(), &conf.SourceSettings{Type: conf.SourceFixture, Fixture: path})
	require.NoError(t, err)
	defer func() { _ = store.Close(context.Background()) }()

	n, err := store.Count(context.Background(), kind.BlobValues)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpen_Rejects(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), &conf.SourceSettings{Type: "couchdb"})
	require.Error(t, err)

	_, err = Open(context.Background(), &conf.SourceSettings{
		Type:        conf.SourceMongo,
		URI:         "mongodb://localhost:27017",
		Database:    "qcfractal",
		Collections: map[string]string{"spectra": "spectra"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spectra")
}
