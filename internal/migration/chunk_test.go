package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/kind"
)

func TestChunkIterator_KeywordSetsScenario(t *testing.T) {
	t.Parallel()

	it, err := NewChunkIterator(kind.KeywordSets, 250, 100)
	require.NoError(t, err)

	var got []Chunk
	for c, ok := it.Next(); ok; c, ok = it.Next() {
		got = append(got, c)
	}

	assert.Equal(t, []Chunk{
		{Kind: kind.KeywordSets, Offset: 0, Limit: 100},
		{Kind: kind.KeywordSets, Offset: 100, Limit: 100},
		{Kind: kind.KeywordSets, Offset: 200, Limit: 50},
	}, got)
	assert.Equal(t, 3, it.Len())
	assert.Equal(t, int64(250), got[2].End())
}

func TestChunkIterator_PartitionsRange(t *testing.T) {
	t.Parallel()

	for total := int64(0); total <= 60; total++ {
		for pageSize := int64(1); pageSize <= 13; pageSize++ {
			it, err := NewChunkIterator(kind.BlobValues, total, pageSize)
			require.NoError(t, err)

			next := int64(0)
			count := 0
			for c := range it.Chunks() {
				require.Equal(t, next, c.Offset, "gap or overlap at total=%d page=%d", total, pageSize)
				require.Positive(t, c.Limit)
				require.LessOrEqual(t, c.Limit, pageSize)
				next = c.End()
				count++
			}
			require.Equal(t, total, next, "total=%d page=%d", total, pageSize)
			require.Equal(t, it.Len(), count)
		}
	}
}

func TestChunkIterator_EmptyKind(t *testing.T) {
	t.Parallel()

	it, err := NewChunkIterator(kind.MolecularStructures, 0, 100)
	require.NoError(t, err)

	_, ok := it.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, it.Len())
}

func TestChunkIterator_Restartable(t *testing.T) {
	t.Parallel()

	it, err := NewChunkIterator(kind.BlobValues, 25, 10)
	require.NoError(t, err)

	first, _ := it.Next()
	second, _ := it.Next()
	it.Reset()
	again, _ := it.Next()

	assert.Equal(t, first, again)
	assert.Equal(t, int64(10), second.Offset)

	// Chunks always starts from zero, independent of Next.
	var offsets []int64
	for c := range it.Chunks() {
		offsets = append(offsets, c.Offset)
	}
	assert.Equal(t, []int64{0, 10, 20}, offsets)
}

func TestChunkIterator_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := NewChunkIterator(kind.BlobValues, 10, 0)
	require.ErrorIs(t, err, ErrInvalidPageSize)

	_, err = NewChunkIterator(kind.BlobValues, -1, 10)
	require.Error(t, err)
}
