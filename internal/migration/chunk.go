package migration

import (
	"fmt"
	"iter"

	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/kind"
)

// ErrInvalidPageSize is returned for page sizes below one.
var ErrInvalidPageSize = errors.NewStd("page size must be at least 1")

// Chunk is one page of a kind's source collection. It can be refetched from
// Offset and Limit alone.
type Chunk struct {
	Kind   kind.Kind
	Offset int64
	Limit  int64
}

// End returns the exclusive upper bound of the chunk.
func (c Chunk) End() int64 {
	return c.Offset + c.Limit
}

func (c Chunk) String() string {
	return fmt.Sprintf("%s[%d:%d)", c.Kind, c.Offset, c.End())
}

// ChunkIterator partitions [0, total) into fixed-size chunks. The last chunk
// is shortened to end exactly at total.
type ChunkIterator struct {
	kind     kind.Kind
	total    int64
	pageSize int64
	next     int64
}

// NewChunkIterator returns an iterator over total records in pages of pageSize.
func NewChunkIterator(k kind.Kind, total, pageSize int64) (*ChunkIterator, error) {
	if pageSize < 1 {
		return nil, ErrInvalidPageSize
	}
	if total < 0 {
		return nil, fmt.Errorf("record count for %s is negative: %d", k, total)
	}
	return &ChunkIterator{kind: k, total: total, pageSize: pageSize}, nil
}

// Next returns the next chunk, or false once the range is exhausted.
func (it *ChunkIterator) Next() (Chunk, bool) {
	if it.next >= it.total {
		return Chunk{}, false
	}
	c := it.at(it.next)
	it.next = c.End()
	return c, true
}

// Reset rewinds the iterator to offset zero.
func (it *ChunkIterator) Reset() {
	it.next = 0
}

// Len returns the number of chunks covering the range.
func (it *ChunkIterator) Len() int {
	return int((it.total + it.pageSize - 1) / it.pageSize)
}

// Chunks yields every chunk from offset zero. It does not consume the
// iterator's own position, so it can be ranged over repeatedly.
func (it *ChunkIterator) Chunks() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for offset := int64(0); offset < it.total; offset += it.pageSize {
			if !yield(it.at(offset)) {
				return
			}
		}
	}
}

func (it *ChunkIterator) at(offset int64) Chunk {
	return Chunk{
		Kind:   it.kind,
		Offset: offset,
		Limit:  min(it.pageSize, it.total-offset),
	}
}
