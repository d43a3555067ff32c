package source

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/tphakala/qcmigrate/internal/kind"
)

// MemoryStore is an in-process Store. It backs fixture files and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[kind.Kind][]Record // sorted by ID
	fetches map[kind.Kind]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[kind.Kind][]Record),
		fetches: make(map[kind.Kind]int),
	}
}

// Put adds or replaces records of kind, keeping identifier order.
func (s *MemoryStore) Put(k kind.Kind, records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.records[k]
	for _, r := range records {
		r = Record{ID: r.ID, Fields: normalizeMap(r.Fields)}
		idx, found := slices.BinarySearchFunc(existing, r.ID, func(e Record, id string) int {
			return strings.Compare(e.ID, id)
		})
		if found {
			existing[idx] = r
			continue
		}
		existing = slices.Insert(existing, idx, r)
	}
	s.records[k] = existing
}

// Count returns the number of records of kind.
func (s *MemoryStore) Count(_ context.Context, k kind.Kind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records[k])), nil
}

// FetchPage returns copies of one page of records.
func (s *MemoryStore) FetchPage(ctx context.Context, k kind.Kind, offset, limit int64) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[k]++

	all := s.records[k]
	if offset >= int64(len(all)) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, int64(len(all)))

	page := make([]Record, 0, end-offset)
	for _, r := range all[offset:end] {
		page = append(page, r.Clone())
	}
	return page, nil
}

// FetchByIDs returns copies of the requested records.
func (s *MemoryStore) FetchByIDs(ctx context.Context, k kind.Kind, ids []string) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.records[k]
	out := make(map[string]Record, len(ids))
	for _, id := range ids {
		idx, found := slices.BinarySearchFunc(all, id, func(e Record, id string) int {
			return strings.Compare(e.ID, id)
		})
		if found {
			out[id] = all[idx].Clone()
		}
	}
	return out, nil
}

// Fetches returns how many pages of kind have been read.
func (s *MemoryStore) Fetches(k kind.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches[k]
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close(context.Context) error { return nil }
