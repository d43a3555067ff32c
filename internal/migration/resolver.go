package migration

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/observability/metrics"
)

const (
	resolverCacheTTL     = 30 * time.Minute
	resolverCacheCleanup = 10 * time.Minute
	resolverCacheLimit   = 200_000
)

// MappingReader looks up committed identifier mappings.
type MappingReader interface {
	LookupBatch(ctx context.Context, kind string, sourceIDs []string) (map[string]uint, error)
}

// Resolver rewrites reference fields from source to target identifiers.
// Mapping entries never change once written, so resolved pairs are cached
// across chunks; misses are always read from the store.
type Resolver struct {
	mappings MappingReader
	cache    *cache.Cache
	metrics  *metrics.MigrationMetrics
}

// NewResolver creates a resolver reading from mappings. m may be nil.
func NewResolver(mappings MappingReader, m *metrics.MigrationMetrics) *Resolver {
	return &Resolver{
		mappings: mappings,
		cache:    cache.New(resolverCacheTTL, resolverCacheCleanup),
		metrics:  m,
	}
}

func cacheKey(k kind.Kind, sourceID string) string {
	return string(k) + "/" + sourceID
}

// Resolve assigns target identifiers to every non-empty reference of records,
// issuing at most one batched lookup per referenced kind. It fails with
// UnresolvedReferenceError on the first reference without a mapping.
func (r *Resolver) Resolve(ctx context.Context, records []*TargetRecord) error {
	resolved := make(map[kind.Kind]map[string]uint)
	pending := make(map[kind.Kind][]string)
	queued := make(map[string]bool)
	hits := make(map[kind.Kind]int)

	for _, rec := range records {
		for _, ref := range rec.Refs {
			if ref.SourceID == "" {
				continue
			}
			ids, ok := resolved[ref.Kind]
			if !ok {
				ids = make(map[string]uint)
				resolved[ref.Kind] = ids
			}
			key := cacheKey(ref.Kind, ref.SourceID)
			if _, seen := ids[ref.SourceID]; seen || queued[key] {
				continue
			}
			if v, found := r.cache.Get(key); found {
				ids[ref.SourceID] = v.(uint)
				hits[ref.Kind]++
				continue
			}
			queued[key] = true
			pending[ref.Kind] = append(pending[ref.Kind], ref.SourceID)
		}
	}

	for _, k := range slices.Sorted(maps.Keys(pending)) {
		found, err := r.mappings.LookupBatch(ctx, string(k), pending[k])
		if err != nil {
			return fmt.Errorf("resolve %s references: %w", k, err)
		}
		r.remember(k, found)
		for sourceID, targetID := range found {
			resolved[k][sourceID] = targetID
		}
		r.record(k, metrics.CacheMiss, len(pending[k]))
	}
	for k, n := range hits {
		r.record(k, metrics.CacheHit, n)
	}

	for _, rec := range records {
		for _, ref := range rec.Refs {
			if ref.SourceID == "" {
				continue
			}
			targetID, ok := resolved[ref.Kind][ref.SourceID]
			if !ok {
				return &UnresolvedReferenceError{
					Kind:         ref.Kind,
					SourceID:     ref.SourceID,
					Field:        ref.Field,
					ReferencedBy: rec.SourceID,
				}
			}
			ref.resolve(targetID)
		}
	}
	return nil
}

func (r *Resolver) remember(k kind.Kind, found map[string]uint) {
	if r.cache.ItemCount()+len(found) > resolverCacheLimit {
		r.cache.Flush()
	}
	for sourceID, targetID := range found {
		r.cache.SetDefault(cacheKey(k, sourceID), targetID)
	}
}

// Flush drops every cached mapping. Orchestrator.Run calls it first, since
// mappings may have been deleted by a reset since the previous run.
func (r *Resolver) Flush() {
	r.cache.Flush()
}

// Forget drops cached mappings of k. Orchestrator.Reset calls it for every
// kind it rewinds.
func (r *Resolver) Forget(k kind.Kind) {
	prefix := string(k) + "/"
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			r.cache.Delete(key)
		}
	}
}

func (r *Resolver) record(k kind.Kind, result string, n int) {
	if r.metrics != nil {
		r.metrics.RecordResolverLookup(string(k), result, n)
	}
}
