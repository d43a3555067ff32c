package migration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/observability/metrics"
	"github.com/tphakala/qcmigrate/internal/source"
	"gorm.io/gorm"
)

// DefaultSampleSize is the number of records the verifier re-reads per kind.
const DefaultSampleSize = 20

// ignoredColumns are assigned by the target store or exist only to declare
// foreign keys, so they never match a freshly transformed row.
var ignoredColumns = []string{"ID", "CreatedAt", "Molecule", "Keywords", "Stdout", "Stderr", "Error"}

// VerifyResult is the outcome of verifying one kind.
type VerifyResult struct {
	Kind        kind.Kind
	SourceCount int64
	MappedCount int64
	Sampled     int
	Warnings    []*ConsistencyWarning
}

// OK reports whether verification found nothing.
func (r *VerifyResult) OK() bool {
	return len(r.Warnings) == 0
}

// Verifier compares a migrated kind against its source. Findings are
// warnings; the verifier never modifies either store.
type Verifier struct {
	source     source.Store
	db         *gorm.DB
	mappings   *repository.MappingStore
	resolver   *Resolver
	sampleSize int
	metrics    *metrics.MigrationMetrics
}

// NewVerifier creates a verifier. A sampleSize of zero uses DefaultSampleSize;
// a negative sampleSize disables record comparison.
func NewVerifier(src source.Store, db *gorm.DB, resolver *Resolver, sampleSize int, m *metrics.MigrationMetrics) *Verifier {
	if sampleSize == 0 {
		sampleSize = DefaultSampleSize
	}
	return &Verifier{
		source:     src,
		db:         db,
		mappings:   repository.NewMappingStore(db),
		resolver:   resolver,
		sampleSize: sampleSize,
		metrics:    m,
	}
}

// VerifyKind compares the source count of k with its mapping count and
// compares a deterministic sample of records between the two stores.
func (v *Verifier) VerifyKind(ctx context.Context, k kind.Kind) (*VerifyResult, error) {
	spec, err := specFor(k)
	if err != nil {
		return nil, err
	}

	res := &VerifyResult{Kind: k}
	if res.SourceCount, err = v.source.Count(ctx, k); err != nil {
		return nil, fmt.Errorf("verify %s: %w", k, err)
	}
	if res.MappedCount, err = v.mappings.Count(ctx, string(k)); err != nil {
		return nil, fmt.Errorf("verify %s: %w", k, err)
	}
	if res.SourceCount != res.MappedCount {
		v.warn(res, &ConsistencyWarning{
			Kind:   k,
			Check:  CheckCount,
			Detail: fmt.Sprintf("source has %d records, %d are mapped", res.SourceCount, res.MappedCount),
		})
	}

	if v.sampleSize < 0 {
		return res, nil
	}
	sample, err := v.mappings.Sample(ctx, string(k), v.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", k, err)
	}
	if len(sample) == 0 {
		return res, nil
	}

	sourceIDs := make([]string, len(sample))
	targetIDs := make([]uint, len(sample))
	for i, m := range sample {
		sourceIDs[i] = m.SourceID
		targetIDs[i] = m.TargetID
	}
	docs, err := v.source.FetchByIDs(ctx, k, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", k, err)
	}
	rows, err := spec.load(ctx, v.db, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", k, err)
	}

	for _, m := range sample {
		res.Sampled++
		doc, ok := docs[m.SourceID]
		if !ok {
			v.warn(res, &ConsistencyWarning{Kind: k, SourceID: m.SourceID, Check: CheckMissing, Detail: "mapped record is missing from the source"})
			continue
		}
		row, ok := rows[m.TargetID]
		if !ok {
			v.warn(res, &ConsistencyWarning{Kind: k, SourceID: m.SourceID, Check: CheckMissing,
				Detail: fmt.Sprintf("target row %d is missing", m.TargetID)})
			continue
		}
		warning, err := v.compare(ctx, spec, doc, row)
		if err != nil {
			return nil, err
		}
		if warning != nil {
			v.warn(res, warning)
		}
	}
	return res, nil
}

// CheckRecord re-reads one migrated record from the target and compares it
// with its source document. It returns nil when they match.
func (v *Verifier) CheckRecord(ctx context.Context, k kind.Kind, doc source.Record, targetID uint) (*ConsistencyWarning, error) {
	spec, err := specFor(k)
	if err != nil {
		return nil, err
	}
	rows, err := spec.load(ctx, v.db, []uint{targetID})
	if err != nil {
		return nil, err
	}
	row, ok := rows[targetID]
	if !ok {
		return v.count(&ConsistencyWarning{Kind: k, SourceID: doc.ID, Check: CheckMissing,
			Detail: fmt.Sprintf("target row %d is missing after commit", targetID)}), nil
	}
	warning, err := v.compare(ctx, spec, doc, row)
	if err != nil || warning == nil {
		return nil, err
	}
	return v.count(warning), nil
}

// compare rebuilds the expected row from doc and diffs it against row.
func (v *Verifier) compare(ctx context.Context, spec *kindSpec, doc source.Record, row entities.Row) (*ConsistencyWarning, error) {
	expected, err := spec.Transform(doc)
	if err != nil {
		return &ConsistencyWarning{Kind: spec.Kind, SourceID: doc.ID, Check: CheckRecord, Detail: err.Error()}, nil
	}
	if err := v.resolver.Resolve(ctx, []*TargetRecord{expected}); err != nil {
		var unresolved *UnresolvedReferenceError
		if !errors.As(err, &unresolved) {
			return nil, err
		}
		return &ConsistencyWarning{Kind: spec.Kind, SourceID: doc.ID, Check: CheckRecord, Detail: err.Error()}, nil
	}

	want, err := canonicalRow(expected.Row)
	if err != nil {
		return nil, err
	}
	got, err := canonicalRow(row)
	if err != nil {
		return nil, err
	}
	if diff := cmp.Diff(want, got); diff != "" {
		return &ConsistencyWarning{
			Kind:     spec.Kind,
			SourceID: doc.ID,
			Check:    CheckRecord,
			Detail:   "target row differs from source (-source +target):\n" + diff,
		}, nil
	}
	return nil, nil
}

func (v *Verifier) warn(res *VerifyResult, w *ConsistencyWarning) {
	res.Warnings = append(res.Warnings, v.count(w))
}

func (v *Verifier) count(w *ConsistencyWarning) *ConsistencyWarning {
	if v.metrics != nil {
		v.metrics.RecordVerificationWarning(string(w.Kind), w.Check)
	}
	return w
}

// canonicalRow converts a row to a generic document so that rows read back
// from the database and rows built in memory compare by value.
func canonicalRow(row entities.Row) (map[string]any, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", row.TableName(), err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", row.TableName(), err)
	}
	for _, col := range ignoredColumns {
		delete(out, col)
	}
	return out, nil
}
