package repository

import (
	"context"
	"fmt"

	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lookupBatchSize bounds the IN list of a single lookup query.
const lookupBatchSize = 500

// Pair is one source to target identifier correspondence.
type Pair struct {
	SourceID string
	TargetID uint
}

// MappingStore reads and writes the id_mappings table.
type MappingStore struct {
	db *gorm.DB
}

// NewMappingStore creates a mapping store on db.
func NewMappingStore(db *gorm.DB) *MappingStore {
	return &MappingStore{db: db}
}

// WithTx returns a store whose reads and writes run on tx.
func (s *MappingStore) WithTx(tx *gorm.DB) *MappingStore {
	return &MappingStore{db: tx}
}

// Lookup returns the target identifier for one source identifier.
func (s *MappingStore) Lookup(ctx context.Context, kind, sourceID string) (targetID uint, found bool, err error) {
	var mapping entities.IDMapping
	err = s.db.WithContext(ctx).
		Where("kind = ? AND source_id = ?", kind, sourceID).
		Limit(1).
		Find(&mapping).Error
	if err != nil {
		return 0, false, mappingError(err, "lookup", kind)
	}
	if mapping.ID == 0 {
		return 0, false, nil
	}
	return mapping.TargetID, true, nil
}

// LookupBatch returns the target identifiers of every mapped source identifier
// in sourceIDs. Unmapped identifiers are absent from the result.
func (s *MappingStore) LookupBatch(ctx context.Context, kind string, sourceIDs []string) (map[string]uint, error) {
	out := make(map[string]uint, len(sourceIDs))

	for start := 0; start < len(sourceIDs); start += lookupBatchSize {
		end := min(start+lookupBatchSize, len(sourceIDs))

		var mappings []entities.IDMapping
		err := s.db.WithContext(ctx).
			Select("source_id", "target_id").
			Where("kind = ? AND source_id IN ?", kind, sourceIDs[start:end]).
			Find(&mappings).Error
		if err != nil {
			return nil, mappingError(err, "lookup_batch", kind)
		}
		for _, m := range mappings {
			out[m.SourceID] = m.TargetID
		}
	}

	return out, nil
}

// Record maps sourceID to targetID. See RecordBatch.
func (s *MappingStore) Record(ctx context.Context, kind, sourceID string, targetID uint) error {
	return s.RecordBatch(ctx, kind, []Pair{{SourceID: sourceID, TargetID: targetID}})
}

// RecordBatch inserts mappings, skipping rows the unique index already holds.
// When some rows were skipped, the existing entries are compared with the
// requested ones and a mismatch yields DuplicateMappingError.
func (s *MappingStore) RecordBatch(ctx context.Context, kind string, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	rows := make([]entities.IDMapping, len(pairs))
	for i, p := range pairs {
		rows[i] = entities.IDMapping{Kind: kind, SourceID: p.SourceID, TargetID: p.TargetID}
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "source_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, lookupBatchSize)
	if result.Error != nil {
		return mappingError(result.Error, "record", kind)
	}
	if result.RowsAffected == int64(len(pairs)) {
		return nil
	}

	sourceIDs := make([]string, len(pairs))
	for i, p := range pairs {
		sourceIDs[i] = p.SourceID
	}
	existing, err := s.LookupBatch(ctx, kind, sourceIDs)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		current, ok := existing[p.SourceID]
		if !ok {
			return mappingError(fmt.Errorf("mapping for %s %s was neither inserted nor found", kind, p.SourceID), "record", kind)
		}
		if current != p.TargetID {
			return &DuplicateMappingError{
				Kind:             kind,
				SourceID:         p.SourceID,
				ExistingTargetID: current,
				TargetID:         p.TargetID,
			}
		}
	}
	return nil
}

// Count returns the number of mappings for kind.
func (s *MappingStore) Count(ctx context.Context, kind string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&entities.IDMapping{}).Where("kind = ?", kind).Count(&n).Error; err != nil {
		return 0, mappingError(err, "count", kind)
	}
	return n, nil
}

// Sample returns up to n mappings of kind spread evenly over insertion order,
// always including the first and last. The selection is deterministic.
func (s *MappingStore) Sample(ctx context.Context, kind string, n int) ([]entities.IDMapping, error) {
	if n <= 0 {
		return nil, nil
	}
	total, err := s.Count(ctx, kind)
	if err != nil || total == 0 {
		return nil, err
	}

	base := s.db.WithContext(ctx).Where("kind = ?", kind).Order("id")
	if total <= int64(n) {
		var all []entities.IDMapping
		if err := base.Find(&all).Error; err != nil {
			return nil, mappingError(err, "sample", kind)
		}
		return all, nil
	}

	sample := make([]entities.IDMapping, 0, n)
	for i := range n {
		offset := int64(0)
		if n > 1 {
			offset = int64(i) * (total - 1) / int64(n-1)
		}
		var m entities.IDMapping
		if err := base.Session(&gorm.Session{}).Offset(int(offset)).Limit(1).Find(&m).Error; err != nil {
			return nil, mappingError(err, "sample", kind)
		}
		if m.ID != 0 {
			sample = append(sample, m)
		}
	}
	return sample, nil
}

// DeleteKind removes every mapping of kind.
func (s *MappingStore) DeleteKind(ctx context.Context, kind string) (int64, error) {
	result := s.db.WithContext(ctx).Where("kind = ?", kind).Delete(&entities.IDMapping{})
	if result.Error != nil {
		return 0, mappingError(result.Error, "delete_kind", kind)
	}
	return result.RowsAffected, nil
}

func mappingError(err error, operation, kind string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", "mapping_"+operation).
		KindContext(kind, "").
		Build()
}
