package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleRun is returned when a transition names a run that no longer owns the kind.
var ErrStaleRun = errors.NewStd("kind is owned by another run")

// StateManager persists the lifecycle of each entity kind.
// Transitions are conditional SQL updates keyed on the current state and run
// id. Start takes over an in_progress kind, which is how an interrupted run
// resumes; from then on the previous run can no longer complete or fail it
// (ErrStaleRun). Running two processes on the same kind at once is not
// prevented here.
type StateManager struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewStateManager creates a kind state manager.
func NewStateManager(db *gorm.DB) *StateManager {
	return &StateManager{db: db}
}

// Get returns the state of kind. A kind never started has no row and is
// reported as not_started.
func (m *StateManager) Get(ctx context.Context, kind string) (*entities.KindState, error) {
	var state entities.KindState
	err := m.db.WithContext(ctx).Where("kind = ?", kind).Limit(1).Find(&state).Error
	if err != nil {
		return nil, dbError(err, "get_kind_state", "", "entity_kind", kind)
	}
	if state.Kind == "" {
		return &entities.KindState{Kind: kind, State: entities.KindStatusNotStarted}, nil
	}
	return &state, nil
}

// List returns every persisted kind state ordered by kind.
func (m *StateManager) List(ctx context.Context) ([]entities.KindState, error) {
	var states []entities.KindState
	if err := m.db.WithContext(ctx).Order("kind").Find(&states).Error; err != nil {
		return nil, dbError(err, "list_kind_states", "")
	}
	return states, nil
}

// Start moves kind to in_progress for runID. Every state may restart:
// completed kinds re-run as a no-op pass, failed and in_progress kinds resume.
// Counters are reset because the pass re-derives progress from offset zero.
func (m *StateManager) Start(ctx context.Context, kind, runID string, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	db := m.db.WithContext(ctx)

	seed := entities.KindState{Kind: kind, State: entities.KindStatusNotStarted}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return dbError(err, "seed_kind_state", "", "entity_kind", kind)
	}

	now := time.Now()
	updates := map[string]any{
		"state":            entities.KindStatusInProgress,
		"run_id":           runID,
		"total_records":    total,
		"migrated_records": 0,
		"reused_records":   0,
		"skipped_chunks":   0,
		"last_offset":      0,
		"error_message":    "",
		"started_at":       &now,
		"completed_at":     nil,
	}

	startable := []entities.KindStatus{
		entities.KindStatusNotStarted,
		entities.KindStatusInProgress,
		entities.KindStatusCompleted,
		entities.KindStatusFailed,
	}

	result := db.Model(&entities.KindState{}).
		Where("kind = ? AND state IN ?", kind, startable).
		Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, "start_kind", "", "entity_kind", kind)
	}
	if result.RowsAffected == 0 {
		current, err := m.Get(ctx, kind)
		if err != nil {
			return err
		}
		return stateError(fmt.Errorf("cannot start %s: current state is %s", kind, current.State), "start_kind", kind)
	}
	return nil
}

// SetTotal records the source record count of an in_progress kind owned by runID.
func (m *StateManager) SetTotal(ctx context.Context, kind, runID string, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.db.WithContext(ctx).Model(&entities.KindState{}).
		Where("kind = ? AND state = ? AND run_id = ?", kind, entities.KindStatusInProgress, runID).
		Update("total_records", total)
	if result.Error != nil {
		return dbError(result.Error, "set_kind_total", "", "entity_kind", kind)
	}
	if result.RowsAffected == 0 {
		return stateError(fmt.Errorf("cannot set total of %s: %w", kind, ErrStaleRun), "set_kind_total", kind)
	}
	return nil
}

// Complete moves kind from in_progress to completed. Only the owning run may complete it.
func (m *StateManager) Complete(ctx context.Context, kind, runID string) error {
	now := time.Now()
	return m.finish(ctx, kind, runID, entities.KindStatusCompleted, map[string]any{
		"state":         entities.KindStatusCompleted,
		"completed_at":  &now,
		"error_message": "",
	})
}

// Fail moves kind from in_progress to failed and records the reason.
func (m *StateManager) Fail(ctx context.Context, kind, runID, message string) error {
	return m.finish(ctx, kind, runID, entities.KindStatusFailed, map[string]any{
		"state":         entities.KindStatusFailed,
		"error_message": message,
	})
}

func (m *StateManager) finish(ctx context.Context, kind, runID string, to entities.KindStatus, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.db.WithContext(ctx).Model(&entities.KindState{}).
		Where("kind = ? AND state = ? AND run_id = ?", kind, entities.KindStatusInProgress, runID).
		Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, "finish_kind", "", "entity_kind", kind)
	}

	if result.RowsAffected == 0 {
		current, err := m.Get(ctx, kind)
		if err != nil {
			return err
		}
		if current.State == entities.KindStatusInProgress && current.RunID != runID {
			return stateError(fmt.Errorf("cannot transition %s to %s: %w", kind, to, ErrStaleRun), "finish_kind", kind)
		}
		return stateError(fmt.Errorf("cannot transition %s to %s: current state is %s, expected %s",
			kind, to, current.State, entities.KindStatusInProgress), "finish_kind", kind)
	}
	return nil
}

// AdvanceProgress records a committed chunk. It must run on the chunk's
// transaction so progress commits atomically with the rows and mappings.
// LastOffset only moves forward.
func (m *StateManager) AdvanceProgress(tx *gorm.DB, kind string, chunkEnd, inserted, reused int64) error {
	return tx.Model(&entities.KindState{}).
		Where("kind = ?", kind).
		Updates(map[string]any{
			"migrated_records": gorm.Expr("migrated_records + ?", inserted),
			"reused_records":   gorm.Expr("reused_records + ?", reused),
			"last_offset":      gorm.Expr("CASE WHEN last_offset < ? THEN ? ELSE last_offset END", chunkEnd, chunkEnd),
		}).Error
}

// RecordSkip records a chunk that resume found already migrated.
func (m *StateManager) RecordSkip(ctx context.Context, kind string, chunkEnd int64) error {
	err := m.db.WithContext(ctx).Model(&entities.KindState{}).
		Where("kind = ?", kind).
		Updates(map[string]any{
			"skipped_chunks": gorm.Expr("skipped_chunks + ?", 1),
			"last_offset":    gorm.Expr("CASE WHEN last_offset < ? THEN ? ELSE last_offset END", chunkEnd, chunkEnd),
		}).Error
	if err != nil {
		return dbError(err, "record_skip", "", "entity_kind", kind)
	}
	return nil
}

// AllCompleted reports whether every kind in kinds is completed and returns
// the ones that are not.
func (m *StateManager) AllCompleted(ctx context.Context, kinds []string) (bool, []string, error) {
	if len(kinds) == 0 {
		return true, nil, nil
	}

	var done []string
	err := m.db.WithContext(ctx).Model(&entities.KindState{}).
		Where("kind IN ? AND state = ?", kinds, entities.KindStatusCompleted).
		Pluck("kind", &done).Error
	if err != nil {
		return false, nil, dbError(err, "check_dependencies", "")
	}

	completed := make(map[string]struct{}, len(done))
	for _, k := range done {
		completed[k] = struct{}{}
	}
	var pending []string
	for _, k := range kinds {
		if _, ok := completed[k]; !ok {
			pending = append(pending, k)
		}
	}
	return len(pending) == 0, pending, nil
}

// Reset deletes the state of kind, returning it to not_started. It runs on
// the caller's transaction so a reset commits together with the data it removes.
func (m *StateManager) Reset(tx *gorm.DB, kind string) error {
	if err := tx.Where("kind = ?", kind).Delete(&entities.KindState{}).Error; err != nil {
		return dbError(err, "reset_kind_state", "", "entity_kind", kind)
	}
	return nil
}

// RecordFailure stores the source record that stopped kind.
func (m *StateManager) RecordFailure(ctx context.Context, failure *entities.MigrationFailure) error {
	if err := m.db.WithContext(ctx).Create(failure).Error; err != nil {
		return dbError(err, "record_failure", "", "entity_kind", failure.Kind)
	}
	return nil
}

// Failures returns recorded failures for kind, newest first. An empty kind lists all.
func (m *StateManager) Failures(ctx context.Context, kind string, limit int) ([]entities.MigrationFailure, error) {
	q := m.db.WithContext(ctx).Order("id DESC")
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var failures []entities.MigrationFailure
	if err := q.Find(&failures).Error; err != nil {
		return nil, dbError(err, "list_failures", "")
	}
	return failures, nil
}
