package entities

import "time"

// KindStatus represents the lifecycle state of one entity kind.
type KindStatus string

const (
	KindStatusNotStarted KindStatus = "not_started"
	KindStatusInProgress KindStatus = "in_progress"
	KindStatusCompleted  KindStatus = "completed"
	KindStatusFailed     KindStatus = "failed"
)

// KindState tracks migration progress for one entity kind.
// LastOffset is the end of the highest chunk known to be fully migrated and
// only moves forward; an operator reset deletes the row.
type KindState struct {
	Kind            string     `gorm:"primaryKey;size:64"`
	State           KindStatus `gorm:"type:varchar(20);not null;default:'not_started'"`
	RunID           string     `gorm:"size:36"`
	TotalRecords    int64      `gorm:"default:0"`
	MigratedRecords int64      `gorm:"default:0"` // rows inserted
	ReusedRecords   int64      `gorm:"default:0"` // rows already mapped when their chunk was reprocessed
	SkippedChunks   int64      `gorm:"default:0"`
	LastOffset      int64      `gorm:"default:0"`
	ErrorMessage    string     `gorm:"type:text"`
	StartedAt       *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (KindState) TableName() string {
	return "migration_kind_states"
}

// Progress returns the fraction of source records covered, as a percentage.
func (s *KindState) Progress() float64 {
	if s.TotalRecords == 0 {
		if s.State == KindStatusCompleted {
			return 100
		}
		return 0
	}
	return float64(min(s.LastOffset, s.TotalRecords)) / float64(s.TotalRecords) * 100
}

// IsTerminal reports whether the kind finished, successfully or not.
func (s *KindState) IsTerminal() bool {
	return s.State == KindStatusCompleted || s.State == KindStatusFailed
}
