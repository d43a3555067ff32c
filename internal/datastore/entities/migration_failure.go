package entities

import "time"

// MigrationFailure records a source document that stopped its kind, so an
// operator can inspect it before resetting or resuming.
type MigrationFailure struct {
	ID        uint      `gorm:"primaryKey"`
	Kind      string    `gorm:"size:64;not null;index:idx_failure_kind"`
	SourceID  string    `gorm:"size:128"`
	ChunkFrom int64     `gorm:"not null"`
	Reason    string    `gorm:"size:64;not null"`
	Message   string    `gorm:"type:text"`
	RunID     string    `gorm:"size:36"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (MigrationFailure) TableName() string {
	return "migration_failures"
}
