package entities

import "time"

// IDMapping records which target row a source document became.
// (Kind, SourceID) is unique: it is the idempotency anchor of the migration.
type IDMapping struct {
	ID        uint      `gorm:"primaryKey"`
	Kind      string    `gorm:"size:64;not null;uniqueIndex:idx_mapping_kind_source,priority:1"`
	SourceID  string    `gorm:"size:128;not null;uniqueIndex:idx_mapping_kind_source,priority:2"`
	TargetID  uint      `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (IDMapping) TableName() string {
	return "id_mappings"
}
