package entities

import "time"

// KVStoreEntry is a blob value such as captured program output.
type KVStoreEntry struct {
	ID        uint      `gorm:"primaryKey"`
	Value     JSON      `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (KVStoreEntry) TableName() string {
	return "kv_store"
}

// GetID returns the assigned identifier.
func (e *KVStoreEntry) GetID() uint { return e.ID }
