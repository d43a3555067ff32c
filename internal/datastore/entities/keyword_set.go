package entities

import "time"

// KeywordSet is a named set of program keywords. HashIndex is unique.
type KeywordSet struct {
	ID          uint      `gorm:"primaryKey"`
	HashIndex   string    `gorm:"size:255;not null;uniqueIndex:idx_keywords_hash_index"`
	Values      JSON      `gorm:"type:text;not null"`
	Lowercase   bool      `gorm:"not null"`
	ExactFloats bool      `gorm:"not null;default:false"`
	Comments    *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (KeywordSet) TableName() string {
	return "keywords"
}

// GetID returns the assigned identifier.
func (k *KeywordSet) GetID() uint { return k.ID }
