package entities

import "time"

// Result is a computed result. It references a molecule (required), a keyword
// set and up to three blob values holding captured output.
type Result struct {
	ID         uint    `gorm:"primaryKey"`
	Program    string  `gorm:"size:100;not null"`
	Driver     string  `gorm:"size:100;not null"`
	Method     string  `gorm:"size:100;not null"`
	Basis      *string `gorm:"size:100"`
	MoleculeID uint    `gorm:"not null;index"`
	KeywordsID *uint   `gorm:"index"`
	StdoutID   *uint
	StderrID   *uint
	ErrorID    *uint
	Status     string `gorm:"size:32;not null;default:'COMPLETE'"`
	HashIndex  string `gorm:"size:255;index"`

	ReturnResult JSON `gorm:"type:text"`
	Properties   JSON `gorm:"type:text"`
	Extras       JSON `gorm:"type:text"`

	CreatedAt time.Time `gorm:"autoCreateTime"`

	// Associations exist only to declare foreign keys; inserts omit them.
	Molecule *Molecule     `gorm:"foreignKey:MoleculeID;constraint:OnDelete:RESTRICT"`
	Keywords *KeywordSet   `gorm:"foreignKey:KeywordsID;constraint:OnDelete:RESTRICT"`
	Stdout   *KVStoreEntry `gorm:"foreignKey:StdoutID;constraint:OnDelete:RESTRICT"`
	Stderr   *KVStoreEntry `gorm:"foreignKey:StderrID;constraint:OnDelete:RESTRICT"`
	Error    *KVStoreEntry `gorm:"foreignKey:ErrorID;constraint:OnDelete:RESTRICT"`
}

// TableName returns the table name for GORM.
func (Result) TableName() string {
	return "result"
}

// GetID returns the assigned identifier.
func (r *Result) GetID() uint { return r.ID }
