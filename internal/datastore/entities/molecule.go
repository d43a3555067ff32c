package entities

import "time"

// Molecule is a molecular structure.
type Molecule struct {
	ID                    uint      `gorm:"primaryKey"`
	Name                  string    `gorm:"size:255"`
	Symbols               JSON      `gorm:"type:text;not null"`
	Geometry              JSON      `gorm:"type:text;not null"`
	MolecularFormula      string    `gorm:"size:255"`
	MoleculeHash          string    `gorm:"size:255;not null;index:idx_molecule_hash"`
	MolecularCharge       float64   `gorm:"not null;default:0"`
	MolecularMultiplicity int       `gorm:"not null"`
	Extras                JSON      `gorm:"type:text"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (Molecule) TableName() string {
	return "molecule"
}

// GetID returns the assigned identifier.
func (m *Molecule) GetID() uint { return m.ID }
