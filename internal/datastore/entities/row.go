package entities

// Row is implemented by every migrated record type. The migration engine
// handles rows generically and needs the table and the assigned identifier.
type Row interface {
	TableName() string
	GetID() uint
}
