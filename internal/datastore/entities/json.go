package entities

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON stores an arbitrary document fragment as text. Source documents are
// loosely typed, so nested values are carried verbatim rather than normalized.
type JSON json.RawMessage

// NewJSON marshals v; a nil v yields a NULL column.
func NewJSON(v any) (JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return JSON(data), nil
}

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", value)
	}
	return nil
}

// MarshalJSON keeps the stored fragment as-is when rows are serialized.
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// Equal compares two fragments semantically, ignoring key order and whitespace.
func (j JSON) Equal(other JSON) bool {
	if len(j) == 0 || len(other) == 0 {
		return len(j) == len(other)
	}
	if bytes.Equal(j, other) {
		return true
	}
	var a, b any
	if json.Unmarshal(j, &a) != nil || json.Unmarshal(other, &b) != nil {
		return false
	}
	ca, _ := json.Marshal(a)
	cb, _ := json.Marshal(b)
	return bytes.Equal(ca, cb)
}
