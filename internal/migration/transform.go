package migration

import (
	"fmt"
	"maps"
	"math"
	"strconv"

	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/source"
)

// Reference is a field of a transformed record that still holds a source
// identifier of another kind. The resolver assigns the target identifier.
type Reference struct {
	Field    string
	Kind     kind.Kind
	SourceID string // empty when the field is null or absent
	Required bool
	TargetID uint

	set func(uint)
}

// Resolved reports whether the reference has a target identifier.
func (r *Reference) Resolved() bool {
	return r.TargetID != 0
}

func (r *Reference) resolve(targetID uint) {
	r.TargetID = targetID
	r.set(targetID)
}

// TargetRecord is a source record reshaped into its target row.
type TargetRecord struct {
	SourceID string
	Row      entities.Row
	Refs     []*Reference
}

// TransformFunc reshapes one source record. It must not read any store.
type TransformFunc func(rec source.Record) (*TargetRecord, error)

// TransformAll applies fn to every record, stopping at the first error.
func TransformAll(fn TransformFunc, records []source.Record) ([]*TargetRecord, error) {
	out := make([]*TargetRecord, 0, len(records))
	for _, rec := range records {
		tr, err := fn(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func transformBlobValue(rec source.Record) (*TargetRecord, error) {
	f := newFieldReader(kind.BlobValues, rec)
	row := &entities.KVStoreEntry{
		Value: f.json("value", true),
	}
	return f.done(row)
}

func transformKeywordSet(rec source.Record) (*TargetRecord, error) {
	f := newFieldReader(kind.KeywordSets, rec)
	row := &entities.KeywordSet{
		Values:      f.json("values", true),
		HashIndex:   f.str("hash_index", true),
		Lowercase:   f.boolean("lowercase", true),
		ExactFloats: f.boolean("exact_floats", false),
		Comments:    f.optStr("comments"),
	}
	return f.done(row)
}

func transformMolecule(rec source.Record) (*TargetRecord, error) {
	f := newFieldReader(kind.MolecularStructures, rec)
	row := &entities.Molecule{
		Name:                  f.str("name", false),
		Symbols:               f.json("symbols", true),
		Geometry:              f.json("geometry", true),
		MolecularFormula:      f.str("molecular_formula", false),
		MoleculeHash:          f.str("molecule_hash", true),
		MolecularCharge:       f.float("molecular_charge", 0),
		MolecularMultiplicity: f.integer("molecular_multiplicity", 1),
	}
	row.Extras = f.extras()
	return f.done(row)
}

func transformResult(rec source.Record) (*TargetRecord, error) {
	f := newFieldReader(kind.ComputedResults, rec)
	row := &entities.Result{
		Program:      f.str("program", true),
		Driver:       f.str("driver", true),
		Method:       f.str("method", true),
		Basis:        f.optStr("basis"),
		Status:       f.str("status", false),
		HashIndex:    f.str("hash_index", false),
		ReturnResult: f.json("return_result", false),
		Properties:   f.json("properties", false),
	}
	if row.Status == "" {
		row.Status = "COMPLETE"
	}

	f.ref("molecule", kind.MolecularStructures, true, func(id uint) { row.MoleculeID = id })
	f.ref("keywords", kind.KeywordSets, false, func(id uint) { row.KeywordsID = &id })
	f.ref("stdout", kind.BlobValues, false, func(id uint) { row.StdoutID = &id })
	f.ref("stderr", kind.BlobValues, false, func(id uint) { row.StderrID = &id })
	f.ref("error", kind.BlobValues, false, func(id uint) { row.ErrorID = &id })

	row.Extras = f.extras()
	return f.done(row)
}

// fieldReader extracts typed fields from a record and remembers the first
// problem, so transforms read as a flat list of field mappings.
type fieldReader struct {
	kind kind.Kind
	rec  source.Record
	used map[string]bool
	refs []*Reference
	err  error
}

func newFieldReader(k kind.Kind, rec source.Record) *fieldReader {
	return &fieldReader{
		kind: k,
		rec:  rec,
		used: map[string]bool{source.IDField: true},
	}
}

func (f *fieldReader) fail(field, reason string) {
	if f.err == nil {
		f.err = &SchemaMismatchError{Kind: f.kind, SourceID: f.rec.ID, Field: field, Reason: reason}
	}
}

func (f *fieldReader) get(field string, required bool) (any, bool) {
	f.used[field] = true
	v, ok := f.rec.Get(field)
	if !ok && required {
		f.fail(field, "")
	}
	return v, ok
}

func (f *fieldReader) str(field string, required bool) string {
	v, ok := f.get(field, required)
	if !ok {
		return ""
	}
	s, isString := v.(string)
	if !isString {
		f.fail(field, fmt.Sprintf("must be a string, got %T", v))
		return ""
	}
	if s == "" && required {
		f.fail(field, "must not be empty")
	}
	return s
}

func (f *fieldReader) optStr(field string) *string {
	if _, ok := f.rec.Get(field); !ok {
		f.used[field] = true
		return nil
	}
	s := f.str(field, false)
	return &s
}

func (f *fieldReader) boolean(field string, def bool) bool {
	v, ok := f.get(field, false)
	if !ok {
		return def
	}
	b, isBool := v.(bool)
	if !isBool {
		f.fail(field, fmt.Sprintf("must be a boolean, got %T", v))
	}
	return b
}

func (f *fieldReader) float(field string, def float64) float64 {
	v, ok := f.get(field, false)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		// Decimal128 values are normalized to their string form.
		parsed, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return parsed
		}
	}
	f.fail(field, fmt.Sprintf("must be a number, got %T", v))
	return def
}

func (f *fieldReader) integer(field string, def int) int {
	v, ok := f.get(field, false)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) {
			return int(n)
		}
	}
	f.fail(field, fmt.Sprintf("must be an integer, got %v", v))
	return def
}

func (f *fieldReader) json(field string, required bool) entities.JSON {
	v, ok := f.get(field, required)
	if !ok {
		return nil
	}
	j, err := entities.NewJSON(v)
	if err != nil {
		f.fail(field, err.Error())
	}
	return j
}

// ref records a reference field. Identifiers may be object ids (normalized
// to hex) or plain strings and integers.
func (f *fieldReader) ref(field string, target kind.Kind, required bool, set func(uint)) {
	v, ok := f.get(field, required)
	r := &Reference{Field: field, Kind: target, Required: required, set: set}
	if ok {
		switch id := v.(type) {
		case string:
			r.SourceID = id
		case int64:
			r.SourceID = strconv.FormatInt(id, 10)
		default:
			f.fail(field, fmt.Sprintf("must be an identifier, got %T", v))
		}
	}
	f.refs = append(f.refs, r)
}

// extras merges an "extras" document with every field that has no column of
// its own. It must be called after all other fields were read.
func (f *fieldReader) extras() entities.JSON {
	out := map[string]any{}
	if v, ok := f.get("extras", false); ok {
		m, isMap := v.(map[string]any)
		if !isMap {
			f.fail("extras", fmt.Sprintf("must be a document, got %T", v))
			return nil
		}
		maps.Copy(out, m)
	}
	for name, v := range f.rec.Fields {
		if !f.used[name] && v != nil {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	j, err := entities.NewJSON(out)
	if err != nil {
		f.fail("extras", err.Error())
	}
	return j
}

func (f *fieldReader) done(row entities.Row) (*TargetRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &TargetRecord{SourceID: f.rec.ID, Row: row, Refs: f.refs}, nil
}
