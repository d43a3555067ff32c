package migration

import (
	"context"
	"fmt"
	"slices"

	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/kind"
	"gorm.io/gorm"
)

// kindSpec parameterizes the generic chunk pipeline for one entity kind.
type kindSpec struct {
	Kind         kind.Kind
	Dependencies []kind.Kind
	Transform    TransformFunc

	// prototype is a zero row of the kind's table.
	prototype entities.Row
	load      func(ctx context.Context, db *gorm.DB, ids []uint) (map[uint]entities.Row, error)
}

var specs = map[kind.Kind]*kindSpec{
	kind.BlobValues: {
		Kind:      kind.BlobValues,
		Transform: transformBlobValue,
		prototype: &entities.KVStoreEntry{},
		load:      datastore.LoadRows[entities.KVStoreEntry],
	},
	kind.KeywordSets: {
		Kind:      kind.KeywordSets,
		Transform: transformKeywordSet,
		prototype: &entities.KeywordSet{},
		load:      datastore.LoadRows[entities.KeywordSet],
	},
	kind.MolecularStructures: {
		Kind:      kind.MolecularStructures,
		Transform: transformMolecule,
		prototype: &entities.Molecule{},
		load:      datastore.LoadRows[entities.Molecule],
	},
	kind.ComputedResults: {
		Kind:         kind.ComputedResults,
		Dependencies: []kind.Kind{kind.BlobValues, kind.KeywordSets, kind.MolecularStructures},
		Transform:    transformResult,
		prototype:    &entities.Result{},
		load:         datastore.LoadRows[entities.Result],
	},
}

func specFor(k kind.Kind) (*kindSpec, error) {
	s, ok := specs[k]
	if !ok {
		return nil, fmt.Errorf("no migration defined for kind %q", k)
	}
	return s, nil
}

// Dependencies returns the kinds k references.
func Dependencies(k kind.Kind) []kind.Kind {
	if s, ok := specs[k]; ok {
		return slices.Clone(s.Dependencies)
	}
	return nil
}

// Dependents returns the kinds that reference k, in declaration order.
func Dependents(k kind.Kind) []kind.Kind {
	var out []kind.Kind
	for _, candidate := range kind.All() {
		if slices.Contains(specs[candidate].Dependencies, k) {
			out = append(out, candidate)
		}
	}
	return out
}

// TopologicalOrder orders kinds so that every kind follows the selected kinds
// it depends on. Ties keep declaration order.
func TopologicalOrder(kinds []kind.Kind) ([]kind.Kind, error) {
	selected := make(map[kind.Kind]bool, len(kinds))
	for _, k := range kinds {
		if _, err := specFor(k); err != nil {
			return nil, err
		}
		selected[k] = true
	}

	indegree := make(map[kind.Kind]int, len(selected))
	for k := range selected {
		for _, dep := range specs[k].Dependencies {
			if selected[dep] {
				indegree[k]++
			}
		}
	}

	ordered := make([]kind.Kind, 0, len(selected))
	for len(ordered) < len(selected) {
		progressed := false
		for _, k := range kind.All() {
			if !selected[k] || indegree[k] != 0 || slices.Contains(ordered, k) {
				continue
			}
			ordered = append(ordered, k)
			for _, dependent := range Dependents(k) {
				if selected[dependent] {
					indegree[dependent]--
				}
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle among kinds %v", kinds)
		}
	}
	return ordered, nil
}
