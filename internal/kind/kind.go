// Package kind enumerates the entity kinds carried from the document store
// into the relational store.
package kind

import (
	"fmt"
	"strings"
)

// Kind identifies one entity set. The value doubles as the mapping-table key
// and the metrics label, so it must stay stable across releases.
type Kind string

const (
	BlobValues          Kind = "blob-values"
	KeywordSets         Kind = "keyword-sets"
	MolecularStructures Kind = "molecular-structures"
	ComputedResults     Kind = "computed-results"
)

// all lists kinds in declaration order.
var all = []Kind{BlobValues, KeywordSets, MolecularStructures, ComputedResults}

// aliases accepts the legacy collection names on the command line.
var aliases = map[string]Kind{
	"kv":         BlobValues,
	"kv_store":   BlobValues,
	"kvstore":    BlobValues,
	"keywords":   KeywordSets,
	"molecule":   MolecularStructures,
	"molecules":  MolecularStructures,
	"result":     ComputedResults,
	"results":    ComputedResults,
	"procedures": ComputedResults,
}

// All returns every kind in declaration order.
func All() []Kind {
	out := make([]Kind, len(all))
	copy(out, all)
	return out
}

// Parse resolves a kind name or one of its legacy aliases.
func Parse(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, k := range all {
		if string(k) == name {
			return k, nil
		}
	}
	if k, ok := aliases[name]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// ParseList parses a list of names, dropping duplicates while keeping order.
func ParseList(names []string) ([]Kind, error) {
	seen := make(map[Kind]bool, len(names))
	out := make([]Kind, 0, len(names))
	for _, n := range names {
		k, err := Parse(n)
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range all {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }
