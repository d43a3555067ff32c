package source

import (
	"fmt"
	"os"

	"github.com/tphakala/qcmigrate/internal/kind"
	"gopkg.in/yaml.v3"
)

// fixtureFile is the on-disk layout of a fixture source:
//
//	kinds:
//	  keyword-sets:
//	    - _id: k1
//	      hash_index: abc
//	      values: {scf_type: df}
type fixtureFile struct {
	Kinds map[string][]map[string]any `yaml:"kinds"`
}

// LoadFixture reads a YAML fixture into a MemoryStore. Kind names accept the
// legacy collection aliases.
func LoadFixture(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes fixture YAML into a MemoryStore.
func ParseFixture(data []byte) (*MemoryStore, error) {
	var file fixtureFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}

	store := NewMemoryStore()
	for name, docs := range file.Kinds {
		k, err := kind.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("fixture: %w", err)
		}

		records := make([]Record, 0, len(docs))
		for i, doc := range docs {
			r, err := recordFromDocument(doc)
			if err != nil {
				return nil, fmt.Errorf("fixture %s[%d]: %w", name, i, err)
			}
			records = append(records, r)
		}
		store.Put(k, records...)
	}
	return store, nil
}
