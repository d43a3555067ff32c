package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/qcmigrate/internal/kind"
)

func TestTopologicalOrder(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    []kind.Kind
		expected []kind.Kind
	}{
		{
			name:     "results listed first",
			input:    []kind.Kind{kind.ComputedResults, kind.MolecularStructures, kind.BlobValues, kind.KeywordSets},
			expected: []kind.Kind{kind.BlobValues, kind.KeywordSets, kind.MolecularStructures, kind.ComputedResults},
		},
		{
			name:     "subset keeps declaration order",
			input:    []kind.Kind{kind.MolecularStructures, kind.BlobValues},
			expected: []kind.Kind{kind.BlobValues, kind.MolecularStructures},
		},
		{
			name:     "dependent alone",
			input:    []kind.Kind{kind.ComputedResults},
			expected: []kind.Kind{kind.ComputedResults},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := TopologicalOrder(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}

	_, err := TopologicalOrder([]kind.Kind{"wavefunctions"})
	require.Error(t, err)
}

func TestDependencyGraph(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Dependencies(kind.BlobValues))
	assert.ElementsMatch(t,
		[]kind.Kind{kind.BlobValues, kind.KeywordSets, kind.MolecularStructures},
		Dependencies(kind.ComputedResults))
	assert.Equal(t, []kind.Kind{kind.ComputedResults}, Dependents(kind.MolecularStructures))
	assert.Empty(t, Dependents(kind.ComputedResults))

	for _, k := range kind.All() {
		_, err := specFor(k)
		require.NoError(t, err, "every kind needs a pipeline definition")
	}
}
