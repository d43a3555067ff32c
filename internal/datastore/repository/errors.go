package repository

import (
	"fmt"

	"github.com/tphakala/qcmigrate/internal/errors"
)

// DuplicateMappingError reports a source identifier already mapped to a
// different target identifier. It means the same document was migrated twice
// into different rows.
type DuplicateMappingError struct {
	Kind             string
	SourceID         string
	ExistingTargetID uint
	TargetID         uint
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("duplicate mapping for %s %s: already mapped to %d, attempted %d",
		e.Kind, e.SourceID, e.ExistingTargetID, e.TargetID)
}

// ErrorCategory implements errors.CategorizedError.
func (e *DuplicateMappingError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryIntegrity
}

// Retryable is always false: retrying cannot change which row the source maps to.
func (e *DuplicateMappingError) Retryable() bool {
	return false
}
