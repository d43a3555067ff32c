package datastore

import (
	"github.com/tphakala/qcmigrate/internal/errors"
)

// dbError creates a categorized database error with the failure reason attached.
func dbError(err error, operation, priority string, context ...any) error {
	reason := ClassifyError(err)
	category := errors.CategoryDatabase
	switch {
	case IsConstraintViolation(err):
		category = errors.CategoryConflict
	case reason == ReasonConnection:
		category = errors.CategoryNetwork
	case reason == ReasonCancelled:
		category = errors.CategoryCancellation
	case reason == ReasonTimeout:
		category = errors.CategoryTimeout
	}

	builder := errors.New(err).
		Component("datastore").
		Category(category).
		Context("operation", operation).
		Context("reason", string(reason))

	if priority != "" {
		builder = builder.Priority(priority)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// stateError creates a kind state error such as a refused transition.
func stateError(err error, operation, kind string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryState).
		Context("operation", operation).
		KindContext(kind, "").
		Build()
}
