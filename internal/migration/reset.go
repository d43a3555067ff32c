package migration

import (
	"context"
	"fmt"
	"strings"

	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/kind"
	"gorm.io/gorm"
)

// ResetBlockedError reports a reset refused because dependent kinds still
// hold migrated records that reference the kind.
type ResetBlockedError struct {
	Kind       kind.Kind
	Dependents []kind.Kind
}

func (e *ResetBlockedError) Error() string {
	names := make([]string, len(e.Dependents))
	for i, d := range e.Dependents {
		names[i] = string(d)
	}
	return fmt.Sprintf("cannot reset %s: dependent kinds still migrated: %s (use cascade)", e.Kind, strings.Join(names, ", "))
}

func (e *ResetBlockedError) ErrorCategory() errors.ErrorCategory { return errors.CategoryState }

// ResetResult describes one reset kind.
type ResetResult struct {
	Kind            kind.Kind
	RowsDeleted     int64
	MappingsDeleted int64
}

// Reset rewinds k to not started: its target rows, mappings and state are
// deleted in one transaction. With cascade, dependent kinds are reset first;
// without it, Reset refuses while any dependent has mappings.
func Reset(ctx context.Context, db *gorm.DB, k kind.Kind, cascade bool) ([]ResetResult, error) {
	if _, err := specFor(k); err != nil {
		return nil, err
	}
	mappings := repository.NewMappingStore(db)

	var blocking []kind.Kind
	for _, dep := range Dependents(k) {
		n, err := mappings.Count(ctx, string(dep))
		if err != nil {
			return nil, err
		}
		if n > 0 {
			blocking = append(blocking, dep)
		}
	}

	var results []ResetResult
	if len(blocking) > 0 {
		if !cascade {
			return nil, &ResetBlockedError{Kind: k, Dependents: blocking}
		}
		for _, dep := range blocking {
			cascaded, err := Reset(ctx, db, dep, true)
			if err != nil {
				return results, err
			}
			results = append(results, cascaded...)
		}
	}

	res, err := resetKind(ctx, db, k)
	if err != nil {
		return results, err
	}
	return append(results, *res), nil
}

// Reset rewinds k like the package-level Reset and drops the rewound kinds
// from the resolver cache, so a later Run on o cannot resolve references to
// deleted target rows.
func (o *Orchestrator) Reset(ctx context.Context, k kind.Kind, cascade bool) ([]ResetResult, error) {
	results, err := Reset(ctx, o.cfg.Target.DB(), k, cascade)
	for _, res := range results {
		o.resolver.Forget(res.Kind)
	}
	return results, err
}

func resetKind(ctx context.Context, db *gorm.DB, k kind.Kind) (*ResetResult, error) {
	spec, err := specFor(k)
	if err != nil {
		return nil, err
	}
	res := &ResetResult{Kind: k}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		// Rows go first: the delete selects them through the mappings.
		if res.RowsDeleted, err = datastore.DeleteMappedRows(tx, string(k), spec.prototype); err != nil {
			return err
		}
		if res.MappingsDeleted, err = repository.NewMappingStore(tx).DeleteKind(ctx, string(k)); err != nil {
			return err
		}
		return datastore.NewStateManager(tx).Reset(tx, string(k))
	})
	if err != nil {
		return nil, fmt.Errorf("reset %s: %w", k, err)
	}
	return res, nil
}
