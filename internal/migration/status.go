package migration

import (
	"context"

	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/kind"
	"gorm.io/gorm"
)

// KindReport is the persisted progress of one kind.
type KindReport struct {
	entities.KindState
	Mapped       int64
	Dependencies []kind.Kind
	// Ready is true when every dependency is completed.
	Ready bool
	// LastFailure is the most recent recorded failure, if any.
	LastFailure *entities.MigrationFailure
}

// Status reports the state of every kind in declaration order.
func Status(ctx context.Context, db *gorm.DB) ([]KindReport, error) {
	states := datastore.NewStateManager(db)
	mappings := repository.NewMappingStore(db)

	out := make([]KindReport, 0, len(kind.All()))
	for _, k := range kind.All() {
		state, err := states.Get(ctx, string(k))
		if err != nil {
			return nil, err
		}
		mapped, err := mappings.Count(ctx, string(k))
		if err != nil {
			return nil, err
		}

		deps := Dependencies(k)
		depNames := make([]string, len(deps))
		for i, d := range deps {
			depNames[i] = string(d)
		}
		ready, _, err := states.AllCompleted(ctx, depNames)
		if err != nil {
			return nil, err
		}

		st := KindReport{KindState: *state, Mapped: mapped, Dependencies: deps, Ready: ready}
		if state.State == entities.KindStatusFailed {
			failures, err := states.Failures(ctx, string(k), 1)
			if err != nil {
				return nil, err
			}
			if len(failures) > 0 {
				st.LastFailure = &failures[0]
			}
		}
		out = append(out, st)
	}
	return out, nil
}
