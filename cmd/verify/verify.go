package verify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/tphakala/qcmigrate/internal/conf"
	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/migration"
	"github.com/tphakala/qcmigrate/internal/report"
	"github.com/tphakala/qcmigrate/internal/runtime"
)

// Command creates the verify command.
func Command(ctx *runtime.Context) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare completed kinds against the source store",
		Long: `Compare every completed kind against the source store: the source count is
checked against the mapping count and a deterministic sample of records is
transformed again and compared with the stored rows. Neither store is modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, ctx, strict)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceP("kind", "k", nil, "Kinds to verify, default every completed kind")
	flags.Int("sample-size", 0, "Records compared per kind")
	flags.BoolVar(&strict, "strict", false, "Exit non-zero when verification raises warnings")

	conf.BindFlag(flags, "kind", "migration.kinds")
	conf.BindFlag(flags, "sample-size", "migration.samplesize")

	return cmd
}

func run(cmd *cobra.Command, rc *runtime.Context, strict bool) error {
	ctx := cmd.Context()
	log := rc.Logger("verify")

	kinds, err := kind.ParseList(rc.Settings.Migration.Kinds)
	if err != nil {
		return err
	}
	if len(kinds) == 0 {
		kinds = kind.All()
	}

	src, err := rc.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(context.Background()); err != nil {
			log.Warn("failed to close source store", logger.Error(err))
		}
	}()

	target, err := rc.OpenTarget(true)
	if err != nil {
		return err
	}
	defer func() {
		if err := target.Close(); err != nil {
			log.Warn("failed to close target store", logger.Error(err))
		}
	}()

	db := target.DB()
	states := datastore.NewStateManager(db)
	resolver := migration.NewResolver(repository.NewMappingStore(db), nil)
	verifier := migration.NewVerifier(src, db, resolver, rc.Settings.Migration.SampleSize, nil)

	started := time.Now()
	var results []*migration.VerifyResult
	var failed []error
	for _, k := range kinds {
		state, err := states.Get(ctx, string(k))
		if err != nil {
			return err
		}
		if state.State != entities.KindStatusCompleted {
			log.Info("skipping kind that is not completed",
				logger.String("kind", string(k)),
				logger.String("state", string(state.State)))
			continue
		}

		res, err := verifier.VerifyKind(ctx, k)
		if err != nil {
			log.Error("verification failed", logger.String("kind", string(k)), logger.Error(err))
			failed = append(failed, err)
			continue
		}
		for _, w := range res.Warnings {
			log.Warn("consistency warning",
				logger.String("kind", string(k)),
				logger.String("check", w.Check),
				logger.String("source_id", w.SourceID),
				logger.String("detail", w.Detail))
		}
		results = append(results, res)
	}

	writeSummary(cmd.OutOrStdout(), results)
	rc.PublishReport(ctx, report.FromVerify(results, started, time.Now(), len(failed) > 0))

	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	if strict {
		for _, res := range results {
			if !res.OK() {
				return errors.Newf("verification raised warnings").
					Component("verify").
					Category(errors.CategoryIntegrity).
					Build()
			}
		}
	}
	return nil
}

func writeSummary(w io.Writer, results []*migration.VerifyResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no completed kinds to verify")
		return
	}
	for _, res := range results {
		status := "ok"
		if !res.OK() {
			status = fmt.Sprintf("%d warnings", len(res.Warnings))
		}
		fmt.Fprintf(w, "%-22s source=%d mapped=%d sampled=%d %s\n",
			res.Kind, res.SourceCount, res.MappedCount, res.Sampled, status)
	}
}
