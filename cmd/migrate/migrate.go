package migrate

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tphakala/qcmigrate/internal/conf"
	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/migration"
	"github.com/tphakala/qcmigrate/internal/observability"
	"github.com/tphakala/qcmigrate/internal/report"
	"github.com/tphakala/qcmigrate/internal/runtime"
)

// Command creates the migrate command.
func Command(ctx *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy entity kinds from the source store into the target store",
		Long: `Copy entity kinds from the document store into the relational store in
dependency order. Every chunk commits together with its identifier mappings,
so an interrupted run resumes where it stopped when started again.

The first interrupt lets the current chunks commit and stops; a second one
rolls back the chunks in flight.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, ctx)
		},
	}

	setupFlags(cmd)

	return cmd
}

// setupFlags configures flags specific to the migrate command.
func setupFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceP("kind", "k", nil, "Kinds to migrate, default all ("+kindNames()+")")
	flags.Int64("page-size", 0, "Records per chunk")
	flags.Bool("verify", false, "Verify each chunk and every completed kind")
	flags.Int("sample-size", 0, "Records compared per kind by verification")
	flags.Int("concurrency", 0, "Independent kinds migrated in parallel, 0 for unlimited")
	flags.Float64("chunk-rate", 0, "Chunks per second across all kinds, 0 for unlimited")
	flags.Int("max-retries", 0, "Retries of a failed chunk transaction")
	flags.Bool("strict-resume", false, "Check every record of a chunk before skipping it")
	flags.Bool("metrics", false, "Serve Prometheus metrics while migrating")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address while migrating")

	conf.BindFlag(flags, "kind", "migration.kinds")
	conf.BindFlag(flags, "page-size", "migration.pagesize")
	conf.BindFlag(flags, "verify", "migration.verify")
	conf.BindFlag(flags, "sample-size", "migration.samplesize")
	conf.BindFlag(flags, "concurrency", "migration.concurrency")
	conf.BindFlag(flags, "chunk-rate", "migration.chunkrate")
	conf.BindFlag(flags, "max-retries", "migration.maxretries")
	conf.BindFlag(flags, "strict-resume", "migration.strictresume")
	conf.BindFlag(flags, "metrics", "metrics.enabled")
	conf.BindFlag(flags, "metrics-addr", "metrics.listen")
}

func kindNames() string {
	names := make([]string, 0, len(kind.All()))
	for _, k := range kind.All() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func run(cmd *cobra.Command, rc *runtime.Context) error {
	settings := rc.Settings
	log := rc.Logger("migrate")
	ctx := cmd.Context()

	kinds, err := kind.ParseList(settings.Migration.Kinds)
	if err != nil {
		return err
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

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	if settings.Metrics.Enabled || cmd.Flags().Changed("metrics-addr") {
		endpoint, err := observability.NewEndpoint(settings.Metrics.Listen, metrics, rc.Log)
		if err != nil {
			return err
		}
		var wg sync.WaitGroup
		quit := make(chan struct{})
		if err := endpoint.Start(&wg, quit); err != nil {
			return fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
		defer func() {
			close(quit)
			wg.Wait()
		}()
	}

	stopMonitor := datastore.NewMonitor(target, metrics.Datastore, rc.Log, datastore.DefaultMonitorInterval).Start(ctx)
	defer stopMonitor()

	o, err := migration.NewOrchestrator(migration.Config{
		Source:           src,
		Target:           target,
		Logger:           rc.Log,
		Metrics:          metrics.Migration,
		DatastoreMetrics: metrics.Datastore,
		PageSize:         settings.Migration.PageSize,
		Concurrency:      settings.Migration.Concurrency,
		ChunkRate:        settings.Migration.ChunkRate,
		MaxRetries:       settings.Migration.MaxRetries,
		RetryBackoff:     settings.Migration.RetryBackoff,
		MaxBackoff:       settings.Migration.MaxBackoff,
		StrictResume:     settings.Migration.StrictResume,
		Verify:           settings.Migration.Verify,
		SampleSize:       settings.Migration.SampleSize,
	})
	if err != nil {
		return err
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	stopOnSignal(runCtx, o, abort, log)

	result, err := o.Run(runCtx, kinds)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), result.Summary())
	rc.PublishReport(ctx, report.FromRun(result))

	switch {
	case result.Cancelled():
		return errors.Newf("migration interrupted, run again to resume").
			Component("migrate").
			Category(errors.CategoryCancellation).
			Context("run_id", result.RunID).
			Build()
	case result.HasErrors():
		failed := make([]string, 0, len(result.Kinds))
		for _, kr := range result.Kinds {
			if kr.Status != entities.KindStatusCompleted {
				failed = append(failed, string(kr.Kind))
			}
		}
		return errors.Newf("migration incomplete, kinds not completed: %s", strings.Join(failed, ", ")).
			Component("migrate").
			Category(errors.CategoryState).
			Context("run_id", result.RunID).
			Build()
	}
	return nil
}

// stopOnSignal stops o after the first interrupt and aborts the run after the second.
func stopOnSignal(ctx context.Context, o *migration.Orchestrator, abort context.CancelFunc, log logger.Logger) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)

		select {
		case <-sigs:
			log.Warn("interrupt received, stopping after the current chunks; interrupt again to abort")
			o.Stop()
		case <-ctx.Done():
			return
		}

		select {
		case <-sigs:
			log.Warn("second interrupt received, rolling back chunks in flight")
			abort()
		case <-ctx.Done():
		}
	}()
}
