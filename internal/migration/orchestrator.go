// Package migration copies entity kinds from the document store into the
// relational store. Kinds run in dependency order; each kind is a sequential
// pipeline of chunks, and every chunk commits its rows together with their
// identifier mappings. A run can be interrupted at any chunk boundary and
// resumed: chunks whose records are already mapped are skipped.
package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/qcmigrate/internal/datastore"
	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/datastore/repository"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/observability/metrics"
	"github.com/tphakala/qcmigrate/internal/source"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Defaults applied by NewOrchestrator.
const (
	DefaultPageSize     = 100
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultMaxBackoff   = 30 * time.Second
)

// errStopped marks kinds interrupted by Orchestrator.Stop.
var errStopped = errors.NewStd("migration stopped")

// Config wires an Orchestrator to its stores.
type Config struct {
	Source source.Store
	Target datastore.Manager
	Logger logger.Logger

	// Metrics and DatastoreMetrics may be nil.
	Metrics          *metrics.MigrationMetrics
	DatastoreMetrics *metrics.DatastoreMetrics

	// RunID identifies the run in logs and kind state. Empty generates one.
	RunID string

	PageSize int64
	// Concurrency bounds how many independent kinds migrate at once.
	// Zero runs every ready kind concurrently.
	Concurrency int
	// ChunkRate limits chunks per second across all kinds. Zero is unlimited.
	ChunkRate float64

	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// StrictResume skips a chunk only when every record in it is mapped,
	// instead of checking the last record alone.
	StrictResume bool

	// Verify re-reads the first record of each committed chunk and runs the
	// verifier after each completed kind.
	Verify     bool
	SampleSize int
}

// Orchestrator drives kinds through the chunk pipeline.
type Orchestrator struct {
	cfg      Config
	source   source.Store
	mappings *repository.MappingStore
	states   *datastore.StateManager
	resolver *Resolver
	batcher  *Batcher
	verifier *Verifier
	limiter  *rate.Limiter
	log      logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewOrchestrator validates cfg and applies defaults.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Source == nil {
		return nil, errors.ValidationError("migration requires a source store")
	}
	if cfg.Target == nil {
		return nil, errors.ValidationError("migration requires a target store")
	}
	if cfg.Logger == nil {
		return nil, errors.ValidationError("migration requires a logger")
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.PageSize < 0 {
		return nil, ErrInvalidPageSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.RetryBackoff)
	}

	db := cfg.Target.DB()
	mappings := repository.NewMappingStore(db)
	states := datastore.NewStateManager(db)
	resolver := NewResolver(mappings, cfg.Metrics)

	o := &Orchestrator{
		cfg:      cfg,
		source:   cfg.Source,
		mappings: mappings,
		states:   states,
		resolver: resolver,
		batcher:  NewBatcher(cfg.Target, mappings, states, cfg.DatastoreMetrics),
		verifier: NewVerifier(cfg.Source, db, resolver, cfg.SampleSize, cfg.Metrics),
		log:      cfg.Logger.Module("migration"),
		stop:     make(chan struct{}),
	}
	if cfg.ChunkRate > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.ChunkRate), 1)
	}
	return o, nil
}

// Stop asks a running migration to finish its current chunks and return.
// Interrupted kinds stay in progress and resume on the next run.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

func (o *Orchestrator) stopped(ctx context.Context) bool {
	select {
	case <-o.stop:
		return true
	default:
		return ctx.Err() != nil
	}
}

// Run migrates kinds, or every kind when kinds is empty. Independent kinds
// run concurrently; a kind starts only after all of its dependencies are
// completed, either earlier in this run or in a previous one. Failures are
// reported per kind in the result; the error is non-nil only when the run
// could not be planned.
func (o *Orchestrator) Run(ctx context.Context, kinds []kind.Kind) (*RunResult, error) {
	if len(kinds) == 0 {
		kinds = kind.All()
	}
	order, err := TopologicalOrder(kinds)
	if err != nil {
		return nil, err
	}

	runID := o.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logger.WithTraceID(ctx, runID)
	log := o.log.WithContext(ctx)
	o.resolver.Flush()

	run := &RunResult{RunID: runID, StartedAt: time.Now()}
	results := make(map[kind.Kind]*KindResult, len(order))
	done := make(map[kind.Kind]chan struct{}, len(order))
	for _, k := range order {
		results[k] = &KindResult{Kind: k, Status: entities.KindStatusNotStarted}
		done[k] = make(chan struct{})
	}

	log.Info("migration run started",
		logger.String("run_id", runID),
		logger.Any("kinds", order),
		logger.Int64("page_size", o.cfg.PageSize))

	var g errgroup.Group
	if o.cfg.Concurrency > 0 {
		g.SetLimit(o.cfg.Concurrency)
	}
	// Launching in topological order means a goroutine only ever waits on
	// kinds launched before it, so the concurrency limit cannot deadlock.
	for _, k := range order {
		g.Go(func() error {
			defer close(done[k])
			res := results[k]

			for _, dep := range Dependencies(k) {
				if ch, selected := done[dep]; selected {
					<-ch
				}
			}
			if o.stopped(ctx) {
				res.Cancelled = true
				res.Err = errStopped
				return nil
			}
			if err := o.checkDependencies(ctx, k, results); err != nil {
				res.Err = err
				var depErr *DependencyError
				res.Blocked = errors.As(err, &depErr)
				log.Warn("kind not started", logger.String("kind", string(k)), logger.Error(err))
				return nil
			}

			o.runKind(ctx, runID, k, res)
			return nil
		})
	}
	_ = g.Wait()

	for _, k := range order {
		run.Kinds = append(run.Kinds, results[k])
	}
	run.FinishedAt = time.Now()

	log.Info("migration run finished",
		logger.String("run_id", runID),
		logger.Duration("duration", run.FinishedAt.Sub(run.StartedAt)),
		logger.Int("failed", len(run.Failed())),
		logger.Bool("cancelled", run.Cancelled()))
	return run, nil
}

// checkDependencies enforces the dependency gate. Dependencies in this run
// must have completed in it; others must be completed in the kind state table.
func (o *Orchestrator) checkDependencies(ctx context.Context, k kind.Kind, results map[kind.Kind]*KindResult) error {
	var pending, external []string
	for _, dep := range Dependencies(k) {
		if res, selected := results[dep]; selected {
			if res.Status != entities.KindStatusCompleted {
				pending = append(pending, string(dep))
			}
			continue
		}
		external = append(external, string(dep))
	}
	if len(external) > 0 {
		_, notDone, err := o.states.AllCompleted(ctx, external)
		if err != nil {
			return err
		}
		pending = append(pending, notDone...)
	}
	if len(pending) > 0 {
		return &DependencyError{Kind: k, Pending: pending}
	}
	return nil
}

// runKind migrates one kind whose dependencies are satisfied.
func (o *Orchestrator) runKind(ctx context.Context, runID string, k kind.Kind, res *KindResult) {
	start := time.Now()
	log := o.log.WithContext(ctx).With(logger.String("kind", string(k)))
	defer func() { res.Duration = time.Since(start) }()

	spec, err := specFor(k)
	if err != nil {
		o.failKind(ctx, runID, res, opPlan, 0, err, log)
		return
	}

	// The kind is claimed before the source is counted, so a count that
	// keeps failing is persisted as a failure of this run.
	if err := o.states.Start(ctx, string(k), runID, 0); err != nil {
		o.failKind(ctx, runID, res, opStart, 0, err, log)
		return
	}
	res.Status = entities.KindStatusInProgress
	o.setState(k, entities.KindStatusInProgress)

	var total int64
	err = o.withRetry(ctx, k, res, log, opCount, 0, func() error {
		n, err := o.source.Count(ctx, k)
		if err != nil {
			return &SourceReadError{Kind: k, Operation: opCount, Err: err}
		}
		total = n
		return nil
	})
	if err != nil {
		if o.interrupted(ctx, err) {
			o.cancelKind(ctx, res, log, 0)
			return
		}
		o.failKind(ctx, runID, res, opCount, 0, err, log)
		return
	}
	res.Total = total

	chunks, err := NewChunkIterator(k, total, o.cfg.PageSize)
	if err != nil {
		o.failKind(ctx, runID, res, opPlan, 0, err, log)
		return
	}
	if err := o.states.SetTotal(ctx, string(k), runID, total); err != nil {
		o.failKind(ctx, runID, res, opStart, 0, err, log)
		return
	}
	log.Info("kind started", logger.Int64("total", total), logger.Int("chunks", chunks.Len()))

	for chunk := range chunks.Chunks() {
		if o.stopped(ctx) {
			o.cancelKind(ctx, res, log, chunk.Offset)
			return
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				o.cancelKind(ctx, res, log, chunk.Offset)
				return
			}
		}

		chunkStart := time.Now()
		var outcome *chunkOutcome
		err := o.withRetry(ctx, k, res, log, opChunk, chunk.Offset, func() error {
			var err error
			outcome, err = o.processChunk(ctx, spec, chunk)
			return err
		})
		if err != nil {
			if o.interrupted(ctx, err) {
				o.cancelKind(ctx, res, log, chunk.Offset)
				return
			}
			o.failKind(ctx, runID, res, opChunk, chunk.Offset, err, log)
			return
		}

		res.Chunks++
		status := metrics.StatusCommitted
		if outcome.skipped {
			res.SkippedChunks++
			status = metrics.StatusSkipped
		} else {
			res.Inserted += int64(outcome.inserted)
			res.Reused += int64(outcome.reused)
		}
		if outcome.warning != nil {
			res.Warnings = append(res.Warnings, outcome.warning)
			log.Warn("post-chunk check found a difference", logger.Error(outcome.warning))
		}
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordChunk(string(k), status, time.Since(chunkStart).Seconds())
			o.cfg.Metrics.RecordRecords(string(k), metrics.OutcomeInserted, outcome.inserted)
			o.cfg.Metrics.RecordRecords(string(k), metrics.OutcomeReused, outcome.reused)
			o.cfg.Metrics.SetProgress(string(k), chunk.End())
		}
		log.Debug("chunk done",
			logger.Int64("offset", chunk.Offset),
			logger.Int64("limit", chunk.Limit),
			logger.Bool("skipped", outcome.skipped),
			logger.Int("inserted", outcome.inserted),
			logger.Int("reused", outcome.reused))
	}

	if err := o.states.Complete(ctx, string(k), runID); err != nil {
		res.Err = err
		log.Error("failed to complete kind", logger.Error(err))
		return
	}
	res.Status = entities.KindStatusCompleted
	o.setState(k, entities.KindStatusCompleted)
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordKindDuration(string(k), string(entities.KindStatusCompleted), time.Since(start).Seconds())
	}
	log.Info("kind completed",
		logger.Int64("inserted", res.Inserted),
		logger.Int64("reused", res.Reused),
		logger.Int("skipped_chunks", res.SkippedChunks),
		logger.Duration("duration", time.Since(start)))

	if o.cfg.Verify {
		vr, err := o.verifier.VerifyKind(ctx, k)
		if err != nil {
			log.Warn("verification could not run", logger.Error(err))
			return
		}
		res.Warnings = append(res.Warnings, vr.Warnings...)
		for _, w := range vr.Warnings {
			log.Warn("consistency warning", logger.String("check", w.Check), logger.Error(w))
		}
		log.Info("kind verified",
			logger.Int64("source_count", vr.SourceCount),
			logger.Int64("mapped_count", vr.MappedCount),
			logger.Int("sampled", vr.Sampled),
			logger.Int("warnings", len(vr.Warnings)))
	}
}

// chunkOutcome is the result of one successfully handled chunk.
type chunkOutcome struct {
	skipped  bool
	inserted int
	reused   int
	warning  *ConsistencyWarning
}

// Operations a kind can fail in.
const (
	opPlan  = "plan_chunks"
	opStart = "start_kind"
	opCount = "count_source"
	opChunk = "migrate_chunk"
)

// withRetry runs fn until it succeeds, returns a non-retryable error or the
// retry budget is spent, backing off exponentially between attempts. A chunk
// is refetched on every attempt.
func (o *Orchestrator) withRetry(ctx context.Context, k kind.Kind, res *KindResult, log logger.Logger, operation string, offset int64, fn func() error) error {
	backoff := o.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(err) || attempt >= o.cfg.MaxRetries {
			return err
		}

		res.Retries++
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordRetry(string(k), retryReason(err))
		}
		log.Warn("operation failed, retrying",
			logger.String("operation", operation),
			logger.Int64("offset", offset),
			logger.Int("attempt", attempt+1),
			logger.Int("max_retries", o.cfg.MaxRetries),
			logger.Duration("backoff", backoff),
			logger.Error(err))

		if err := o.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, o.cfg.MaxBackoff)
	}
}

func (o *Orchestrator) interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// processChunk runs fetch, resume check, transform, resolve and write for
// one chunk.
func (o *Orchestrator) processChunk(ctx context.Context, spec *kindSpec, chunk Chunk) (*chunkOutcome, error) {
	records, err := o.source.FetchPage(ctx, chunk.Kind, chunk.Offset, chunk.Limit)
	if err != nil {
		return nil, &SourceReadError{Kind: chunk.Kind, Offset: chunk.Offset, Err: err}
	}

	migrated, err := o.alreadyMigrated(ctx, chunk, records)
	if err != nil {
		return nil, err
	}
	if migrated {
		if err := o.states.RecordSkip(ctx, string(chunk.Kind), chunk.End()); err != nil {
			return nil, &TransactionError{Kind: chunk.Kind, Offset: chunk.Offset, Reason: datastore.ClassifyError(err), Err: err}
		}
		return &chunkOutcome{skipped: true}, nil
	}

	targets, err := TransformAll(spec.Transform, records)
	if err != nil {
		return nil, err
	}
	if err := o.resolver.Resolve(ctx, targets); err != nil {
		var unresolved *UnresolvedReferenceError
		if errors.As(err, &unresolved) {
			return nil, err
		}
		return nil, &TransactionError{Kind: chunk.Kind, Offset: chunk.Offset, Reason: datastore.ClassifyError(err), Err: err}
	}

	written, err := o.batcher.Write(ctx, chunk, targets)
	if err != nil {
		return nil, err
	}
	outcome := &chunkOutcome{inserted: written.Inserted, reused: written.Reused}

	if o.cfg.Verify && len(records) > 0 {
		warning, err := o.verifier.CheckRecord(ctx, chunk.Kind, records[0], written.TargetIDs[0])
		if err != nil {
			o.log.Warn("post-chunk check could not run", logger.String("kind", string(chunk.Kind)), logger.Error(err))
		}
		outcome.warning = warning
	}
	return outcome, nil
}

// alreadyMigrated decides whether a chunk can be skipped on resume. By
// default the last record stands in for the whole chunk; chunks are committed
// atomically and pages are ordered by identifier, so a mapped last record
// means the chunk committed. StrictResume checks every record instead.
func (o *Orchestrator) alreadyMigrated(ctx context.Context, chunk Chunk, records []source.Record) (bool, error) {
	if len(records) == 0 {
		return true, nil
	}
	k := string(chunk.Kind)

	if !o.cfg.StrictResume {
		_, found, err := o.mappings.Lookup(ctx, k, records[len(records)-1].ID)
		if err != nil {
			return false, &TransactionError{Kind: chunk.Kind, Offset: chunk.Offset, Reason: datastore.ClassifyError(err), Err: err}
		}
		return found, nil
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	found, err := o.mappings.LookupBatch(ctx, k, ids)
	if err != nil {
		return false, &TransactionError{Kind: chunk.Kind, Offset: chunk.Offset, Reason: datastore.ClassifyError(err), Err: err}
	}
	return len(found) == len(ids), nil
}

// failKind marks res failed in memory, in the kind state table and in the
// failure log. offset is the chunk being migrated, or zero before the first one.
func (o *Orchestrator) failKind(ctx context.Context, runID string, res *KindResult, operation string, offset int64, cause error, log logger.Logger) {
	k := res.Kind
	res.Err = cause
	res.Status = entities.KindStatusFailed
	o.setState(k, entities.KindStatusFailed)

	// The run context may already be cancelled by an operator; the failure
	// must still be persisted.
	persistCtx := context.WithoutCancel(ctx)
	if err := o.states.Fail(persistCtx, string(k), runID, cause.Error()); err != nil {
		log.Error("failed to persist kind failure", logger.Error(err))
	}
	failure := &entities.MigrationFailure{
		Kind:      string(k),
		SourceID:  failedSourceID(cause),
		ChunkFrom: offset,
		Reason:    errorType(cause),
		Message:   cause.Error(),
		RunID:     runID,
	}
	if err := o.states.RecordFailure(persistCtx, failure); err != nil {
		log.Error("failed to record failure", logger.Error(err))
	}

	if o.cfg.Metrics != nil {
		if operation == opChunk {
			o.cfg.Metrics.RecordChunk(string(k), metrics.StatusFailed, 0)
		}
		o.cfg.Metrics.RecordKindFailure(string(k), errorType(cause))
	}

	// Built errors are reported to telemetry when it is enabled.
	_ = errors.New(cause).
		Component("migration").
		Context("operation", operation).
		Context("offset", offset).
		KindContext(string(k), failure.SourceID).
		Priority(errors.PriorityHigh).
		Build()

	log.Error("kind failed",
		logger.String("operation", operation),
		logger.Int64("offset", offset),
		logger.String("reason", failure.Reason),
		logger.String("source_id", failure.SourceID),
		logger.Error(cause))
}

func (o *Orchestrator) cancelKind(ctx context.Context, res *KindResult, log logger.Logger, offset int64) {
	res.Cancelled = true
	res.Err = context.Cause(ctx)
	if res.Err == nil {
		res.Err = fmt.Errorf("%w at offset %d", errStopped, offset)
	}
	log.Warn("kind interrupted, progress kept for resume", logger.Int64("offset", offset))
}

func (o *Orchestrator) setState(k kind.Kind, state entities.KindStatus) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.SetKindState(string(k), string(state))
	}
}

// sleep waits for d, returning early when the run is cancelled or stopped.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stop:
		return context.Canceled
	case <-timer.C:
		return nil
	}
}

func errorType(err error) string {
	var (
		schema     *SchemaMismatchError
		unresolved *UnresolvedReferenceError
		dup        *DuplicateMappingError
		txErr      *TransactionError
		readErr    *SourceReadError
	)
	switch {
	case errors.As(err, &schema):
		return "schema_mismatch"
	case errors.As(err, &unresolved):
		return "unresolved_reference"
	case errors.As(err, &dup):
		return "duplicate_mapping"
	case errors.As(err, &txErr):
		return "transaction"
	case errors.As(err, &readErr):
		return "source_read"
	default:
		return "other"
	}
}

func retryReason(err error) string {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return string(txErr.Reason)
	}
	return errorType(err)
}

func failedSourceID(err error) string {
	var (
		schema     *SchemaMismatchError
		unresolved *UnresolvedReferenceError
		dup        *DuplicateMappingError
	)
	switch {
	case errors.As(err, &schema):
		return schema.SourceID
	case errors.As(err, &unresolved):
		return unresolved.ReferencedBy
	case errors.As(err, &dup):
		return dup.SourceID
	default:
		return ""
	}
}
