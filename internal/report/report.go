// Package report renders migration and verification outcomes as JSON and
// publishes them to a local directory or an S3 bucket.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/migration"
)

// Report types.
const (
	TypeMigrate = "migrate"
	TypeVerify  = "verify"
)

// Warning is a serialized consistency warning.
type Warning struct {
	Kind     string `json:"kind"`
	SourceID string `json:"source_id,omitempty"`
	Check    string `json:"check"`
	Detail   string `json:"detail"`
}

// KindOutcome is the result of one kind.
type KindOutcome struct {
	Kind            string    `json:"kind"`
	Status          string    `json:"status"`
	Total           int64     `json:"total"`
	Inserted        int64     `json:"inserted"`
	Reused          int64     `json:"reused"`
	Chunks          int       `json:"chunks"`
	SkippedChunks   int       `json:"skipped_chunks"`
	Retries         int       `json:"retries"`
	DurationSeconds float64   `json:"duration_seconds"`
	Cancelled       bool      `json:"cancelled,omitempty"`
	Blocked         bool      `json:"blocked,omitempty"`
	Error           string    `json:"error,omitempty"`
	Warnings        []Warning `json:"warnings,omitempty"`
}

// VerifyOutcome is the verification result of one kind.
type VerifyOutcome struct {
	Kind        string    `json:"kind"`
	SourceCount int64     `json:"source_count"`
	MappedCount int64     `json:"mapped_count"`
	Sampled     int       `json:"sampled"`
	Warnings    []Warning `json:"warnings,omitempty"`
}

// Report is the document written after a command finishes.
type Report struct {
	Type         string          `json:"type"`
	RunID        string          `json:"run_id,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Succeeded    bool            `json:"succeeded"`
	Kinds        []KindOutcome   `json:"kinds,omitempty"`
	Verification []VerifyOutcome `json:"verification,omitempty"`
}

// FromRun builds a migrate report from an orchestrator run.
func FromRun(run *migration.RunResult) *Report {
	rep := &Report{
		Type:       TypeMigrate,
		RunID:      run.RunID,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		Succeeded:  !run.HasErrors(),
		Kinds:      make([]KindOutcome, 0, len(run.Kinds)),
	}
	for _, kr := range run.Kinds {
		outcome := KindOutcome{
			Kind:            string(kr.Kind),
			Status:          string(kr.Status),
			Total:           kr.Total,
			Inserted:        kr.Inserted,
			Reused:          kr.Reused,
			Chunks:          kr.Chunks,
			SkippedChunks:   kr.SkippedChunks,
			Retries:         kr.Retries,
			DurationSeconds: kr.Duration.Seconds(),
			Cancelled:       kr.Cancelled,
			Blocked:         kr.Blocked,
			Warnings:        warnings(kr.Warnings),
		}
		if kr.Err != nil {
			outcome.Error = kr.Err.Error()
		}
		rep.Kinds = append(rep.Kinds, outcome)
	}
	return rep
}

// FromVerify builds a verify report. A verification with warnings is not a
// failure; Succeeded is false only when a kind could not be verified.
func FromVerify(results []*migration.VerifyResult, startedAt, finishedAt time.Time, failed bool) *Report {
	rep := &Report{
		Type:         TypeVerify,
		StartedAt:    startedAt.UTC(),
		FinishedAt:   finishedAt.UTC(),
		Succeeded:    !failed,
		Verification: make([]VerifyOutcome, 0, len(results)),
	}
	for _, res := range results {
		rep.Verification = append(rep.Verification, VerifyOutcome{
			Kind:        string(res.Kind),
			SourceCount: res.SourceCount,
			MappedCount: res.MappedCount,
			Sampled:     res.Sampled,
			Warnings:    warnings(res.Warnings),
		})
	}
	return rep
}

func warnings(in []*migration.ConsistencyWarning) []Warning {
	if len(in) == 0 {
		return nil
	}
	out := make([]Warning, len(in))
	for i, w := range in {
		out[i] = Warning{Kind: string(w.Kind), SourceID: w.SourceID, Check: w.Check, Detail: w.Detail}
	}
	return out
}

// Completed counts kinds that reached the completed state.
func (r *Report) Completed() int {
	n := 0
	for _, k := range r.Kinds {
		if k.Status == string(entities.KindStatusCompleted) {
			n++
		}
	}
	return n
}

// Name returns the object name the report is stored under.
func (r *Report) Name() string {
	id := r.RunID
	if id == "" {
		id = r.StartedAt.Format("20060102T150405Z")
	}
	return fmt.Sprintf("qcmigrate-%s-%s.json", r.Type, id)
}

// Marshal encodes the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, errors.New(err).
			Component("report").
			Category(errors.CategoryGeneric).
			Context("operation", "marshal_report").
			Build()
	}
	return append(data, '\n'), nil
}

// Sink stores an encoded report.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) error
	// Location describes where name ends up, for the operator.
	Location(name string) string
}

// Publish writes rep to every sink. All sinks are attempted; the errors are joined.
func Publish(ctx context.Context, rep *Report, sinks ...Sink) ([]string, error) {
	if len(sinks) == 0 {
		return nil, nil
	}
	data, err := rep.Marshal()
	if err != nil {
		return nil, err
	}

	name := rep.Name()
	var locations []string
	var errs []error
	for _, sink := range sinks {
		if err := sink.Put(ctx, name, data); err != nil {
			errs = append(errs, err)
			continue
		}
		locations = append(locations, sink.Location(name))
	}
	return locations, errors.Join(errs...)
}
