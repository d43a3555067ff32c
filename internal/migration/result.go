package migration

import (
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/qcmigrate/internal/datastore/entities"
	"github.com/tphakala/qcmigrate/internal/kind"
)

// KindResult is the outcome of one kind in a run.
type KindResult struct {
	Kind          kind.Kind
	Status        entities.KindStatus
	Total         int64
	Chunks        int
	SkippedChunks int
	Inserted      int64
	Reused        int64
	Retries       int
	Duration      time.Duration
	Warnings      []*ConsistencyWarning
	Err           error

	// Cancelled is set when the run stopped before the kind finished; the
	// kind stays in progress and resumes on the next run.
	Cancelled bool
	// Blocked is set when a dependency did not complete, so the kind never started.
	Blocked bool
}

// RunResult is the outcome of Orchestrator.Run.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Kinds      []*KindResult
}

// Kind returns the result for k, or nil when k was not part of the run.
func (r *RunResult) Kind(k kind.Kind) *KindResult {
	for _, kr := range r.Kinds {
		if kr.Kind == k {
			return kr
		}
	}
	return nil
}

// Failed lists the kinds that ended in the failed state.
func (r *RunResult) Failed() []kind.Kind {
	var out []kind.Kind
	for _, kr := range r.Kinds {
		if kr.Status == entities.KindStatusFailed {
			out = append(out, kr.Kind)
		}
	}
	return out
}

// Cancelled reports whether any kind was interrupted.
func (r *RunResult) Cancelled() bool {
	for _, kr := range r.Kinds {
		if kr.Cancelled {
			return true
		}
	}
	return false
}

// HasErrors reports whether any kind failed, was blocked or was interrupted.
func (r *RunResult) HasErrors() bool {
	for _, kr := range r.Kinds {
		if kr.Err != nil || kr.Status != entities.KindStatusCompleted {
			return true
		}
	}
	return false
}

// Warnings returns every consistency warning of the run.
func (r *RunResult) Warnings() []*ConsistencyWarning {
	var out []*ConsistencyWarning
	for _, kr := range r.Kinds {
		out = append(out, kr.Warnings...)
	}
	return out
}

// Summary renders a one-line-per-kind overview for the operator.
func (r *RunResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s finished in %s\n", r.RunID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, kr := range r.Kinds {
		fmt.Fprintf(&b, "  %-22s %-12s total=%d inserted=%d reused=%d chunks=%d skipped=%d retries=%d warnings=%d",
			kr.Kind, kr.Status, kr.Total, kr.Inserted, kr.Reused, kr.Chunks, kr.SkippedChunks, kr.Retries, len(kr.Warnings))
		if kr.Err != nil {
			fmt.Fprintf(&b, " error=%q", kr.Err.Error())
		}
		b.WriteByte('\n')
	}
	return b.String()
}
