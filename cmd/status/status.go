package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/migration"
	"github.com/tphakala/qcmigrate/internal/runtime"
)

// Command creates the status command.
func Command(ctx *runtime.Context) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the migration state of every kind",
		Long:  "Show the persisted migration state of every kind in the target store, including progress and the last recorded failure.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := ctx.OpenTarget(true)
			if err != nil {
				return err
			}
			defer func() {
				if err := target.Close(); err != nil {
					ctx.Log.Warn("failed to close target store", logger.Error(err))
				}
			}()

			reports, err := migration.Status(cmd.Context(), target.DB())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), reports)
			}
			return writeTable(cmd.OutOrStdout(), reports)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the state as JSON")

	return cmd
}

type kindJSON struct {
	Kind          string   `json:"kind"`
	State         string   `json:"state"`
	RunID         string   `json:"run_id,omitempty"`
	Total         int64    `json:"total"`
	Migrated      int64    `json:"migrated"`
	Reused        int64    `json:"reused"`
	SkippedChunks int64    `json:"skipped_chunks"`
	LastOffset    int64    `json:"last_offset"`
	Progress      float64  `json:"progress_percent"`
	Mapped        int64    `json:"mapped"`
	Dependencies  []string `json:"dependencies,omitempty"`
	Ready         bool     `json:"ready"`
	Error         string   `json:"error,omitempty"`
	FailedSource  string   `json:"failed_source_id,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
}

func writeJSON(w io.Writer, reports []migration.KindReport) error {
	out := make([]kindJSON, 0, len(reports))
	for i := range reports {
		r := &reports[i]
		k := kindJSON{
			Kind:          r.Kind,
			State:         string(r.State),
			RunID:         r.RunID,
			Total:         r.TotalRecords,
			Migrated:      r.MigratedRecords,
			Reused:        r.ReusedRecords,
			SkippedChunks: r.SkippedChunks,
			LastOffset:    r.LastOffset,
			Progress:      r.Progress(),
			Mapped:        r.Mapped,
			Ready:         r.Ready,
			Error:         r.ErrorMessage,
		}
		for _, d := range r.Dependencies {
			k.Dependencies = append(k.Dependencies, string(d))
		}
		if r.LastFailure != nil {
			k.FailedSource = r.LastFailure.SourceID
			k.FailureReason = r.LastFailure.Reason
		}
		out = append(out, k)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeTable(w io.Writer, reports []migration.KindReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSTATE\tPROGRESS\tMIGRATED\tREUSED\tMAPPED\tREADY\tDETAIL")
	for i := range reports {
		r := &reports[i]
		fmt.Fprintf(tw, "%s\t%s\t%d/%d (%.1f%%)\t%d\t%d\t%d\t%s\t%s\n",
			r.Kind, r.State, r.LastOffset, r.TotalRecords, r.Progress(),
			r.MigratedRecords, r.ReusedRecords, r.Mapped, readiness(r), detail(r))
	}
	return tw.Flush()
}

func readiness(r *migration.KindReport) string {
	if r.Ready {
		return "yes"
	}
	deps := make([]string, len(r.Dependencies))
	for i, d := range r.Dependencies {
		deps[i] = string(d)
	}
	return "waits on " + strings.Join(deps, ",")
}

func detail(r *migration.KindReport) string {
	if r.LastFailure != nil {
		return fmt.Sprintf("%s at %s (offset %d)", r.LastFailure.Reason, r.LastFailure.SourceID, r.LastFailure.ChunkFrom)
	}
	return r.ErrorMessage
}
