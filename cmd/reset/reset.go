package reset

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tphakala/qcmigrate/internal/kind"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/migration"
	"github.com/tphakala/qcmigrate/internal/runtime"
)

// Command creates the reset command.
func Command(ctx *runtime.Context) *cobra.Command {
	var (
		kindName string
		cascade  bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Rewind a kind to not started",
		Long: `Delete the target rows, identifier mappings and state of a kind so the next
migrate copies it again. The source store is not touched. A kind whose
dependents hold mappings is only reset together with them, using --cascade.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := kind.Parse(kindName)
			if err != nil {
				return err
			}

			target, err := ctx.OpenTarget(true)
			if err != nil {
				return err
			}
			defer func() {
				if err := target.Close(); err != nil {
					ctx.Log.Warn("failed to close target store", logger.Error(err))
				}
			}()

			results, err := migration.Reset(cmd.Context(), target.DB(), k, cascade)
			for _, res := range results {
				ctx.Log.Info("kind reset",
					logger.String("kind", string(res.Kind)),
					logger.Int64("rows_deleted", res.RowsDeleted),
					logger.Int64("mappings_deleted", res.MappingsDeleted))
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s rows=%d mappings=%d\n", res.Kind, res.RowsDeleted, res.MappingsDeleted)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&kindName, "kind", "k", "", "Kind to reset")
	cmd.Flags().BoolVar(&cascade, "cascade", false, "Also reset kinds that reference this one")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}
