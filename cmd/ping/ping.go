package ping

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tphakala/qcmigrate/internal/errors"
	"github.com/tphakala/qcmigrate/internal/logger"
	"github.com/tphakala/qcmigrate/internal/runtime"
)

// Command creates the ping command.
func Command(ctx *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that both stores are reachable",
		Long:  "Connect to the source and target stores and exit non-zero when either does not answer. The target schema is not modified.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), ctx)
		},
	}
}

func run(ctx context.Context, w io.Writer, rc *runtime.Context) error {
	var errs []error

	if err := pingSource(ctx, rc); err != nil {
		errs = append(errs, err)
		fmt.Fprintf(w, "source  %-8s unreachable: %v\n", rc.Settings.Source.Type, err)
	} else {
		fmt.Fprintf(w, "source  %-8s ok\n", rc.Settings.Source.Type)
	}

	if err := pingTarget(ctx, rc); err != nil {
		errs = append(errs, err)
		fmt.Fprintf(w, "target  %-8s unreachable: %v\n", rc.Settings.Target.Type, err)
	} else {
		fmt.Fprintf(w, "target  %-8s ok\n", rc.Settings.Target.Type)
	}

	return errors.Join(errs...)
}

func pingSource(ctx context.Context, rc *runtime.Context) error {
	src, err := rc.OpenSource(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(context.Background()); err != nil {
			rc.Log.Warn("failed to close source store", logger.Error(err))
		}
	}()
	return src.Ping(ctx)
}

func pingTarget(ctx context.Context, rc *runtime.Context) error {
	target, err := rc.OpenTarget(false)
	if err != nil {
		return err
	}
	defer func() {
		if err := target.Close(); err != nil {
			rc.Log.Warn("failed to close target store", logger.Error(err))
		}
	}()
	return target.Ping(ctx)
}
