package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tphakala/qcmigrate/cmd/migrate"
	"github.com/tphakala/qcmigrate/cmd/ping"
	"github.com/tphakala/qcmigrate/cmd/reset"
	"github.com/tphakala/qcmigrate/cmd/status"
	"github.com/tphakala/qcmigrate/cmd/verify"
	"github.com/tphakala/qcmigrate/internal/conf"
	"github.com/tphakala/qcmigrate/internal/runtime"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *runtime.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "qcmigrate",
		Short:         "Migrate a QCFractal document store into a relational database",
		Version:       ctx.Build.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd, &configFile)

	rootCmd.AddCommand(
		migrate.Command(ctx),
		status.Command(ctx),
		verify.Command(ctx),
		reset.Command(ctx),
		ping.Command(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Flags of the executing command take precedence over file and environment.
		if err := conf.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		return ctx.Initialize(configFile)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to the configuration file")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("log-level", "", "Default log level (trace, debug, info, warn, error)")

	conf.BindFlag(flags, "debug", "debug")
	conf.BindFlag(flags, "log-level", "logging.default_level")
}
