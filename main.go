package main

import (
	"fmt"
	"os"

	"github.com/tphakala/qcmigrate/cmd"
	"github.com/tphakala/qcmigrate/internal/buildinfo"
	"github.com/tphakala/qcmigrate/internal/runtime"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   string
	buildDate string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	ctx := runtime.NewContext(buildinfo.NewContext(version, buildDate))
	defer ctx.Close()

	rootCmd := cmd.RootCommand(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
