// Package commands implements the playground command line: scaffold a
// project directory, build its preview document, check it for diagnostics,
// run it headless and export it as a ZIP archive.
package commands

import (
	"errors"
	"fmt"
	"os"

	"playground/internal/logging"

	"github.com/spf13/cobra"
)

// errDiagnostics marks a run that completed but reported errors. The
// diagnostics themselves have already been printed.
var errDiagnostics = errors.New("project has errors")

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, errDiagnostics) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:   "playground",
		Short: "Build, check and run playground projects from the command line",
		Long: `playground works on a project directory the same way the editor does:
markup, stylesheets, scripts, JSX/TSX components and an optional package.json.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return logging.Init(logging.Config{Level: logLevel, Format: "console", OutputPath: "stderr"})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newInitCmd(), newBuildCmd(), newCheckCmd(), newRunCmd(), newExportCmd())
	return root
}
