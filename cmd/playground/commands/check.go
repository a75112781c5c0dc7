package commands

import (
	"fmt"

	"playground/internal/diag"
	"playground/internal/pipeline"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var (
		entry  string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "check <dir>",
		Short: "Report static diagnostics without running the project",
		Long: `Transpiles every script and component, validates package.json and
resolves runtime libraries. Exits non-zero when errors are found, or
warnings with --strict.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			store, skipped, err := loadProject(args[0], entry)
			printSkipped(w, skipped)
			if err != nil {
				return err
			}
			out, err := buildProject(cmd.Context(), store)
			if err != nil {
				return err
			}
			if out.Status == pipeline.StatusUnavailable {
				warningColor.Fprintf(w, "preview unavailable: %s\n", out.Reason)
			}
			printDiagnostics(w, out.Diagnostics)
			printSummary(w, out.Diagnostics)

			if diag.HasErrors(out.Diagnostics) {
				return errDiagnostics
			}
			if strict && diag.Count(out.Diagnostics, diag.SeverityWarning) > 0 {
				return errDiagnostics
			}
			if out.Status == pipeline.StatusUnavailable {
				return fmt.Errorf("preview unavailable: %s", out.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&entry, "entry", "e", "", "Entry markup file")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	return cmd
}
