package commands

import (
	"fmt"
	"os"
	"time"

	"playground/internal/pipeline"

	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	var (
		entry  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Synthesize the preview document of a project",
		Long: `Builds the project the way the editor preview does and writes the
resulting HTML document to stdout, or to --out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, skipped, err := loadProject(args[0], entry)
			printSkipped(cmd.ErrOrStderr(), skipped)
			if err != nil {
				return err
			}
			out, err := buildProject(cmd.Context(), store)
			if err != nil {
				return err
			}
			printDiagnostics(cmd.ErrOrStderr(), out.Diagnostics)
			switch out.Status {
			case pipeline.StatusUnavailable:
				return fmt.Errorf("preview unavailable: %s", out.Reason)
			case pipeline.StatusFailed:
				return errDiagnostics
			}

			if output == "" || output == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), out.Document.HTML)
				return err
			}
			if err := os.WriteFile(output, []byte(out.Document.HTML), 0o644); err != nil {
				return err
			}
			successColor.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes, %d libraries) in %s\n",
				output, len(out.Document.HTML), len(out.Document.Libraries), out.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&entry, "entry", "e", "", "Entry markup file (default: index.html or the first markup file)")
	cmd.Flags().StringVarP(&output, "out", "o", "", "Write the document to this file instead of stdout")
	return cmd
}
