package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Package a project directory as a ZIP archive",
		Long: `Collects the project files the editor would load from <dir> and writes
them to a ZIP archive, <dir>.zip by default.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, skipped, err := loadProject(args[0], "")
			printSkipped(cmd.ErrOrStderr(), skipped)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Clean(args[0]) + ".zip"
			}
			snap := store.Snapshot()
			if output == "-" {
				return snap.WriteZip(cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := snap.WriteZip(f); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", output, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "exported %d file(s) to %s\n", len(snap.Files), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "out", "o", "", "Archive path, or - for stdout (default: <dir>.zip)")
	return cmd
}
