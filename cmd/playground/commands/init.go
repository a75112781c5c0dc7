package commands

import (
	"fmt"
	"os"
	"strings"

	"playground/internal/safeio"
	"playground/internal/workspace"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var template string
	cmd := &cobra.Command{
		Use:   "init <dir>",
		Short: "Create a project directory from a template",
		Long:  "Creates <dir> and writes the files of a starter template into it. Templates: " + strings.Join(workspace.Templates(), ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := workspace.Template(template)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(args[0], 0o755); err != nil {
				return err
			}
			fsys, err := safeio.NewSafeFS(args[0])
			if err != nil {
				return err
			}
			if entries, err := os.ReadDir(fsys.Root()); err != nil {
				return err
			} else if len(entries) > 0 {
				return fmt.Errorf("%s is not empty", fsys.Root())
			}
			if err := safeio.WriteProject(fsys, seeds); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			headerColor.Fprintf(out, "created %s from template %q\n", fsys.Root(), template)
			for _, sd := range seeds {
				pathColor.Fprintf(out, "  %s\n", sd.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", "basic", "Starter template")
	return cmd
}
