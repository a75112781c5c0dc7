package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"playground/internal/bridge"
	"playground/internal/diag"
	"playground/internal/pipeline"
	"playground/internal/sandbox"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		entry    string
		budget   time.Duration
		offline  bool
		showBody bool
	)
	cmd := &cobra.Command{
		Use:   "run <dir>",
		Short: "Execute a project in the headless sandbox",
		Long: `Builds the project and runs the document in an embedded JavaScript
runtime. Console output and uncaught errors are printed with their
original source locations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			store, skipped, err := loadProject(args[0], entry)
			printSkipped(cmd.ErrOrStderr(), skipped)
			if err != nil {
				return err
			}
			out, err := buildProject(cmd.Context(), store)
			if err != nil {
				return err
			}
			if out.Status != pipeline.StatusReady {
				printDiagnostics(w, out.Diagnostics)
				if out.Status == pipeline.StatusUnavailable {
					return fmt.Errorf("preview unavailable: %s", out.Reason)
				}
				return errDiagnostics
			}

			var libs sandbox.LibrarySource = sandbox.StaticLibraries{}
			if !offline {
				if libs, err = sandbox.NewHTTPLibraries(nil, 0); err != nil {
					return err
				}
			}
			host := sandbox.NewHeadless(sandbox.HeadlessConfig{Budget: budget}, libs)
			defer host.Teardown()

			view, err := execute(cmd.Context(), host, out)
			if err != nil {
				return err
			}
			headerColor.Fprintf(w, "%s: generation %d\n", args[0], view.Generation)
			printDiagnostics(w, view.Diagnostics)
			if view.Suppressed > 0 {
				warningColor.Fprintf(w, "%d more diagnostic(s) suppressed\n", view.Suppressed)
			}
			if showBody {
				headerColor.Fprintln(w, "body:")
				fmt.Fprintln(w, strings.TrimSpace(host.BodyText()))
			}
			if diag.HasErrors(view.Diagnostics) {
				return errDiagnostics
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&entry, "entry", "e", "", "Entry markup file")
	cmd.Flags().DurationVar(&budget, "budget", sandbox.DefaultBudget, "Wall-clock limit for script execution")
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not download runtime libraries")
	cmd.Flags().BoolVar(&showBody, "body", false, "Print the document body text after execution")
	return cmd
}

// execute runs the built document and returns the diagnostics it produced,
// including the static ones from the build.
func execute(ctx context.Context, host *sandbox.Headless, out pipeline.Outcome) (bridge.View, error) {
	b := bridge.New()
	b.Begin(out.Generation)
	if err := b.Complete(bridge.Completion{
		Generation:  out.Generation,
		Status:      bridge.StatusRunning,
		Diagnostics: out.Diagnostics,
		SourceMaps:  out.Document.SourceMaps,
	}); err != nil {
		return bridge.View{}, err
	}
	if err := host.Load(ctx, out.Generation, out.Document, b); err != nil {
		return bridge.View{}, err
	}
	if err := host.Wait(ctx); err != nil {
		return bridge.View{}, err
	}
	return b.View(), nil
}
