package commands

import (
	"context"
	"fmt"

	"playground/internal/pipeline"
	"playground/internal/pipeline/resolve"
	"playground/internal/pipeline/transpile"
	"playground/internal/safeio"
	"playground/internal/workspace"
)

// cliSession tags the documents built from the command line.
const cliSession = "cli"

// loadProject reads dir into a workspace store. A non-empty entry selects
// the markup file the preview starts from.
func loadProject(dir, entry string) (*workspace.Store, []safeio.Skipped, error) {
	fsys, err := safeio.NewSafeFS(dir)
	if err != nil {
		return nil, nil, err
	}
	seeds, skipped, err := safeio.ReadProject(fsys)
	if err != nil {
		return nil, skipped, err
	}
	if len(seeds) == 0 {
		return nil, skipped, fmt.Errorf("no project files in %s", fsys.Root())
	}
	store := workspace.NewStore()
	if err := store.Seed(seeds); err != nil {
		return nil, skipped, err
	}
	if entry != "" {
		f, ok := store.Lookup(entry)
		if !ok {
			return nil, skipped, fmt.Errorf("entry %s: %w", entry, workspace.ErrNotFound)
		}
		if err := store.SetEntry(f.Info().ID); err != nil {
			return nil, skipped, fmt.Errorf("entry %s: %w", entry, err)
		}
	}
	return store, skipped, nil
}

func buildProject(ctx context.Context, store *workspace.Store) (pipeline.Outcome, error) {
	tr, err := transpile.New(transpile.DefaultCacheSize)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	builder := pipeline.NewBuilder(tr, resolve.New(resolve.DefaultRegistry()))
	return builder.Build(ctx, pipeline.Request{
		Session:    cliSession,
		Generation: 1,
		Snapshot:   store.Snapshot(),
	})
}
