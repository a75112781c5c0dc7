package rpc

import (
	"path/filepath"
	"testing"
	"time"

	artifactrepo "playground/internal/gateway/repository/artifact"
	"playground/internal/gateway/repository/projectstore"
	"playground/internal/gateway/service/project"
	"playground/internal/pipeline"
	"playground/internal/pipeline/resolve"
	"playground/internal/pipeline/transpile"
	"playground/internal/registry"
	"playground/internal/sandbox"
	"playground/internal/session"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*project.Service, *session.Manager) {
	t.Helper()
	tr, err := transpile.New(16)
	require.NoError(t, err)
	builder := pipeline.NewBuilder(tr, resolve.New(resolve.DefaultRegistry()))
	docs := sandbox.NewDocuments(16, time.Minute)
	mgr := session.NewManager(func(id string) (session.Options, error) {
		return session.Options{
			Debounce:    time.Hour,
			AutoRefresh: true,
			Builder:     builder,
			Host:        sandbox.NewFrame(id, docs),
		}, nil
	}, "basic")
	t.Cleanup(mgr.CloseAll)

	store, err := projectstore.New(projectstore.NewFileBackend(filepath.Join(t.TempDir(), "p.json")), 8)
	require.NoError(t, err)
	return project.New(mgr, store, artifactrepo.NewMemoryStore(), registry.New(registry.Options{})), mgr
}
