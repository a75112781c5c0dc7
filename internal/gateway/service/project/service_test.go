package project

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	artifactrepo "playground/internal/gateway/repository/artifact"
	"playground/internal/gateway/repository/projectstore"
	"playground/internal/pipeline"
	"playground/internal/pipeline/resolve"
	"playground/internal/pipeline/transpile"
	"playground/internal/registry"
	"playground/internal/sandbox"
	"playground/internal/session"
	"playground/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, *session.Manager) {
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
	return New(mgr, store, artifactrepo.NewMemoryStore(), registry.New(registry.Options{})), mgr
}

func TestSaveAndLoadIntoAnotherSession(t *testing.T) {
	ctx := context.Background()
	svc, mgr := newService(t)
	_, _, err := mgr.Open(ctx, "one")
	require.NoError(t, err)

	saved, versions, err := svc.Save(ctx, "one", "demo", "Demo")
	require.NoError(t, err)
	assert.Equal(t, "Demo", saved.Name)
	assert.Equal(t, "/index.html", saved.Entry)
	assert.Len(t, saved.Files, 4)
	assert.Len(t, versions, 4)

	sess, _, err := mgr.Open(ctx, "two")
	require.NoError(t, err)
	_, err = sess.CreateFile(ctx, "extra.js", "1")
	require.NoError(t, err)

	_, err = svc.Load(ctx, "two", "demo")
	require.NoError(t, err)
	files, err := sess.Files(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 4)

	got, err := svc.Versions(ctx, "demo", "/styles.css")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, projectstore.ChangeAdded, got[0].Change)
}

func TestSaveUnknownSession(t *testing.T) {
	svc, _ := newService(t)
	_, _, err := svc.Save(context.Background(), "nope", "demo", "")
	assert.ErrorIs(t, err, session.ErrUnknownSession)
}

func TestShareStoresRunningDocument(t *testing.T) {
	ctx := context.Background()
	svc, mgr := newService(t)
	_, _, err := mgr.Open(ctx, "one")
	require.NoError(t, err)

	var share Share
	require.Eventually(t, func() bool {
		share, err = svc.Share(ctx, "one")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "/shared/"+share.ID, share.URL)
	assert.NotZero(t, share.Generation)

	doc, err := svc.Shared(ctx, share.ID)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(doc), "<html"), "shared document is not markup")

	_, err = svc.Shared(ctx, "missing")
	assert.ErrorIs(t, err, artifactrepo.ErrNotFound)
}

func TestExportZipsSessionFiles(t *testing.T) {
	ctx := context.Background()
	svc, mgr := newService(t)
	sess, _, err := mgr.Open(ctx, "one")
	require.NoError(t, err)
	_, err = sess.CreateFile(ctx, "src/extra.js", "export const x = 1;")
	require.NoError(t, err)

	data, err := svc.Export(ctx, "one")
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Len(t, names, 5)
	assert.Contains(t, names, "index.html")
	assert.Contains(t, names, "src/extra.js")

	_, err = svc.Export(ctx, "nope")
	assert.ErrorIs(t, err, session.ErrUnknownSession)
}

func TestInstallTakesCatalogVersion(t *testing.T) {
	ctx := context.Background()
	svc, mgr := newService(t)
	sess, _, err := mgr.Open(ctx, "one")
	require.NoError(t, err)

	res, err := svc.Install(ctx, sess, "lodash", "", workspace.DepRuntime)
	require.NoError(t, err)
	assert.Equal(t, workspace.Installed, res)
	deps, err := sess.Manifest(ctx)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "4.17.21", deps[0].Version)

	_, err = svc.Install(ctx, sess, "unheard-of", "", workspace.DepRuntime)
	assert.ErrorIs(t, err, registry.ErrUnknownPackage)
}

func TestSearchPackages(t *testing.T) {
	svc, _ := newService(t)
	assert.NotEmpty(t, svc.SearchPackages(context.Background(), ""))
}
