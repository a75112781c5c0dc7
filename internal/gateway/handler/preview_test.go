package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPreviewMux(t *testing.T) (*http.ServeMux, *session.Manager, artifactrepo.Store) {
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
	shares := artifactrepo.NewMemoryStore()
	h := NewPreviewHandler(project.New(mgr, store, shares, registry.New(registry.Options{})), mgr)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /shared/{id}", h.HandleShared)
	mux.HandleFunc("GET /debug/session", h.HandleSessionDebug)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	return mux, mgr, shares
}

func serve(mux http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleShared(t *testing.T) {
	mux, _, shares := newPreviewMux(t)
	require.NoError(t, shares.Put(context.Background(), "abc", project.ShareDocument, []byte("<html><body>shared</body></html>")))

	rec := serve(mux, "/shared/abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shared")
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "sandbox")

	assert.Equal(t, http.StatusNotFound, serve(mux, "/shared/missing").Code)
}

func TestHandleSessionDebug(t *testing.T) {
	mux, mgr, _ := newPreviewMux(t)

	assert.Equal(t, http.StatusBadRequest, serve(mux, "/debug/session").Code)
	assert.Equal(t, http.StatusNotFound, serve(mux, "/debug/session?session=nope").Code)

	_, _, err := mgr.Open(context.Background(), "dbg")
	require.NoError(t, err)
	rec := serve(mux, "/debug/session?session=dbg")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "dbg", body["session"])
	assert.Contains(t, body, "diagnostics")
}

func TestHandleHealth(t *testing.T) {
	mux, mgr, _ := newPreviewMux(t)
	_, _, err := mgr.Open(context.Background(), "h1")
	require.NoError(t, err)

	rec := serve(mux, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		OK       bool `json:"ok"`
		Sessions int  `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.OK)
	assert.Equal(t, 1, body.Sessions)
}
