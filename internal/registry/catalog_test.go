package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchShortQueryListsPopular(t *testing.T) {
	c := New(Options{})
	got, err := c.Search(context.Background(), "r")
	require.NoError(t, err)
	assert.Len(t, got, len(popular))
}

func TestSearchOfflineFiltersPopular(t *testing.T) {
	c := New(Options{})
	got, err := c.Search(context.Background(), "redux")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "4.2.1", got[0].Version)

	got, err = c.Search(context.Background(), "react")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "react", got[0].Name)
}

func TestSearchRemoteIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/-/v1/search", r.URL.Path)
		assert.Equal(t, "left-pad", r.URL.Query().Get("text"))
		_, _ = w.Write([]byte(`{"objects":[{"package":{"name":"left-pad","version":"1.3.0"}}]}`))
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Client: srv.Client()})
	for i := 0; i < 2; i++ {
		got, err := c.Search(context.Background(), "left-pad")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "No description available", got[0].Description)
	}
	assert.Equal(t, int32(1), calls.Load())

	v, err := c.Version(context.Background(), "left-pad")
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", v)
}

func TestSearchRemoteFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Options{Endpoint: srv.URL, Client: srv.Client()})
	got, err := c.Search(context.Background(), "lodash")
	require.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lodash", got[0].Name)
}

func TestVersion(t *testing.T) {
	c := New(Options{})
	v, err := c.Version(context.Background(), "react")
	require.NoError(t, err)
	assert.Equal(t, "18.2.0", v)

	_, err = c.Version(context.Background(), "nope-nope")
	assert.ErrorIs(t, err, ErrUnknownPackage)
}
