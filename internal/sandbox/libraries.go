package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxLibraryBytes = 8 << 20

var ErrLibraryNotFound = errors.New("sandbox: library not found")

// LibrarySource fetches runtime library scripts for the headless host.
type LibrarySource interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// StaticLibraries serves scripts from memory, keyed by URL.
type StaticLibraries map[string]string

func (s StaticLibraries) Fetch(_ context.Context, url string) (string, error) {
	src, ok := s[url]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, url)
	}
	return src, nil
}

// HTTPLibraries downloads scripts and keeps the most recent ones in memory.
type HTTPLibraries struct {
	client *http.Client
	cache  *lru.Cache[string, string]
}

func NewHTTPLibraries(client *http.Client, cacheSize int) (*HTTPLibraries, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cacheSize <= 0 {
		cacheSize = 32
	}
	c, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &HTTPLibraries{client: client, cache: c}, nil
}

func (h *HTTPLibraries) Fetch(ctx context.Context, url string) (string, error) {
	if src, ok := h.cache.Get(url); ok {
		return src, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrLibraryNotFound, url)
		}
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLibraryBytes+1))
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if len(body) > maxLibraryBytes {
		return "", fmt.Errorf("fetch %s: library exceeds %d bytes", url, maxLibraryBytes)
	}
	src := string(body)
	h.cache.Add(url, src)
	return src, nil
}
