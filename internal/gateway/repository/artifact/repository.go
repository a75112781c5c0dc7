// Package artifact stores shared preview documents.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store persists the files of a shared preview under its share id.
type Store interface {
	Put(ctx context.Context, shareID, path string, content []byte) error
	Get(ctx context.Context, shareID, path string) ([]byte, error)
	// GetURL returns a direct download URL, or "" when the store has none.
	GetURL(ctx context.Context, shareID, path string) (string, error)
	List(ctx context.Context, shareID string) ([]string, error)
}

var ErrNotFound = errors.New("artifact not found")

func normalizeKey(shareID, path string) (string, string, error) {
	shareID = strings.TrimSpace(shareID)
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if shareID == "" {
		return "", "", fmt.Errorf("share_id is required")
	}
	if path == "" {
		return "", "", fmt.Errorf("path is required")
	}
	return shareID, path, nil
}

func objectKey(shareID, path string) string {
	return shareID + "/" + path
}
