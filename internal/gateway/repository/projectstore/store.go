// Package projectstore persists playground projects and their file history.
package projectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"playground/internal/logging"

	"github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("project not found")
	ErrInvalidID = errors.New("project id is required")
)

// Backend is the remote file/version service.
type Backend interface {
	Load(ctx context.Context, id string) (Project, error)
	// Save replaces the project's files and returns the versions it recorded.
	Save(ctx context.Context, p Project) ([]Version, error)
	// Versions lists recorded changes, newest first. An empty path lists all.
	Versions(ctx context.Context, id, path string) ([]Version, error)
	Close() error
}

const DefaultCacheSize = 256

// Store fronts a Backend with an LRU of loaded projects.
type Store struct {
	backend Backend
	cache   *lru.Cache[string, Project]
}

func New(backend Backend, cacheSize int) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("projectstore: backend is nil")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Project](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, cache: cache}, nil
}

// Open picks the Postgres backend when dsn is set and the JSON file backend
// at path otherwise. An unreachable database falls back to the file.
func Open(path, dsn string, cacheSize int) (*Store, error) {
	var backend Backend
	if dsn = strings.TrimSpace(dsn); dsn != "" {
		pg, err := NewPostgresBackend(dsn)
		if err == nil {
			logging.L().Info("project store: postgres")
			backend = pg
		} else {
			logging.L().Warn("project store: postgres unavailable, using file", zap.Error(err), zap.String("path", path))
		}
	}
	if backend == nil {
		backend = NewFileBackend(path)
	}
	return New(backend, cacheSize)
}

func (s *Store) Load(ctx context.Context, id string) (Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Project{}, ErrInvalidID
	}
	if p, ok := s.cache.Get(id); ok {
		return cloneProject(p), nil
	}
	p, err := s.backend.Load(ctx, id)
	if err != nil {
		return Project{}, err
	}
	s.cache.Add(id, p)
	return cloneProject(p), nil
}

func (s *Store) Save(ctx context.Context, p Project) ([]Version, error) {
	p = normalizeProject(p)
	if p.ID == "" {
		return nil, ErrInvalidID
	}
	s.cache.Remove(p.ID)
	versions, err := s.backend.Save(ctx, p)
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func (s *Store) Versions(ctx context.Context, id, path string) ([]Version, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}
	return s.backend.Versions(ctx, id, cleanPath(path))
}

func (s *Store) Close() error {
	s.cache.Purge()
	return s.backend.Close()
}
