package projectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type fileData struct {
	Projects []Project `json:"projects"`
	Versions []Version `json:"versions"`
}

// FileBackend keeps every project in one JSON file.
type FileBackend struct {
	path string
	now  func() time.Time

	loadOnce sync.Once
	loadErr  error

	mu       sync.RWMutex
	byID     map[string]Project
	versions []Version
	nextID   int
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{
		path: path,
		now:  time.Now,
		byID: make(map[string]Project),
	}
}

func (b *FileBackend) ensureLoaded() error {
	b.loadOnce.Do(func() {
		raw, err := os.ReadFile(b.path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			b.loadErr = err
			return
		}
		var data fileData
		if err := json.Unmarshal(raw, &data); err != nil {
			b.loadErr = fmt.Errorf("decode %s: %w", b.path, err)
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, p := range data.Projects {
			p = normalizeProject(p)
			if p.ID == "" {
				continue
			}
			b.byID[p.ID] = p
		}
		b.versions = data.Versions
		for _, v := range b.versions {
			if v.ID > b.nextID {
				b.nextID = v.ID
			}
		}
	})
	return b.loadErr
}

// writeLocked requires b.mu held.
func (b *FileBackend) writeLocked() error {
	data := fileData{Projects: make([]Project, 0, len(b.byID)), Versions: b.versions}
	for _, p := range b.byID {
		data.Projects = append(data.Projects, p)
	}
	sort.Slice(data.Projects, func(i, j int) bool { return data.Projects[i].ID < data.Projects[j].ID })
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

func (b *FileBackend) Load(_ context.Context, id string) (Project, error) {
	if err := b.ensureLoaded(); err != nil {
		return Project{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.byID[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return cloneProject(p), nil
}

func (b *FileBackend) Save(_ context.Context, p Project) ([]Version, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	p = normalizeProject(p)
	if p.ID == "" {
		return nil, ErrInvalidID
	}
	now := b.now().UTC()
	p.UpdatedAt = now

	b.mu.Lock()
	defer b.mu.Unlock()
	recorded := changes(b.byID[p.ID], p, now)
	for i := range recorded {
		b.nextID++
		recorded[i].ID = b.nextID
	}
	b.byID[p.ID] = p
	b.versions = append(b.versions, recorded...)
	if err := b.writeLocked(); err != nil {
		return nil, fmt.Errorf("write %s: %w", b.path, err)
	}
	return recorded, nil
}

func (b *FileBackend) Versions(_ context.Context, id, path string) ([]Version, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.byID[id]; !ok {
		return nil, ErrNotFound
	}
	out := make([]Version, 0, 16)
	for i := len(b.versions) - 1; i >= 0; i-- {
		v := b.versions[i]
		if v.ProjectID != id || (path != "" && v.Path != path) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (b *FileBackend) Close() error { return nil }
