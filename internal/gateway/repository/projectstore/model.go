package projectstore

import (
	"path"
	"sort"
	"strings"
	"time"
)

// Project is the persisted form of a playground: its files and entry page.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Entry     string    `json:"entry,omitempty"`
	Files     []File    `json:"files"`
	UpdatedAt time.Time `json:"updated_at"`
}

type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type Change string

const (
	ChangeAdded    Change = "added"
	ChangeModified Change = "modified"
	ChangeDeleted  Change = "deleted"
)

// Version records one file change made by a save.
type Version struct {
	ID        int       `json:"id"`
	ProjectID string    `json:"project_id"`
	Path      string    `json:"path"`
	Change    Change    `json:"change"`
	Diff      string    `json:"diff"`
	CreatedAt time.Time `json:"created_at"`
}

func normalizeProject(p Project) Project {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = "Project"
	}
	p.Entry = cleanPath(p.Entry)
	files := make([]File, 0, len(p.Files))
	seen := make(map[string]int, len(p.Files))
	for _, f := range p.Files {
		f.Path = cleanPath(f.Path)
		if f.Path == "" {
			continue
		}
		if i, ok := seen[f.Path]; ok {
			files[i] = f
			continue
		}
		seen[f.Path] = len(files)
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	p.Files = files
	return p
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean("/" + p)
}

func cloneProject(p Project) Project {
	p.Files = append([]File(nil), p.Files...)
	return p
}

type rowScanner interface {
	Scan(dest ...any) error
}
