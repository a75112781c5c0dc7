package safeio

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"playground/internal/workspace"
)

// MaxProjectFiles bounds how many files ReadProject accepts.
const MaxProjectFiles = 500

var ErrTooManyFiles = errors.New("safeio: project has too many files")

// Skipped reports a file ReadProject left out.
type Skipped struct {
	Path   string
	Reason string
}

// ReadProject walks the root and returns every file the playground
// understands as seeds, sorted by path. Hidden entries and node_modules are
// ignored; unsupported or oversized files are reported in skipped.
func ReadProject(s *SafeFS) (seeds []workspace.Seed, skipped []Skipped, err error) {
	err = fs.WalkDir(s, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == "." {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || name == "node_modules" {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}
		if _, kerr := workspace.KindOf(name); kerr != nil {
			skipped = append(skipped, Skipped{Path: p, Reason: "unsupported file type"})
			return nil
		}
		data, rerr := s.ReadFile(p)
		if rerr != nil {
			return rerr
		}
		if len(data) > workspace.MaxFileSize {
			skipped = append(skipped, Skipped{Path: p, Reason: "file too large"})
			return nil
		}
		if len(seeds) >= MaxProjectFiles {
			return fmt.Errorf("%w: limit %d", ErrTooManyFiles, MaxProjectFiles)
		}
		seeds = append(seeds, workspace.Seed{Path: p, Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].Path < seeds[j].Path })
	return seeds, skipped, nil
}

// WriteProject writes seeds under the root.
func WriteProject(s *SafeFS, seeds []workspace.Seed) error {
	for _, sd := range seeds {
		if err := s.WriteFile(sd.Path, []byte(sd.Content)); err != nil {
			return fmt.Errorf("write %s: %w", sd.Path, err)
		}
	}
	return nil
}
