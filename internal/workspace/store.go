package workspace

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("file not found")
	ErrPathExists      = errors.New("a file with that path already exists")
	ErrInvalidPath     = errors.New("invalid file path")
	ErrManifestExists  = errors.New("project already has a package.json")
	ErrNotMarkup       = errors.New("entry point must be a markup file")
	ErrContentTooLarge = errors.New("file content too large")
)

// MaxFileSize bounds the content of a single file.
const MaxFileSize = 2 << 20

// Store holds the project files of one session. It is not safe for
// concurrent use; the owning session serialises access.
type Store struct {
	order []string
	byID  map[string]File
	entry string

	now   func() time.Time
	newID func() string
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides id generation.
func WithIDs(next func() string) Option {
	return func(s *Store) { s.newID = next }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		byID:  make(map[string]File),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a file at p. The first markup file becomes the entry point.
func (s *Store) Create(p, content string) (File, error) {
	dir, name := SplitPath(p)
	if name == "" {
		return nil, ErrInvalidPath
	}
	if len(content) > MaxFileSize {
		return nil, ErrContentTooLarge
	}
	kind, err := KindOf(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	full := Base{Dir: dir, Name: name}.Path()
	if _, ok := s.Lookup(full); ok {
		return nil, fmt.Errorf("%s: %w", full, ErrPathExists)
	}
	if kind == KindManifest && s.manifestID() != "" {
		return nil, ErrManifestExists
	}
	f, err := NewFile(Base{
		ID:           s.newID(),
		Name:         name,
		Dir:          dir,
		Content:      content,
		LastModified: s.now(),
	})
	if err != nil {
		return nil, err
	}
	id := f.Info().ID
	s.byID[id] = f
	s.order = append(s.order, id)
	if kind == KindMarkup && s.entry == "" {
		s.entry = id
	}
	return f, nil
}

// Update replaces the content of a file.
func (s *Store) Update(id, content string) (File, error) {
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if len(content) > MaxFileSize {
		return nil, ErrContentTooLarge
	}
	b := f.Info()
	b.Content = content
	b.LastModified = s.now()
	return s.replace(b)
}

// Rename changes a file's name within its directory. The id is kept even if
// the new name changes the content kind.
func (s *Store) Rename(id, name string) (File, error) {
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, ErrInvalidPath
	}
	b := f.Info()
	return s.relocate(f, b.Dir, name)
}

// Move places a file in another directory, keeping its name and id.
func (s *Store) Move(id, dir string) (File, error) {
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.relocate(f, CleanPath(dir), f.Info().Name)
}

func (s *Store) relocate(f File, dir, name string) (File, error) {
	kind, err := KindOf(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	b := f.Info()
	target := Base{Dir: dir, Name: name}.Path()
	if other, ok := s.Lookup(target); ok && other.Info().ID != b.ID {
		return nil, fmt.Errorf("%s: %w", target, ErrPathExists)
	}
	if kind == KindManifest && f.Kind() != KindManifest && s.manifestID() != "" {
		return nil, ErrManifestExists
	}
	b.Dir = dir
	b.Name = name
	b.LastModified = s.now()
	nf, err := s.replace(b)
	if err != nil {
		return nil, err
	}
	if b.ID == s.entry && kind != KindMarkup {
		s.entry = s.pickEntry()
	} else if s.entry == "" && kind == KindMarkup {
		s.entry = b.ID
	}
	return nf, nil
}

func (s *Store) replace(b Base) (File, error) {
	nf, err := NewFile(b)
	if err != nil {
		return nil, err
	}
	s.byID[b.ID] = nf
	return nf, nil
}

// Delete removes a file. Removing the entry point selects a replacement
// markup file when one exists.
func (s *Store) Delete(id string) (File, error) {
	f, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.entry == id {
		s.entry = s.pickEntry()
	}
	return f, nil
}

// pickEntry prefers index.html, then the first markup file in list order.
func (s *Store) pickEntry() string {
	first := ""
	for _, id := range s.order {
		f := s.byID[id]
		if f.Kind() != KindMarkup {
			continue
		}
		if strings.EqualFold(f.Info().Name, "index.html") {
			return id
		}
		if first == "" {
			first = id
		}
	}
	return first
}

// SetEntry marks a markup file as the entry point.
func (s *Store) SetEntry(id string) error {
	f, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if f.Kind() != KindMarkup {
		return ErrNotMarkup
	}
	s.entry = id
	return nil
}

// Entry returns the entry markup, if any.
func (s *Store) Entry() (File, bool) {
	if s.entry == "" {
		return nil, false
	}
	f, ok := s.byID[s.entry]
	return f, ok
}

func (s *Store) Get(id string) (File, bool) {
	f, ok := s.byID[id]
	return f, ok
}

// Lookup finds a file by full path.
func (s *Store) Lookup(p string) (File, bool) {
	p = CleanPath(p)
	for _, id := range s.order {
		f := s.byID[id]
		if Path(f) == p {
			return f, true
		}
	}
	return nil, false
}

// Manifest returns the package.json file, if present.
func (s *Store) Manifest() (File, bool) {
	id := s.manifestID()
	if id == "" {
		return nil, false
	}
	return s.byID[id], true
}

func (s *Store) manifestID() string {
	for _, id := range s.order {
		if s.byID[id].Kind() == KindManifest {
			return id
		}
	}
	return ""
}

// Files returns the files in list order.
func (s *Store) Files() []File {
	out := make([]File, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *Store) Len() int {
	return len(s.order)
}

// Snapshot captures the current files for a build. File values are
// immutable, so the snapshot is unaffected by later edits.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{Files: s.Files(), EntryID: s.entry}
}

// Snapshot is a point-in-time view of the project.
type Snapshot struct {
	Files   []File
	EntryID string
}

func (s Snapshot) Entry() (File, bool) {
	if s.EntryID == "" {
		return nil, false
	}
	for _, f := range s.Files {
		if f.Info().ID == s.EntryID {
			return f, true
		}
	}
	return nil, false
}

func (s Snapshot) Lookup(p string) (File, bool) {
	p = CleanPath(p)
	for _, f := range s.Files {
		if Path(f) == p {
			return f, true
		}
	}
	return nil, false
}

// OfKind returns the files of one kind in list order.
func (s Snapshot) OfKind(kind Kind) []File {
	var out []File
	for _, f := range s.Files {
		if f.Kind() == kind {
			out = append(out, f)
		}
	}
	return out
}
