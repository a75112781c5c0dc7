package workspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type DepKind string

const (
	DepRuntime DepKind = "runtime"
	DepDev     DepKind = "dev"
)

var (
	ErrNotInstalled   = errors.New("package is not installed")
	ErrInvalidPackage = errors.New("invalid package name")
	ErrInvalidVersion = errors.New("invalid package version")
)

// Dependency is a declared library. RequiredBy is derived from the imports of
// the last build and is not persisted.
type Dependency struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Kind       DepKind  `json:"kind"`
	RequiredBy []string `json:"requiredBy,omitempty"`
}

type InstallResult int

const (
	Installed InstallResult = iota
	Updated
	Unchanged
)

func (r InstallResult) String() string {
	switch r {
	case Installed:
		return "installed"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Manifest is the project's set of declared dependencies.
type Manifest struct {
	deps map[string]Dependency
}

func NewManifest() *Manifest {
	return &Manifest{deps: make(map[string]Dependency)}
}

// Install declares name at version. Installing a name that is already
// present overwrites its version and kind.
func (m *Manifest) Install(name, version string, kind DepKind) (InstallResult, error) {
	name = strings.TrimSpace(name)
	if !validPackageName(name) {
		return Unchanged, fmt.Errorf("%q: %w", name, ErrInvalidPackage)
	}
	version = normalizeVersion(version)
	if version == "" {
		return Unchanged, fmt.Errorf("%s: %w", name, ErrInvalidVersion)
	}
	if kind != DepDev {
		kind = DepRuntime
	}
	prev, ok := m.deps[name]
	if ok && prev.Version == version && prev.Kind == kind {
		return Unchanged, nil
	}
	m.deps[name] = Dependency{Name: name, Version: version, Kind: kind, RequiredBy: prev.RequiredBy}
	if ok {
		return Updated, nil
	}
	return Installed, nil
}

// Uninstall removes name and returns the removed entry.
func (m *Manifest) Uninstall(name string) (Dependency, error) {
	name = strings.TrimSpace(name)
	dep, ok := m.deps[name]
	if !ok {
		return Dependency{}, fmt.Errorf("%s: %w", name, ErrNotInstalled)
	}
	delete(m.deps, name)
	return dep, nil
}

func (m *Manifest) Get(name string) (Dependency, bool) {
	dep, ok := m.deps[name]
	return dep, ok
}

// List returns all dependencies sorted by name.
func (m *Manifest) List() []Dependency {
	out := make([]Dependency, 0, len(m.deps))
	for _, d := range m.deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Runtime returns the runtime dependencies sorted by name.
func (m *Manifest) Runtime() []Dependency {
	var out []Dependency
	for _, d := range m.List() {
		if d.Kind == DepRuntime {
			out = append(out, d)
		}
	}
	return out
}

// SetRequiredBy replaces the derived "required by" bookkeeping. Packages not
// present in req are cleared.
func (m *Manifest) SetRequiredBy(req map[string][]string) {
	for name, d := range m.deps {
		files := append([]string(nil), req[name]...)
		sort.Strings(files)
		d.RequiredBy = files
		m.deps[name] = d
	}
}

func (m *Manifest) Clone() *Manifest {
	c := NewManifest()
	for k, d := range m.deps {
		d.RequiredBy = append([]string(nil), d.RequiredBy...)
		c.deps[k] = d
	}
	return c
}

// ParseManifest reads dependencies and devDependencies from package.json
// content. Empty content yields an empty manifest.
func ParseManifest(content string) (*Manifest, error) {
	m := NewManifest()
	if strings.TrimSpace(content) == "" {
		return m, nil
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}
	for name, v := range pkg.Dependencies {
		if _, err := m.Install(name, v, DepRuntime); err != nil {
			return nil, fmt.Errorf("package.json dependencies: %w", err)
		}
	}
	for name, v := range pkg.DevDependencies {
		if _, ok := m.deps[name]; ok {
			continue
		}
		if _, err := m.Install(name, v, DepDev); err != nil {
			return nil, fmt.Errorf("package.json devDependencies: %w", err)
		}
	}
	return m, nil
}

// RenderPackageJSON writes the manifest into package.json content, keeping
// every other top-level field of existing.
func (m *Manifest) RenderPackageJSON(existing string) (string, error) {
	fields := map[string]json.RawMessage{}
	if strings.TrimSpace(existing) != "" {
		if err := json.Unmarshal([]byte(existing), &fields); err != nil {
			return "", fmt.Errorf("parse package.json: %w", err)
		}
	} else {
		fields["name"] = json.RawMessage(`"playground-project"`)
		fields["version"] = json.RawMessage(`"1.0.0"`)
	}
	deps := map[string]string{}
	dev := map[string]string{}
	for _, d := range m.List() {
		if d.Kind == DepDev {
			dev[d.Name] = "^" + d.Version
		} else {
			deps[d.Name] = "^" + d.Version
		}
	}
	for key, val := range map[string]map[string]string{"dependencies": deps, "devDependencies": dev} {
		if len(val) == 0 {
			delete(fields, key)
			continue
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		fields[key] = raw
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimLeft(v, "^~=v ")
	if v == "" || strings.ContainsAny(v, " \t\n\"") {
		return ""
	}
	return v
}

func validPackageName(name string) bool {
	if name == "" || len(name) > 214 {
		return false
	}
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return false
	}
	if strings.HasPrefix(name, "@") {
		scope, pkg, ok := strings.Cut(name[1:], "/")
		if !ok || scope == "" || pkg == "" || strings.Contains(pkg, "/") {
			return false
		}
	} else if strings.Contains(name, "/") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-', r == '.', r == '_', r == '@', r == '/', r == '~':
		default:
			return false
		}
	}
	return true
}
