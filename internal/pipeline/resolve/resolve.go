// Package resolve decides which runtime libraries a preview document needs
// and in which order they must load.
package resolve

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"playground/internal/diag"
	"playground/internal/workspace"
)

// ErrLibraryUnavailable means a file kind needs a runtime library that the
// registry cannot provide. The preview cannot be built at all.
var ErrLibraryUnavailable = errors.New("required runtime library unavailable")

// Injection is one library script to reference from the document.
type Injection struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	URL     string `json:"url"`
	Global  string `json:"global"`
}

type Resolution struct {
	// Libraries in load order.
	Libraries []Injection
	// Deferred is set when user code must wait for the component runtime.
	Deferred bool
	// Imports maps a file path to the project files it imports.
	Imports map[string][]string
	// RequiredBy maps a package name to the files importing it.
	RequiredBy map[string][]string
	Warnings   []diag.Event
}

// Names returns the injected library names in order.
func (r Resolution) Names() []string {
	out := make([]string, len(r.Libraries))
	for i, l := range r.Libraries {
		out[i] = l.Name
	}
	return out
}

func (r Resolution) Globals() []string {
	var out []string
	for _, l := range r.Libraries {
		if l.Global != "" {
			out = append(out, l.Global)
		}
	}
	return out
}

type Resolver struct {
	reg *Registry
}

func New(reg *Registry) *Resolver {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Resolver{reg: reg}
}

func (r *Resolver) Registry() *Registry {
	return r.reg
}

// Resolve computes the injection list for a snapshot. Identical inputs give
// identical output.
//
// Libraries are only injected when the snapshot has component files: the
// runtime those files need plus the registered runtime dependencies of the
// manifest. The manifest is authoritative for everything else, so a bare
// import of a package that is not declared is a warning, never an injection.
func (r *Resolver) Resolve(snap workspace.Snapshot, m *workspace.Manifest) (Resolution, error) {
	res := Resolution{
		Imports:    make(map[string][]string),
		RequiredBy: make(map[string][]string),
	}
	if m == nil {
		m = workspace.NewManifest()
	}
	components := len(snap.OfKind(workspace.KindComponent)) > 0
	required := make(map[string]bool)
	runtimeKinds := make(map[string]bool)

	for _, f := range snap.Files {
		for _, name := range r.reg.Runtime(f.Kind()) {
			if _, ok := r.reg.Lookup(name); !ok {
				return Resolution{}, fmt.Errorf("%w: %s files need %s", ErrLibraryUnavailable, f.Kind(), name)
			}
			required[name] = true
			runtimeKinds[name] = true
		}
	}
	for name := range runtimeKinds {
		r.closure(name, runtimeKinds)
	}

	for _, f := range snap.Files {
		if f.Kind() != workspace.KindScript && f.Kind() != workspace.KindComponent {
			continue
		}
		from := workspace.Path(f)
		seen := map[string]bool{}
		for _, spec := range ScanImports(f.Info().Content) {
			if IsRelative(spec) {
				target, ok := ResolveImport(snap, from, spec)
				if !ok {
					res.Warnings = append(res.Warnings, warning(from, "cannot resolve import %q", spec))
					continue
				}
				if !seen[target] {
					seen[target] = true
					res.Imports[from] = append(res.Imports[from], target)
				}
				continue
			}
			pkg := PackageName(spec)
			if pkg == "" || seen["pkg:"+pkg] {
				continue
			}
			seen["pkg:"+pkg] = true
			res.RequiredBy[pkg] = append(res.RequiredBy[pkg], from)
			if runtimeKinds[pkg] {
				continue
			}
			d, declared := m.Get(pkg)
			switch {
			case !declared:
				res.Warnings = append(res.Warnings, warning(from, "import of uninstalled package %q", pkg))
			case d.Kind != workspace.DepRuntime:
				res.Warnings = append(res.Warnings, warning(from, "package %q is a dev dependency and is not loaded in the preview", pkg))
			case !components && r.registered(pkg):
				res.Warnings = append(res.Warnings, warning(from, "package %q is only loaded for projects with component files", pkg))
			}
		}
	}

	for _, d := range m.Runtime() {
		if _, ok := r.reg.Lookup(d.Name); ok {
			if components {
				required[d.Name] = true
			}
			continue
		}
		if len(res.RequiredBy[d.Name]) == 0 {
			res.Warnings = append(res.Warnings, warning("", "package %q is declared but has no browser build available in the preview", d.Name))
		} else {
			res.Warnings = append(res.Warnings, warning(res.RequiredBy[d.Name][0], "package %q has no browser build available in the preview", d.Name))
		}
	}

	for name := range required {
		r.closure(name, required)
	}
	for _, name := range r.order(required) {
		lib, _ := r.reg.Lookup(name)
		version := lib.DefaultVersion
		if d, ok := m.Get(name); ok {
			version = d.Version
		}
		res.Libraries = append(res.Libraries, Injection{
			Name:    lib.Name,
			Version: version,
			URL:     lib.Source(version),
			Global:  lib.Global,
		})
		if runtimeKinds[name] {
			res.Deferred = true
		}
	}
	for pkg := range res.RequiredBy {
		sort.Strings(res.RequiredBy[pkg])
	}
	return res, nil
}

func (r *Resolver) registered(name string) bool {
	_, ok := r.reg.Lookup(name)
	return ok
}

func (r *Resolver) closure(name string, set map[string]bool) {
	lib, _ := r.reg.Lookup(name)
	for _, dep := range lib.Requires {
		if !set[dep] {
			set[dep] = true
			r.closure(dep, set)
		}
	}
}

// order sorts the set topologically over Requires, choosing the earliest
// registry entry whenever several are ready.
func (r *Resolver) order(set map[string]bool) []string {
	indeg := make(map[string]int, len(set))
	for name := range set {
		lib, _ := r.reg.Lookup(name)
		for _, dep := range lib.Requires {
			if set[dep] {
				indeg[name]++
			}
		}
	}
	out := make([]string, 0, len(set))
	done := make(map[string]bool, len(set))
	for len(out) < len(set) {
		next := ""
		for _, lib := range r.reg.libs {
			if set[lib.Name] && !done[lib.Name] && indeg[lib.Name] == 0 {
				next = lib.Name
				break
			}
		}
		if next == "" {
			// NewRegistry rejects unknown requirements but not cycles; emit the
			// rest in registry order.
			for _, lib := range r.reg.libs {
				if set[lib.Name] && !done[lib.Name] {
					out = append(out, lib.Name)
					done[lib.Name] = true
				}
			}
			break
		}
		done[next] = true
		out = append(out, next)
		for _, lib := range r.reg.libs {
			if !set[lib.Name] || done[lib.Name] {
				continue
			}
			for _, dep := range lib.Requires {
				if dep == next {
					indeg[lib.Name]--
				}
			}
		}
	}
	return out
}

func warning(file, format string, args ...any) diag.Event {
	return diag.Event{
		Severity: diag.SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
		File:     file,
		Origin:   diag.OriginStatic,
	}
}

var importPattern = regexp.MustCompile(`(?m)(?:^|[;\s])(?:import|export)\s+(?:[\w$*{}\s,]+?\s+from\s+)?["']([^"'\n]+)["']|(?:\brequire|\bimport)\s*\(\s*["']([^"'\n]+)["']\s*\)`)

// ScanImports returns the module specifiers referenced by source, in order of
// appearance.
func ScanImports(source string) []string {
	var out []string
	for _, m := range importPattern.FindAllStringSubmatch(source, -1) {
		spec := m[1]
		if spec == "" {
			spec = m[2]
		}
		if spec != "" {
			out = append(out, spec)
		}
	}
	return out
}

func IsRelative(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || strings.HasPrefix(spec, "/")
}

// PackageName extracts the package from a bare specifier: "lodash/fp" gives
// "lodash", "@scope/pkg/x" gives "@scope/pkg".
func PackageName(spec string) string {
	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

var importSuffixes = []string{"", ".js", ".jsx", ".tsx", ".mjs", "/index.js", "/index.jsx", "/index.tsx"}

// ResolveImport finds the project file a relative specifier refers to.
func ResolveImport(snap workspace.Snapshot, from, spec string) (string, bool) {
	base := spec
	if !strings.HasPrefix(spec, "/") {
		base = path.Join(path.Dir(from), spec)
	}
	base = workspace.CleanPath(base)
	for _, suffix := range importSuffixes {
		f, ok := snap.Lookup(base + suffix)
		if !ok {
			continue
		}
		switch f.Kind() {
		case workspace.KindScript, workspace.KindComponent:
			return workspace.Path(f), true
		}
	}
	return "", false
}
