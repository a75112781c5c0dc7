package resolve

import (
	"fmt"
	"strings"

	"playground/internal/workspace"
)

// Library is an external support script that can be injected into the
// preview document.
type Library struct {
	Name string
	// Global is the window property the script defines once loaded.
	Global string
	// URL may contain {version}.
	URL            string
	DefaultVersion string
	// Requires lists libraries that must load first.
	Requires []string
}

func (l Library) Source(version string) string {
	if version == "" {
		version = l.DefaultVersion
	}
	return strings.ReplaceAll(l.URL, "{version}", version)
}

// Registry is an ordered set of known libraries. Declaration order breaks
// ties when ordering injections.
type Registry struct {
	libs  []Library
	index map[string]int
	// runtimes lists, per content kind, the libraries any file of that kind
	// needs.
	runtimes map[workspace.Kind][]string
}

func NewRegistry(libs []Library, runtimes map[workspace.Kind][]string) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(libs)), runtimes: runtimes}
	for _, l := range libs {
		if _, dup := r.index[l.Name]; dup {
			return nil, fmt.Errorf("library %s registered twice", l.Name)
		}
		r.index[l.Name] = len(r.libs)
		r.libs = append(r.libs, l)
	}
	for _, l := range libs {
		for _, dep := range l.Requires {
			if _, ok := r.index[dep]; !ok {
				return nil, fmt.Errorf("library %s requires unknown %s", l.Name, dep)
			}
		}
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Library, bool) {
	i, ok := r.index[name]
	if !ok {
		return Library{}, false
	}
	return r.libs[i], true
}

// Runtime returns the libraries required by files of kind.
func (r *Registry) Runtime(kind workspace.Kind) []string {
	return r.runtimes[kind]
}

// Globals returns the window globals defined by the named libraries.
func (r *Registry) Globals(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if l, ok := r.Lookup(n); ok && l.Global != "" {
			out = append(out, l.Global)
		}
	}
	return out
}

const unpkg = "https://unpkg.com/"

// DefaultRegistry is the library set the preview knows how to inject.
func DefaultRegistry() *Registry {
	r, err := NewRegistry([]Library{
		{Name: "react", Global: "React", DefaultVersion: "18.2.0", URL: unpkg + "react@{version}/umd/react.development.js"},
		{Name: "react-dom", Global: "ReactDOM", DefaultVersion: "18.2.0", URL: unpkg + "react-dom@{version}/umd/react-dom.development.js", Requires: []string{"react"}},
		{Name: "@remix-run/router", Global: "RemixRouter", DefaultVersion: "1.9.0", URL: unpkg + "@remix-run/router@{version}/dist/router.umd.min.js"},
		{Name: "react-router", Global: "ReactRouter", DefaultVersion: "6.16.0", URL: unpkg + "react-router@{version}/dist/umd/react-router.development.js", Requires: []string{"react", "@remix-run/router"}},
		{Name: "react-router-dom", Global: "ReactRouterDOM", DefaultVersion: "6.16.0", URL: unpkg + "react-router-dom@{version}/dist/umd/react-router-dom.development.js", Requires: []string{"react", "react-dom", "react-router"}},
		{Name: "lodash", Global: "_", DefaultVersion: "4.17.21", URL: unpkg + "lodash@{version}/lodash.min.js"},
		{Name: "axios", Global: "axios", DefaultVersion: "1.6.0", URL: unpkg + "axios@{version}/dist/axios.min.js"},
		{Name: "redux", Global: "Redux", DefaultVersion: "4.2.1", URL: unpkg + "redux@{version}/dist/redux.min.js"},
		{Name: "dayjs", Global: "dayjs", DefaultVersion: "1.11.10", URL: unpkg + "dayjs@{version}/dayjs.min.js"},
	}, map[workspace.Kind][]string{
		workspace.KindComponent: {"react", "react-dom"},
	})
	if err != nil {
		panic(err)
	}
	return r
}
