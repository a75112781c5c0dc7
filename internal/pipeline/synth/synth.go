// Package synth assembles the single self-contained preview document from
// the entry markup, stylesheets, runtime libraries and transpiled modules.
package synth

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"playground/internal/pipeline/resolve"
	"playground/internal/pipeline/transpile"
	"playground/internal/workspace"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

//go:embed bootstrap.js
var bootstrapJS string

var (
	ErrNoEntry = errors.New("no entry markup")
	// ErrUnbuildable is returned when a module still carries diagnostics.
	// Callers must not synthesize a document for such a generation.
	ErrUnbuildable = errors.New("modules have unresolved diagnostics")
)

const DefaultReadyTimeout = 10 * time.Second

type Input struct {
	Session    string
	Generation uint64
	Snapshot   workspace.Snapshot
	// Modules holds one result per script or component file.
	Modules      []transpile.Result
	Resolution   resolve.Resolution
	ReadyTimeout time.Duration
}

type Document struct {
	HTML      string
	Title     string
	Deferred  bool
	Libraries []resolve.Injection
	// SourceMaps holds the component source maps keyed by file path, for
	// mapping runtime locations back to the original source.
	SourceMaps map[string][]byte
}

type bootConfig struct {
	Generation uint64            `json:"generation"`
	Session    string            `json:"session"`
	Deferred   bool              `json:"deferred"`
	Globals    []string          `json:"globals"`
	TimeoutMs  int64             `json:"timeoutMs"`
	Files      []string          `json:"files"`
	Externals  map[string]string `json:"externals"`
}

// Synthesize builds the preview document. Layout: the diagnostic bootstrap
// runs first, then stylesheets in file-list order, then runtime libraries in
// resolution order, then the entry body, then user modules.
func Synthesize(in Input) (Document, error) {
	entry, ok := in.Snapshot.Entry()
	if !ok {
		return Document{}, ErrNoEntry
	}
	for _, m := range in.Modules {
		if !m.OK() {
			return Document{}, fmt.Errorf("%s: %w", m.Path, ErrUnbuildable)
		}
	}
	timeout := in.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	page, err := parseEntry(in.Snapshot, entry)
	if err != nil {
		return Document{}, err
	}

	modules := make(map[string]transpile.Result, len(in.Modules))
	var files []string
	for _, m := range in.Modules {
		modules[m.Path] = m
		files = append(files, m.Path)
	}
	externals := make(map[string]string, len(in.Resolution.Libraries))
	for _, lib := range in.Resolution.Libraries {
		externals[lib.Name] = lib.Global
	}

	cfg, err := json.Marshal(bootConfig{
		Generation: in.Generation,
		Session:    in.Session,
		Deferred:   in.Resolution.Deferred,
		Globals:    in.Resolution.Globals(),
		TimeoutMs:  timeout.Milliseconds(),
		Files:      files,
		Externals:  externals,
	})
	if err != nil {
		return Document{}, err
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(page.title))
	fmt.Fprintf(&b, "<script>window.__PLAYGROUND__ = %s;\n%s</script>\n", cfg, bootstrapJS)

	if sheets := in.Snapshot.OfKind(workspace.KindStylesheet); len(sheets) > 0 {
		b.WriteString("<style>\n")
		for _, f := range sheets {
			fmt.Fprintf(&b, "/* File: %s */\n", workspace.Path(f))
			b.WriteString(escapeStyle(f.Info().Content))
			b.WriteString("\n")
		}
		b.WriteString("</style>\n")
	}
	for _, lib := range in.Resolution.Libraries {
		name, _ := json.Marshal(lib.Name)
		fmt.Fprintf(&b, "<script src=\"%s\" data-library=\"%s\" crossorigin onerror=\"%s\"></script>\n",
			html.EscapeString(lib.URL), html.EscapeString(lib.Name),
			html.EscapeString("__playground.libraryFailed("+string(name)+")"))
	}
	b.WriteString(page.head)
	b.WriteString("</head>\n<body>\n")
	b.WriteString(page.body)

	b.WriteString("\n<script>\n")
	for _, p := range scriptOrder(in.Snapshot, in.Resolution.Imports) {
		fmt.Fprintf(&b, "__playground.script(%s, %s);\n", jsString(p), jsString(modules[p].Code))
	}
	components := in.Snapshot.OfKind(workspace.KindComponent)
	maps := make(map[string][]byte)
	for _, f := range components {
		p := workspace.Path(f)
		m := modules[p]
		deps, err := json.Marshal(moduleDeps(in.Snapshot, p, f.Info().Content))
		if err != nil {
			return Document{}, err
		}
		fmt.Fprintf(&b, "__playground.define(%s, %s, %s);\n", jsString(p), deps, jsString(m.Code))
		if len(m.SourceMap) > 0 {
			maps[p] = m.SourceMap
		}
	}
	b.WriteString("</script>\n")

	entries, render := componentEntries(components, in.Resolution.Imports)
	entriesJSON, _ := json.Marshal(entries)
	fmt.Fprintf(&b, "<script>\n__playground.start(%s, %s);\n</script>\n", entriesJSON, jsString(render))
	b.WriteString("</body>\n</html>\n")

	return Document{
		HTML:       b.String(),
		Title:      page.title,
		Deferred:   in.Resolution.Deferred,
		Libraries:  append([]resolve.Injection(nil), in.Resolution.Libraries...),
		SourceMaps: maps,
	}, nil
}

type entryPage struct {
	title string
	head  string
	body  string
}

// parseEntry keeps the entry's body content and any head elements that are
// not references to project files, whose content is inlined elsewhere.
func parseEntry(snap workspace.Snapshot, entry workspace.File) (entryPage, error) {
	doc, err := html.Parse(strings.NewReader(entry.Info().Content))
	if err != nil {
		return entryPage{}, fmt.Errorf("%s: parse markup: %w", workspace.Path(entry), err)
	}
	page := entryPage{title: "Preview"}
	dir := path.Dir(workspace.Path(entry))

	var head, body *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head:
				head = n
			case atom.Body:
				body = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)

	var hb, bb strings.Builder
	if head != nil {
		for c := head.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Title:
				if t := strings.TrimSpace(textOf(c)); t != "" {
					page.title = t
				}
				continue
			case atom.Meta, atom.Base:
				continue
			}
			if projectRef(snap, dir, c) {
				continue
			}
			if err := html.Render(&hb, c); err != nil {
				return entryPage{}, err
			}
			hb.WriteString("\n")
		}
	}
	if body != nil {
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && projectRef(snap, dir, c) {
				continue
			}
			if err := html.Render(&bb, c); err != nil {
				return entryPage{}, err
			}
		}
	}
	page.head = hb.String()
	page.body = bb.String()
	return page, nil
}

// projectRef reports whether n is a script or stylesheet link pointing at a
// file of the project.
func projectRef(snap workspace.Snapshot, dir string, n *html.Node) bool {
	var ref string
	switch n.DataAtom {
	case atom.Script:
		ref = attr(n, "src")
	case atom.Link:
		if !strings.EqualFold(attr(n, "rel"), "stylesheet") {
			return false
		}
		ref = attr(n, "href")
	default:
		return false
	}
	if ref == "" || strings.Contains(ref, "://") || strings.HasPrefix(ref, "//") {
		return false
	}
	p := ref
	if !strings.HasPrefix(ref, "/") {
		p = path.Join(dir, ref)
	}
	_, ok := snap.Lookup(p)
	return ok
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

// scriptOrder lists plain scripts in file-list order with the scripts each
// one imports placed before it.
func scriptOrder(snap workspace.Snapshot, imports map[string][]string) []string {
	isScript := map[string]bool{}
	var list []string
	for _, f := range snap.OfKind(workspace.KindScript) {
		p := workspace.Path(f)
		isScript[p] = true
		list = append(list, p)
	}
	var out []string
	state := map[string]int{}
	var visit func(string)
	visit = func(p string) {
		if state[p] != 0 {
			return
		}
		state[p] = 1
		for _, dep := range imports[p] {
			if isScript[dep] {
				visit(dep)
			}
		}
		state[p] = 2
		out = append(out, p)
	}
	for _, p := range list {
		visit(p)
	}
	return out
}

// componentEntries returns the components no other component imports, with
// App.* moved last, plus the module to auto-render.
func componentEntries(components []workspace.File, imports map[string][]string) ([]string, string) {
	imported := map[string]bool{}
	for from, deps := range imports {
		for _, d := range deps {
			if d != from {
				imported[d] = true
			}
		}
	}
	entries := []string{}
	render := ""
	for _, f := range components {
		p := workspace.Path(f)
		if imported[p] {
			continue
		}
		entries = append(entries, p)
		if render == "" && isApp(f.Info().Name) {
			render = p
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return !isApp(path.Base(entries[i])) && isApp(path.Base(entries[j]))
	})
	return entries, render
}

func isApp(name string) bool {
	return strings.TrimSuffix(name, path.Ext(name)) == "App"
}

// moduleDeps maps each relative specifier of a component to the project path
// it resolves to.
func moduleDeps(snap workspace.Snapshot, from, source string) map[string]string {
	deps := map[string]string{}
	for _, spec := range resolve.ScanImports(source) {
		if !resolve.IsRelative(spec) {
			continue
		}
		if target, ok := resolve.ResolveImport(snap, from, spec); ok {
			deps[spec] = target
		}
	}
	return deps
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func escapeStyle(css string) string {
	return strings.ReplaceAll(css, "</style", "<\\/style")
}
