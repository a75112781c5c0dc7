// Package transpile turns component-script source into plain script that the
// preview document can evaluate, reporting syntax errors against the
// original source.
package transpile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"playground/internal/diag"
	"playground/internal/metrics"
	"playground/internal/workspace"

	"github.com/evanw/esbuild/pkg/api"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrNotTranspilable = errors.New("file kind is not executable script")

const DefaultCacheSize = 512

// Result is the executable form of one script or component file.
type Result struct {
	Path string
	Kind workspace.Kind
	// Code is plain script for KindScript and a CommonJS module body for
	// KindComponent.
	Code        string
	SourceMap   []byte
	Diagnostics []diag.Event
}

func (r Result) OK() bool {
	return len(r.Diagnostics) == 0
}

// Transpiler is safe for concurrent use.
type Transpiler struct {
	cache     *lru.Cache[string, Result]
	transform func(string, api.TransformOptions) api.TransformResult
}

func New(cacheSize int) (*Transpiler, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("init transpile cache: %w", err)
	}
	return &Transpiler{cache: cache, transform: api.Transform}, nil
}

// Transpile converts f. Plain scripts are returned unchanged. Syntax errors
// are reported as static diagnostics, never as a Go error; the error return
// is reserved for files that are not scripts at all.
func (t *Transpiler) Transpile(f workspace.File) (Result, error) {
	p := workspace.Path(f)
	switch v := f.(type) {
	case workspace.Script:
		return Result{Path: p, Kind: workspace.KindScript, Code: v.Content}, nil
	case workspace.Component:
		key := cacheKey(p, v.Dialect, v.Content)
		if r, ok := t.cache.Get(key); ok {
			metrics.RecordTranspileCache(true)
			return r, nil
		}
		metrics.RecordTranspileCache(false)
		r := t.component(p, v)
		t.cache.Add(key, r)
		return r, nil
	default:
		return Result{}, fmt.Errorf("%s: %w", p, ErrNotTranspilable)
	}
}

func (t *Transpiler) component(p string, c workspace.Component) (res Result) {
	res = Result{Path: p, Kind: workspace.KindComponent}
	defer func() {
		if rec := recover(); rec != nil {
			res.Code = ""
			res.SourceMap = nil
			res.Diagnostics = []diag.Event{diag.Static(p, 0, 0, "internal transpiler failure: %v", rec)}
		}
	}()

	loader := api.LoaderJSX
	if c.Dialect == workspace.DialectTSX {
		loader = api.LoaderTSX
	}
	out := t.transform(c.Content, api.TransformOptions{
		Loader:      loader,
		Format:      api.FormatCommonJS,
		Target:      api.ES2018,
		JSX:         api.JSXTransform,
		JSXFactory:  "React.createElement",
		JSXFragment: "React.Fragment",
		Sourcemap:   api.SourceMapExternal,
		Sourcefile:  p,
		LogLevel:    api.LogLevelSilent,
	})
	if len(out.Errors) > 0 {
		res.Diagnostics = make([]diag.Event, 0, len(out.Errors))
		for _, m := range out.Errors {
			res.Diagnostics = append(res.Diagnostics, messageEvent(p, m))
		}
		return res
	}
	res.Code = string(out.Code)
	res.SourceMap = out.Map
	return res
}

func messageEvent(p string, m api.Message) diag.Event {
	line, col := 0, 0
	if m.Location != nil {
		line = m.Location.Line
		col = utf16Column(m.Location.LineText, m.Location.Column)
	}
	return diag.Static(p, line, col, "%s", m.Text)
}

// utf16Column turns esbuild's byte offset into lineText into the 1-based
// UTF-16 column editors and browser stack traces use.
func utf16Column(lineText string, byteCol int) int {
	byteCol = min(max(byteCol, 0), len(lineText))
	n := 0
	for _, r := range lineText[:byteCol] {
		n++
		if r > 0xFFFF {
			n++
		}
	}
	return n + 1
}

func cacheKey(p string, d workspace.Dialect, content string) string {
	sum := sha256.Sum256([]byte(content))
	return p + "\x00" + string(d) + "\x00" + hex.EncodeToString(sum[:])
}
