package synth

import (
	"errors"
	"strings"
	"testing"

	"playground/internal/pipeline/resolve"
	"playground/internal/pipeline/transpile"
	"playground/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *workspace.Store
}

func newFixture(t *testing.T, files ...[2]string) fixture {
	t.Helper()
	s := workspace.NewStore()
	for _, f := range files {
		_, err := s.Create(f[0], f[1])
		require.NoError(t, err)
	}
	return fixture{store: s}
}

func (f fixture) input(t *testing.T) Input {
	t.Helper()
	snap := f.store.Snapshot()
	tr, err := transpile.New(8)
	require.NoError(t, err)
	var mods []transpile.Result
	for _, file := range snap.Files {
		if file.Kind() != workspace.KindScript && file.Kind() != workspace.KindComponent {
			continue
		}
		r, err := tr.Transpile(file)
		require.NoError(t, err)
		mods = append(mods, r)
	}
	res, err := resolve.New(nil).Resolve(snap, nil)
	require.NoError(t, err)
	return Input{Session: "s1", Generation: 7, Snapshot: snap, Modules: mods, Resolution: res}
}

func TestSynthesizeLayout(t *testing.T) {
	f := newFixture(t,
		[2]string{"index.html", `<!DOCTYPE html><html><head><title>Demo</title><link rel="stylesheet" href="styles.css"><link rel="stylesheet" href="https://cdn.example/x.css"></head><body><div id="app"><h1>Hi</h1></div><script src="./script.js"></script></body></html>`},
		[2]string{"styles.css", "h1 { color: red; }"},
		[2]string{"theme.css", "body { margin: 0; }"},
		[2]string{"script.js", "console.log('hi')"},
	)
	doc, err := Synthesize(f.input(t))
	require.NoError(t, err)
	out := doc.HTML

	assert.Equal(t, "Demo", doc.Title)
	assert.False(t, doc.Deferred)
	assert.Empty(t, doc.Libraries)

	boot := strings.Index(out, "window.__PLAYGROUND__")
	styles := strings.Index(out, "/* File: styles.css */")
	theme := strings.Index(out, "/* File: theme.css */")
	body := strings.Index(out, `<div id="app">`)
	script := strings.Index(out, `__playground.script("script.js"`)
	start := strings.Index(out, "__playground.start(")
	for name, idx := range map[string]int{"boot": boot, "styles": styles, "theme": theme, "body": body, "script": script, "start": start} {
		require.GreaterOrEqual(t, idx, 0, "%s missing from\n%s", name, out)
	}
	assert.Less(t, boot, styles)
	assert.Less(t, styles, theme)
	assert.Less(t, theme, body)
	assert.Less(t, body, script)
	assert.Less(t, script, start)

	assert.NotContains(t, out, `src="./script.js"`)
	assert.NotContains(t, out, `href="styles.css"`)
	assert.Contains(t, out, `href="https://cdn.example/x.css"`)
	assert.Contains(t, out, `"generation":7`)
	assert.Equal(t, 1, strings.Count(out, "<body>"))
}

func TestSynthesizeComponentsDeferred(t *testing.T) {
	f := newFixture(t,
		[2]string{"index.html", `<div id="app"></div>`},
		[2]string{"App.jsx", "import Header from './Header';\nexport default function App() { return <Header/>; }\n"},
		[2]string{"Header.jsx", "export default function Header() { return <h1>hi</h1>; }\n"},
		[2]string{"Widget.jsx", "export const W = () => <i/>;\n"},
	)
	doc, err := Synthesize(f.input(t))
	require.NoError(t, err)
	out := doc.HTML

	assert.True(t, doc.Deferred)
	require.Len(t, doc.Libraries, 2)
	react := strings.Index(out, `data-library="react"`)
	reactDOM := strings.Index(out, `data-library="react-dom"`)
	body := strings.Index(out, `<div id="app">`)
	assert.True(t, react >= 0 && react < reactDOM && reactDOM < body)

	assert.Contains(t, out, `__playground.define("App.jsx", {"./Header":"Header.jsx"}`)
	assert.Contains(t, out, `__playground.start(["Widget.jsx","App.jsx"], "App.jsx")`)
	assert.Contains(t, out, `"deferred":true`)
	assert.Contains(t, out, `"globals":["React","ReactDOM"]`)
	assert.Len(t, doc.SourceMaps, 3)
}

func TestSynthesizeRefusesDiagnostics(t *testing.T) {
	f := newFixture(t,
		[2]string{"index.html", "<div id=app></div>"},
		[2]string{"app.jsx", "mount(<Hello>)"},
	)
	in := f.input(t)
	require.NotEmpty(t, in.Modules[0].Diagnostics)
	_, err := Synthesize(in)
	assert.True(t, errors.Is(err, ErrUnbuildable), "err = %v", err)
}

func TestSynthesizeNoEntry(t *testing.T) {
	f := newFixture(t, [2]string{"script.js", ""})
	_, err := Synthesize(f.input(t))
	assert.True(t, errors.Is(err, ErrNoEntry))
}

func TestSynthesizeScriptOrderFollowsImports(t *testing.T) {
	f := newFixture(t,
		[2]string{"index.html", ""},
		[2]string{"main.js", "import './util.js';\nrun();"},
		[2]string{"util.js", "function run() {}"},
	)
	doc, err := Synthesize(f.input(t))
	require.NoError(t, err)
	util := strings.Index(doc.HTML, `__playground.script("util.js"`)
	main := strings.Index(doc.HTML, `__playground.script("main.js"`)
	assert.True(t, util >= 0 && util < main)
}

func TestSynthesizeEscapesEmbeddedContent(t *testing.T) {
	f := newFixture(t,
		[2]string{"index.html", ""},
		[2]string{"a.css", "p::after { content: '</style><script>'; }"},
		[2]string{"a.js", "var s = '</script><b>';"},
	)
	doc, err := Synthesize(f.input(t))
	require.NoError(t, err)
	assert.NotContains(t, doc.HTML, "'</style>")
	assert.NotContains(t, doc.HTML, "</script><b>")
}

func TestBootstrapIsFirstScript(t *testing.T) {
	f := newFixture(t, [2]string{"index.html", "<script>console.log(1)</script>"})
	doc, err := Synthesize(f.input(t))
	require.NoError(t, err)
	first := strings.Index(doc.HTML, "<script")
	assert.Equal(t, strings.Index(doc.HTML, "<script>window.__PLAYGROUND__"), first)
}
