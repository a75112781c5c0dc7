package transpile

import (
	"errors"
	"strings"
	"testing"

	"playground/internal/diag"
	"playground/internal/workspace"

	"github.com/evanw/esbuild/pkg/api"
)

func component(path, content string) workspace.File {
	f, err := workspace.NewFile(workspace.Base{ID: "c1", Name: path, Content: content})
	if err != nil {
		panic(err)
	}
	return f
}

func newTranspiler(t *testing.T) *Transpiler {
	t.Helper()
	tr, err := New(16)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tr
}

func TestTranspileJSX(t *testing.T) {
	tr := newTranspiler(t)
	res, err := tr.Transpile(component("App.jsx", "export default function App() {\n  return <div className=\"x\">hi</div>;\n}\n"))
	if err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if !res.OK() {
		t.Fatalf("Transpile() diagnostics = %v", res.Diagnostics)
	}
	if !strings.Contains(res.Code, "React.createElement") {
		t.Fatalf("Transpile() code missing createElement:\n%s", res.Code)
	}
	if strings.Contains(res.Code, "<div") {
		t.Fatalf("Transpile() left JSX in output")
	}
	if len(res.SourceMap) == 0 {
		t.Fatalf("Transpile() SourceMap empty")
	}
}

func TestTranspileTSX(t *testing.T) {
	tr := newTranspiler(t)
	src := "type P = { n: number };\nexport const C = ({ n }: P) => <b>{n}</b>;\n"
	res, err := tr.Transpile(component("C.tsx", src))
	if err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if !res.OK() {
		t.Fatalf("Transpile() diagnostics = %v", res.Diagnostics)
	}
	if strings.Contains(res.Code, ": P") {
		t.Fatalf("Transpile() kept type annotations:\n%s", res.Code)
	}
}

func TestTranspileUnbalancedTag(t *testing.T) {
	tr := newTranspiler(t)
	res, err := tr.Transpile(component("app.jsx", "const x = 1;\nmount(<Hello>)\n"))
	if err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("Transpile() diagnostics = %v, want exactly one", res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if d.Severity != diag.SeverityError || d.Origin != diag.OriginStatic {
		t.Fatalf("diagnostic = %+v, want static error", d)
	}
	if d.File != "app.jsx" || d.Line < 2 || d.Column < 1 {
		t.Fatalf("diagnostic location = %s:%d:%d", d.File, d.Line, d.Column)
	}
	if res.Code != "" {
		t.Fatalf("Transpile() produced code despite error")
	}
}

func TestTranspileErrorColumnCountsCharacters(t *testing.T) {
	tr := newTranspiler(t)
	res, err := tr.Transpile(component("app.jsx", "const s = \"é😀\"; const = 1;\n"))
	if err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if len(res.Diagnostics) == 0 {
		t.Fatalf("Transpile() reported no diagnostics")
	}
	d := res.Diagnostics[0]
	if d.Line != 1 || d.Column != 24 {
		t.Fatalf("diagnostic location = %d:%d, want 1:24", d.Line, d.Column)
	}
}

func TestUTF16Column(t *testing.T) {
	cases := []struct {
		line    string
		byteCol int
		want    int
	}{
		{"abc", 0, 1},
		{"abc", 2, 3},
		{"é=", 2, 2},
		{"😀=", 4, 3},
		{"日本語", 9, 4},
		{"short", 99, 6},
		{"", -1, 1},
	}
	for _, c := range cases {
		if got := utf16Column(c.line, c.byteCol); got != c.want {
			t.Fatalf("utf16Column(%q, %d) = %d, want %d", c.line, c.byteCol, got, c.want)
		}
	}
}

func TestTranspileScriptPassThrough(t *testing.T) {
	tr := newTranspiler(t)
	f, _ := workspace.NewFile(workspace.Base{Name: "script.js", Content: "console.log('hi')"})
	res, err := tr.Transpile(f)
	if err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if res.Code != "console.log('hi')" || res.Kind != workspace.KindScript {
		t.Fatalf("Transpile() = %+v", res)
	}
}

func TestTranspileRejectsMarkup(t *testing.T) {
	tr := newTranspiler(t)
	f, _ := workspace.NewFile(workspace.Base{Name: "index.html"})
	if _, err := tr.Transpile(f); !errors.Is(err, ErrNotTranspilable) {
		t.Fatalf("Transpile() error = %v, want ErrNotTranspilable", err)
	}
}

func TestTranspileCachesByContent(t *testing.T) {
	tr := newTranspiler(t)
	calls := 0
	tr.transform = func(code string, opts api.TransformOptions) api.TransformResult {
		calls++
		return api.Transform(code, opts)
	}
	f := component("App.jsx", "export default () => <p/>;")
	for i := 0; i < 3; i++ {
		if _, err := tr.Transpile(f); err != nil {
			t.Fatalf("Transpile() error = %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("transform calls = %d, want 1", calls)
	}
	if _, err := tr.Transpile(component("App.jsx", "export default () => <i/>;")); err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("transform calls = %d, want 2 after content change", calls)
	}
}

func TestTranspileRecoversPanic(t *testing.T) {
	tr := newTranspiler(t)
	tr.transform = func(string, api.TransformOptions) api.TransformResult {
		panic("boom")
	}
	res, err := tr.Transpile(component("App.jsx", "x"))
	if err != nil {
		t.Fatalf("Transpile() error = %v", err)
	}
	if len(res.Diagnostics) != 1 || !strings.Contains(res.Diagnostics[0].Message, "internal transpiler failure") {
		t.Fatalf("Transpile() diagnostics = %v", res.Diagnostics)
	}
}

func TestMapperOriginal(t *testing.T) {
	tr := newTranspiler(t)
	src := "export default function App() {\n  const a = 1;\n  throw new Error('x');\n}\n"
	res, err := tr.Transpile(component("App.jsx", src))
	if err != nil || !res.OK() {
		t.Fatalf("Transpile() = %v, %v", res.Diagnostics, err)
	}
	m, err := NewMapper(res.Path, res.SourceMap)
	if err != nil {
		t.Fatalf("NewMapper() error = %v", err)
	}
	genLine := 0
	for i, l := range strings.Split(res.Code, "\n") {
		if strings.Contains(l, "throw new Error") {
			genLine = i + 1
			col := strings.Index(l, "throw") + 1
			line, _, ok := m.Original(genLine, col)
			if !ok {
				t.Fatalf("Original(%d,%d) not found", genLine, col)
			}
			if line != 3 {
				t.Fatalf("Original() line = %d, want 3", line)
			}
		}
	}
	if genLine == 0 {
		t.Fatalf("throw not found in output:\n%s", res.Code)
	}
	if _, err := NewMapper("x", nil); err == nil {
		t.Fatalf("NewMapper(nil) error = nil")
	}
}
