package commands

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestInitThenCheck(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")
	out, _, err := runCLI(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "index.html")

	out, _, err = runCLI(t, "check", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "no problems found")

	_, _, err = runCLI(t, "init", dir)
	assert.ErrorContains(t, err, "not empty")
}

func TestInitUnknownTemplate(t *testing.T) {
	_, _, err := runCLI(t, "init", t.TempDir(), "--template", "nope")
	assert.Error(t, err)
}

func TestCheckReportsSyntaxErrors(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"index.html": `<div id="app"></div>`,
		"App.jsx":    "export default function App() {\n  return <p>hi</p\n}\n",
	})
	out, _, err := runCLI(t, "check", dir)
	assert.ErrorIs(t, err, errDiagnostics)
	assert.Contains(t, out, "[error] App.jsx:")
	assert.Contains(t, out, "1 error(s)")
}

func TestBuildWritesDocument(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"index.html": `<html><head><title>Demo</title></head><body><script src="main.js"></script></body></html>`,
		"main.js":    "console.log('hi')",
		"README.md":  "skip me",
	})
	out, stderr, err := runCLI(t, "build", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "console.log('hi')")
	assert.Contains(t, stderr, "skipped README.md")

	target := filepath.Join(t.TempDir(), "out.html")
	_, _, err = runCLI(t, "build", dir, "--out", target)
	require.NoError(t, err)
	html, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<title>Demo</title>")
}

func TestBuildWithoutMarkup(t *testing.T) {
	dir := writeProject(t, map[string]string{"main.js": "1"})
	_, _, err := runCLI(t, "build", dir)
	assert.ErrorContains(t, err, "preview unavailable")
}

func TestBuildUnknownEntry(t *testing.T) {
	dir := writeProject(t, map[string]string{"index.html": "<p>x</p>"})
	_, _, err := runCLI(t, "build", dir, "--entry", "missing.html")
	assert.Error(t, err)
}

func TestRunPrintsConsoleAndBody(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"index.html": `<html><body><div id="out"></div><script src="script.js"></script></body></html>`,
		"script.js": `document.addEventListener('DOMContentLoaded', function () {
  var p = document.createElement('p');
  p.textContent = 'hello';
  document.getElementById('out').appendChild(p);
  console.log('mounted');
});
`,
	})
	out, _, err := runCLI(t, "run", dir, "--offline", "--body")
	require.NoError(t, err)
	assert.Contains(t, out, "[log] mounted")
	assert.Contains(t, out, "hello")
}

func TestRunReportsRuntimeErrors(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"index.html": `<p>x</p>`,
		"script.js":  "function boom() {\n  return null.x;\n}\nboom();\n",
	})
	out, _, err := runCLI(t, "run", dir, "--offline")
	assert.ErrorIs(t, err, errDiagnostics)
	assert.Contains(t, out, "[error] script.js:")
}

func TestExportWritesArchive(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"index.html":      `<div id="app"></div>`,
		"src/App.jsx":     "export default function App() { return <p>hi</p>; }\n",
		"styles/main.css": "p { color: red; }",
		"notes.txt":       "skip me",
	})
	target := filepath.Join(t.TempDir(), "demo.zip")
	out, stderr, err := runCLI(t, "export", dir, "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 3 file(s)")
	assert.Contains(t, stderr, "skipped notes.txt")

	zr, err := zip.OpenReader(target)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"index.html", "src/App.jsx", "styles/main.css"}, names)
}

func TestExportEmptyDirectory(t *testing.T) {
	_, _, err := runCLI(t, "export", t.TempDir(), "--out", filepath.Join(t.TempDir(), "x.zip"))
	assert.ErrorContains(t, err, "no project files")
}
