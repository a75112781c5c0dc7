package workspace

import (
	"errors"
	"path"
	"strings"
	"time"
)

type Kind string

const (
	KindMarkup     Kind = "markup"
	KindStylesheet Kind = "stylesheet"
	KindScript     Kind = "script"
	KindComponent  Kind = "component"
	KindManifest   Kind = "manifest"
)

// Dialect selects the syntax accepted for a component-script file.
type Dialect string

const (
	DialectJSX Dialect = "jsx"
	DialectTSX Dialect = "tsx"
)

// ManifestName is the only file name recognised as a dependency manifest.
const ManifestName = "package.json"

var ErrUnsupportedKind = errors.New("unsupported file type")

// Base carries the fields every project file has.
type Base struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Dir          string    `json:"dir,omitempty"`
	Content      string    `json:"content"`
	LastModified time.Time `json:"lastModified"`
}

// Path is the file's full project path, without a leading slash.
func (b Base) Path() string {
	if b.Dir == "" {
		return b.Name
	}
	return b.Dir + "/" + b.Name
}

// File is one of Markup, Stylesheet, Script, Component or ManifestFile.
type File interface {
	Kind() Kind
	Info() Base
	isFile()
}

type Markup struct{ Base }

type Stylesheet struct{ Base }

type Script struct{ Base }

type Component struct {
	Base
	Dialect Dialect
}

type ManifestFile struct{ Base }

func (Markup) Kind() Kind       { return KindMarkup }
func (Stylesheet) Kind() Kind   { return KindStylesheet }
func (Script) Kind() Kind       { return KindScript }
func (Component) Kind() Kind    { return KindComponent }
func (ManifestFile) Kind() Kind { return KindManifest }

func (f Markup) Info() Base       { return f.Base }
func (f Stylesheet) Info() Base   { return f.Base }
func (f Script) Info() Base       { return f.Base }
func (f Component) Info() Base    { return f.Base }
func (f ManifestFile) Info() Base { return f.Base }

func (Markup) isFile()       {}
func (Stylesheet) isFile()   {}
func (Script) isFile()       {}
func (Component) isFile()    {}
func (ManifestFile) isFile() {}

// KindOf derives the content kind from a file name.
func KindOf(name string) (Kind, error) {
	base := strings.ToLower(path.Base(name))
	if base == ManifestName {
		return KindManifest, nil
	}
	switch path.Ext(base) {
	case ".html", ".htm":
		return KindMarkup, nil
	case ".css":
		return KindStylesheet, nil
	case ".js", ".mjs", ".cjs":
		return KindScript, nil
	case ".jsx", ".tsx":
		return KindComponent, nil
	}
	return "", ErrUnsupportedKind
}

// NewFile builds the variant matching b.Name.
func NewFile(b Base) (File, error) {
	kind, err := KindOf(b.Name)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindMarkup:
		return Markup{b}, nil
	case KindStylesheet:
		return Stylesheet{b}, nil
	case KindScript:
		return Script{b}, nil
	case KindComponent:
		d := DialectJSX
		if strings.EqualFold(path.Ext(b.Name), ".tsx") {
			d = DialectTSX
		}
		return Component{Base: b, Dialect: d}, nil
	default:
		return ManifestFile{b}, nil
	}
}

// Path returns the full path of f.
func Path(f File) string {
	return f.Info().Path()
}

// CleanPath normalises a project path: forward slashes, no leading "/" or
// "./". ".." segments are resolved against the project root and cannot
// climb above it.
func CleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// SplitPath splits a cleaned path into directory and name.
func SplitPath(p string) (dir, name string) {
	p = CleanPath(p)
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}
