package workspace

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"
)

func TestSnapshotWriteZip(t *testing.T) {
	s := newTestStore()
	for _, f := range []struct{ path, content string }{
		{"index.html", "<p>hi</p>"},
		{"src/App.jsx", "export default () => <p/>"},
		{"styles.css", "p { color: red }"},
	} {
		if _, err := s.Create(f.path, f.content); err != nil {
			t.Fatalf("Create(%s) error = %v", f.path, err)
		}
	}

	var buf bytes.Buffer
	if err := s.Snapshot().WriteZip(&buf); err != nil {
		t.Fatalf("WriteZip() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	got := map[string]string{}
	for _, zf := range zr.File {
		rc, err := zf.Open()
		if err != nil {
			t.Fatalf("open %s: %v", zf.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", zf.Name, err)
		}
		got[zf.Name] = string(data)
		if !zf.Modified.Equal(time.Unix(1700000000, 0)) {
			t.Fatalf("%s modified = %v", zf.Name, zf.Modified)
		}
	}
	if len(got) != 3 {
		t.Fatalf("entries = %v, want 3", got)
	}
	if got["src/App.jsx"] != "export default () => <p/>" || got["index.html"] != "<p>hi</p>" {
		t.Fatalf("unexpected contents: %v", got)
	}
}

func TestEmptySnapshotWriteZip(t *testing.T) {
	var buf bytes.Buffer
	if err := NewStore().Snapshot().WriteZip(&buf); err != nil {
		t.Fatalf("WriteZip() error = %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	if len(zr.File) != 0 {
		t.Fatalf("entries = %d, want 0", len(zr.File))
	}
}
