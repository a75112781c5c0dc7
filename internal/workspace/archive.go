package workspace

import (
	"archive/zip"
	"fmt"
	"io"
)

// WriteZip writes every file of the snapshot to w as a ZIP archive keyed by
// project path. Entries keep the files' modification times.
func (s Snapshot) WriteZip(w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, f := range s.Files {
		b := f.Info()
		hdr := &zip.FileHeader{Name: b.Path(), Method: zip.Deflate, Modified: b.LastModified}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip %s: %w", b.Path(), err)
		}
		if _, err := io.WriteString(fw, b.Content); err != nil {
			return fmt.Errorf("zip %s: %w", b.Path(), err)
		}
	}
	return zw.Close()
}
