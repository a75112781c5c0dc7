package projectstore

import (
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// changes lists the versions a save from before to after produces, in path
// order. Unchanged files produce nothing.
func changes(before, after Project, now time.Time) []Version {
	old := make(map[string]string, len(before.Files))
	for _, f := range before.Files {
		old[f.Path] = f.Content
	}
	var out []Version
	for _, f := range after.Files {
		prev, ok := old[f.Path]
		delete(old, f.Path)
		switch {
		case !ok:
			out = append(out, version(after.ID, f.Path, ChangeAdded, "", f.Content, now))
		case prev != f.Content:
			out = append(out, version(after.ID, f.Path, ChangeModified, prev, f.Content, now))
		}
	}
	for _, f := range before.Files {
		if content, ok := old[f.Path]; ok {
			out = append(out, version(after.ID, f.Path, ChangeDeleted, content, "", now))
		}
	}
	return out
}

func version(projectID, p string, c Change, from, to string, now time.Time) Version {
	return Version{
		ProjectID: projectID,
		Path:      p,
		Change:    c,
		Diff:      unifiedDiff(p, from, to),
		CreatedAt: now,
	}
}

func unifiedDiff(p, from, to string) string {
	d := difflib.UnifiedDiff{
		A:        lines(from),
		B:        lines(to),
		FromFile: "a" + p,
		ToFile:   "b" + p,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		return ""
	}
	return text
}

func lines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(s)
}
