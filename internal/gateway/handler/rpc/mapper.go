package rpc

import (
	"playground/internal/gateway/repository/projectstore"
)

func toProjectView(p projectstore.Project) ProjectView {
	v := ProjectView{
		ID:        p.ID,
		Name:      p.Name,
		Entry:     p.Entry,
		Files:     make([]FileView, 0, len(p.Files)),
		UpdatedAt: p.UpdatedAt,
	}
	for _, f := range p.Files {
		v.Files = append(v.Files, FileView{Path: f.Path, Content: f.Content})
	}
	return v
}

func toVersionViews(in []projectstore.Version) []VersionView {
	out := make([]VersionView, 0, len(in))
	for _, v := range in {
		out = append(out, VersionView{
			ID:        v.ID,
			Path:      v.Path,
			Change:    string(v.Change),
			Diff:      v.Diff,
			CreatedAt: v.CreatedAt,
		})
	}
	return out
}
