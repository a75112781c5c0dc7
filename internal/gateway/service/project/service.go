// Package project loads, saves and shares the projects behind playground
// sessions.
package project

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	artifactrepo "playground/internal/gateway/repository/artifact"
	"playground/internal/gateway/repository/projectstore"
	"playground/internal/logging"
	"playground/internal/registry"
	"playground/internal/session"
	"playground/internal/workspace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ShareDocument is the path of a shared preview's document in the artifact
// store.
const ShareDocument = "index.html"

var ErrNothingToShare = errors.New("no running preview to share")

// Service implements project persistence for sessions.
type Service struct {
	sessions *session.Manager
	store    *projectstore.Store
	shares   artifactrepo.Store
	catalog  *registry.Catalog
}

func New(sessions *session.Manager, store *projectstore.Store, shares artifactrepo.Store, catalog *registry.Catalog) *Service {
	return &Service{sessions: sessions, store: store, shares: shares, catalog: catalog}
}

// Load replaces the session's files with the stored project. The session is
// opened when it does not exist yet.
func (s *Service) Load(ctx context.Context, sessionID, projectID string) (projectstore.Project, error) {
	p, err := s.store.Load(ctx, projectID)
	if err != nil {
		return projectstore.Project{}, err
	}
	sess, _, err := s.sessions.Open(ctx, sessionID)
	if err != nil {
		return projectstore.Project{}, err
	}
	seeds := make([]workspace.Seed, 0, len(p.Files))
	for _, f := range p.Files {
		seeds = append(seeds, workspace.Seed{Path: f.Path, Content: f.Content})
	}
	if err := sess.Load(ctx, seeds, p.Entry); err != nil {
		return projectstore.Project{}, fmt.Errorf("load project %s: %w", p.ID, err)
	}
	logging.WithContext(ctx).Info("project loaded",
		zap.String("session", sess.ID()),
		zap.String("project", p.ID),
		zap.Int("files", len(p.Files)))
	return p, nil
}

// Save stores the session's current files as projectID and returns the
// versions the save recorded.
func (s *Service) Save(ctx context.Context, sessionID, projectID, name string) (projectstore.Project, []projectstore.Version, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return projectstore.Project{}, nil, err
	}
	files, err := sess.Files(ctx)
	if err != nil {
		return projectstore.Project{}, nil, err
	}
	p := projectstore.Project{ID: strings.TrimSpace(projectID), Name: name}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, f := range files {
		p.Files = append(p.Files, projectstore.File{Path: f.Path, Content: f.Content})
		if f.Entry {
			p.Entry = f.Path
		}
	}
	versions, err := s.store.Save(ctx, p)
	if err != nil {
		return projectstore.Project{}, nil, err
	}
	saved, err := s.store.Load(ctx, p.ID)
	if err != nil {
		return projectstore.Project{}, nil, err
	}
	return saved, versions, nil
}

func (s *Service) Versions(ctx context.Context, projectID, path string) ([]projectstore.Version, error) {
	return s.store.Versions(ctx, projectID, path)
}

type Share struct {
	ID         string
	URL        string
	Generation uint64
}

// Share stores the session's running preview document and returns where it
// can be opened.
func (s *Service) Share(ctx context.Context, sessionID string) (Share, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return Share{}, err
	}
	out, err := sess.Preview(ctx)
	if errors.Is(err, session.ErrNoPreview) {
		return Share{}, ErrNothingToShare
	}
	if err != nil {
		return Share{}, err
	}
	id := uuid.NewString()
	if err := s.shares.Put(ctx, id, ShareDocument, []byte(out.Document.HTML)); err != nil {
		return Share{}, fmt.Errorf("store shared preview: %w", err)
	}
	url, err := s.shares.GetURL(ctx, id, ShareDocument)
	if err != nil {
		logging.WithContext(ctx).Warn("share url unavailable", zap.String("share", id), zap.Error(err))
	}
	if url == "" {
		url = "/shared/" + id
	}
	return Share{ID: id, URL: url, Generation: out.Generation}, nil
}

// Export returns the session's files as a ZIP archive.
func (s *Service) Export(ctx context.Context, sessionID string) ([]byte, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	snap, err := sess.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := snap.WriteZip(&buf); err != nil {
		return nil, fmt.Errorf("export session %s: %w", sessionID, err)
	}
	logging.WithContext(ctx).Info("project exported",
		zap.String("session", sessionID),
		zap.Int("files", len(snap.Files)),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// Shared returns a shared preview document.
func (s *Service) Shared(ctx context.Context, shareID string) ([]byte, error) {
	return s.shares.Get(ctx, shareID, ShareDocument)
}

// SearchPackages queries the catalog. A failing remote search still yields
// the offline matches.
func (s *Service) SearchPackages(ctx context.Context, query string) []registry.Package {
	found, err := s.catalog.Search(ctx, query)
	if err != nil {
		logging.WithContext(ctx).Warn("package search degraded", zap.String("query", query), zap.Error(err))
	}
	return found
}

// Install adds a dependency to the session's manifest, taking the catalog
// version when none is given.
func (s *Service) Install(ctx context.Context, sess *session.Session, name, version string, kind workspace.DepKind) (workspace.InstallResult, error) {
	if strings.TrimSpace(version) == "" {
		v, err := s.catalog.Version(ctx, name)
		if err != nil {
			return 0, err
		}
		version = v
	}
	return sess.Install(ctx, name, version, kind)
}
