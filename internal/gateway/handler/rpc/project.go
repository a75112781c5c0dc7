package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	artifactrepo "playground/internal/gateway/repository/artifact"
	"playground/internal/gateway/repository/projectstore"
	"playground/internal/gateway/service/project"
	"playground/internal/registry"
	"playground/internal/session"

	"connectrpc.com/connect"
)

const (
	ProjectServiceName = "playground.v1.ProjectService"

	ProjectServiceLoadProcedure           = "/playground.v1.ProjectService/Load"
	ProjectServiceSaveProcedure           = "/playground.v1.ProjectService/Save"
	ProjectServiceVersionsProcedure       = "/playground.v1.ProjectService/Versions"
	ProjectServiceShareProcedure          = "/playground.v1.ProjectService/Share"
	ProjectServiceSearchPackagesProcedure = "/playground.v1.ProjectService/SearchPackages"
	ProjectServiceExportProcedure         = "/playground.v1.ProjectService/Export"
)

type ProjectView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Entry     string     `json:"entry,omitempty"`
	Files     []FileView `json:"files"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type FileView struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type VersionView struct {
	ID        int       `json:"id"`
	Path      string    `json:"path"`
	Change    string    `json:"change"`
	Diff      string    `json:"diff"`
	CreatedAt time.Time `json:"createdAt"`
}

type LoadRequest struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId"`
}

type LoadResponse struct {
	Project ProjectView `json:"project"`
}

type SaveRequest struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId,omitempty"`
	Name      string `json:"name,omitempty"`
}

type SaveResponse struct {
	Project  ProjectView   `json:"project"`
	Versions []VersionView `json:"versions"`
}

type VersionsRequest struct {
	ProjectID string `json:"projectId"`
	Path      string `json:"path,omitempty"`
}

type VersionsResponse struct {
	Versions []VersionView `json:"versions"`
}

type ShareRequest struct {
	SessionID string `json:"sessionId"`
}

type ShareResponse struct {
	ShareID    string `json:"shareId"`
	URL        string `json:"url"`
	Generation uint64 `json:"generation"`
}

type SearchPackagesRequest struct {
	Query string `json:"query"`
}

type SearchPackagesResponse struct {
	Packages []registry.Package `json:"packages"`
}

type ExportRequest struct {
	SessionID string `json:"sessionId"`
}

// ExportResponse carries the archive base64-encoded in JSON.
type ExportResponse struct {
	FileName string `json:"fileName"`
	Archive  []byte `json:"archive"`
}

type ProjectHandler struct {
	svc *project.Service
}

func NewProjectHandler(svc *project.Service) *ProjectHandler {
	return &ProjectHandler{svc: svc}
}

// NewProjectServiceHandler mounts the project procedures. It returns the path
// prefix to register on a mux.
func NewProjectServiceHandler(h *ProjectHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append(opts, connect.WithCodec(jsonCodec{}))
	mux := http.NewServeMux()
	mux.Handle(ProjectServiceLoadProcedure, connect.NewUnaryHandler(ProjectServiceLoadProcedure, h.Load, opts...))
	mux.Handle(ProjectServiceSaveProcedure, connect.NewUnaryHandler(ProjectServiceSaveProcedure, h.Save, opts...))
	mux.Handle(ProjectServiceVersionsProcedure, connect.NewUnaryHandler(ProjectServiceVersionsProcedure, h.Versions, opts...))
	mux.Handle(ProjectServiceShareProcedure, connect.NewUnaryHandler(ProjectServiceShareProcedure, h.Share, opts...))
	mux.Handle(ProjectServiceSearchPackagesProcedure, connect.NewUnaryHandler(ProjectServiceSearchPackagesProcedure, h.SearchPackages, opts...))
	mux.Handle(ProjectServiceExportProcedure, connect.NewUnaryHandler(ProjectServiceExportProcedure, h.Export, opts...))
	return "/" + ProjectServiceName + "/", mux
}

func (h *ProjectHandler) Load(ctx context.Context, req *connect.Request[LoadRequest]) (*connect.Response[LoadResponse], error) {
	projectID := strings.TrimSpace(req.Msg.ProjectID)
	if projectID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("project_id is required"))
	}
	p, err := h.svc.Load(ctx, strings.TrimSpace(req.Msg.SessionID), projectID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LoadResponse{Project: toProjectView(p)}), nil
}

func (h *ProjectHandler) Save(ctx context.Context, req *connect.Request[SaveRequest]) (*connect.Response[SaveResponse], error) {
	sessionID := strings.TrimSpace(req.Msg.SessionID)
	if sessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	p, versions, err := h.svc.Save(ctx, sessionID, req.Msg.ProjectID, req.Msg.Name)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SaveResponse{Project: toProjectView(p), Versions: toVersionViews(versions)}), nil
}

func (h *ProjectHandler) Versions(ctx context.Context, req *connect.Request[VersionsRequest]) (*connect.Response[VersionsResponse], error) {
	projectID := strings.TrimSpace(req.Msg.ProjectID)
	if projectID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("project_id is required"))
	}
	versions, err := h.svc.Versions(ctx, projectID, req.Msg.Path)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&VersionsResponse{Versions: toVersionViews(versions)}), nil
}

func (h *ProjectHandler) Share(ctx context.Context, req *connect.Request[ShareRequest]) (*connect.Response[ShareResponse], error) {
	sessionID := strings.TrimSpace(req.Msg.SessionID)
	if sessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	share, err := h.svc.Share(ctx, sessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ShareResponse{ShareID: share.ID, URL: share.URL, Generation: share.Generation}), nil
}

func (h *ProjectHandler) SearchPackages(ctx context.Context, req *connect.Request[SearchPackagesRequest]) (*connect.Response[SearchPackagesResponse], error) {
	return connect.NewResponse(&SearchPackagesResponse{Packages: h.svc.SearchPackages(ctx, req.Msg.Query)}), nil
}

func (h *ProjectHandler) Export(ctx context.Context, req *connect.Request[ExportRequest]) (*connect.Response[ExportResponse], error) {
	sessionID := strings.TrimSpace(req.Msg.SessionID)
	if sessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	data, err := h.svc.Export(ctx, sessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ExportResponse{FileName: sessionID + ".zip", Archive: data}), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, projectstore.ErrNotFound),
		errors.Is(err, session.ErrUnknownSession),
		errors.Is(err, artifactrepo.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, projectstore.ErrInvalidID):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, project.ErrNothingToShare):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, session.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
