package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	artifactrepo "playground/internal/gateway/repository/artifact"
	"playground/internal/gateway/service/project"
	"playground/internal/sandbox"
	"playground/internal/session"
)

// PreviewHandler serves shared previews and the session debug view.
type PreviewHandler struct {
	projects *project.Service
	sessions *session.Manager
}

func NewPreviewHandler(projects *project.Service, sessions *session.Manager) *PreviewHandler {
	return &PreviewHandler{projects: projects, sessions: sessions}
}

// HandleShared serves GET /shared/{id}.
func (h *PreviewHandler) HandleShared(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "share id is required", http.StatusBadRequest)
		return
	}
	doc, err := h.projects.Shared(r.Context(), id)
	if errors.Is(err, artifactrepo.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sandbox.WriteDocument(w, string(doc))
}

// HandleSessionDebug serves GET /debug/session?session=: the scheduler state
// and the diagnostic view of one session.
func (h *PreviewHandler) HandleSessionDebug(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session"))
	if id == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}
	sess, err := h.sessions.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	state, err := sess.State(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session":     id,
		"state":       state,
		"diagnostics": sess.Bridge().View(),
	})
}

// HandleHealth reports liveness and the number of open sessions.
func (h *PreviewHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":       true,
		"sessions": h.sessions.Len(),
	})
}
