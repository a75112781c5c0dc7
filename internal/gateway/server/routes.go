package server

import (
	"net/http"

	"playground/internal/gateway/handler"
	"playground/internal/gateway/handler/rpc"
	"playground/internal/gateway/middleware"
	"playground/internal/metrics"
	"playground/internal/sandbox"
)

type Handlers struct {
	Project    *rpc.ProjectHandler
	Playground *rpc.PlaygroundHandler
	Preview    *handler.PreviewHandler
	// Documents serves frame previews. Nil in headless mode.
	Documents      *sandbox.Documents
	AllowedOrigins []string
}

func NewMux(h Handlers) http.Handler {
	mux := http.NewServeMux()

	// RPC Handlers
	path, rpcHandler := rpc.NewProjectServiceHandler(h.Project)
	mux.Handle(path, metrics.Middleware("rpc", rpcHandler))

	// Editor channel
	mux.Handle("GET /ws/playground", metrics.Middleware("ws", http.HandlerFunc(h.Playground.HandlePlaygroundWS)))

	// Preview documents
	if h.Documents != nil {
		mux.Handle("GET /preview/{session}/{gen}", metrics.Middleware("preview", h.Documents))
	}
	mux.Handle("GET /shared/{id}", metrics.Middleware("shared", http.HandlerFunc(h.Preview.HandleShared)))

	// Operations
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", h.Preview.HandleHealth)
	mux.HandleFunc("GET /debug/session", h.Preview.HandleSessionDebug)

	// Middleware
	return middleware.RequestLog(middleware.CORS(h.AllowedOrigins)(mux))
}
