package app

import (
	"context"
	"errors"
	"fmt"

	"playground/internal/gateway/config"
	"playground/internal/gateway/handler"
	"playground/internal/gateway/handler/rpc"
	"playground/internal/gateway/server"
	"playground/internal/gateway/service/project"
	"playground/internal/logging"
	"playground/internal/pipeline"
	"playground/internal/pipeline/resolve"
	"playground/internal/pipeline/transpile"
	"playground/internal/registry"
	"playground/internal/sandbox"
	"playground/internal/session"

	"go.uber.org/zap"
)

type App struct {
	server   *server.Server
	sessions *session.Manager
	stores   *gatewayStores
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return nil, fmt.Errorf("failed to init logging: %w", err)
	}

	// Dependencies
	stores, err := initStores(cfg)
	if err != nil {
		return nil, err
	}
	tr, err := transpile.New(cfg.Playground.TranspileCacheSize)
	if err != nil {
		_ = stores.Close()
		return nil, fmt.Errorf("failed to init transpiler: %w", err)
	}
	builder := pipeline.NewBuilder(tr, resolve.New(resolve.DefaultRegistry()))

	factory, docs, err := hostFactory(cfg, builder)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	sessions := session.NewManager(factory, cfg.Playground.Template)
	sessions.IdleTimeout = cfg.Playground.IdleTimeout

	catalog := registry.New(registry.Options{Endpoint: cfg.Playground.RegistryEndpoint})
	projectSvc := project.New(sessions, stores.projects, stores.shares, catalog)

	// Routing & Server
	mux := server.NewMux(server.Handlers{
		Project:        rpc.NewProjectHandler(projectSvc),
		Playground:     rpc.NewPlaygroundHandler(sessions, projectSvc),
		Preview:        handler.NewPreviewHandler(projectSvc, sessions),
		Documents:      docs,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	logging.L().Info("gateway configured",
		zap.String("env", cfg.Env),
		zap.String("sandbox", string(cfg.Playground.Sandbox)),
		zap.Duration("debounce", cfg.Playground.Debounce))

	return &App{
		server:   server.New(cfg.Port, mux),
		sessions: sessions,
		stores:   stores,
	}, nil
}

// hostFactory returns the session factory for the configured sandbox mode.
// Frame mode also returns the document cache the preview route serves.
func hostFactory(cfg *config.Config, builder *pipeline.Builder) (session.Factory, *sandbox.Documents, error) {
	pg := cfg.Playground
	opts := func(host sandbox.Host) session.Options {
		return session.Options{
			Debounce:    pg.Debounce,
			AutoRefresh: true,
			Builder:     builder,
			Host:        host,
		}
	}
	switch pg.Sandbox {
	case sandbox.ModeHeadless:
		libs, err := sandbox.NewHTTPLibraries(nil, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init library fetcher: %w", err)
		}
		return func(string) (session.Options, error) {
			return opts(sandbox.NewHeadless(sandbox.HeadlessConfig{Budget: pg.ExecTimeout}, libs)), nil
		}, nil, nil
	default:
		docs := sandbox.NewDocuments(sandbox.DefaultDocumentCapacity, sandbox.DefaultDocumentTTL)
		return func(id string) (session.Options, error) {
			return opts(sandbox.NewFrame(id, docs)), nil
		}, docs, nil
	}
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.sessions.CloseAll()
	if cerr := a.stores.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	_ = logging.Sync()
	return err
}
