// Package server assembles a ready Hearth backend from configuration.
//
// Usage:
//
//	srv, err := server.New(ctx, config.Load())
//	go srv.Janitor.Start(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
//	srv.ShutdownFunc(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/agentoven/hearth/internal/api"
	"github.com/agentoven/hearth/internal/api/handlers"
	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/executor"
	"github.com/agentoven/hearth/internal/integrations/langfuse"
	"github.com/agentoven/hearth/internal/orchestrator"
	"github.com/agentoven/hearth/internal/retention"
	modelrouter "github.com/agentoven/hearth/internal/router"
	"github.com/agentoven/hearth/internal/state"
	"github.com/agentoven/hearth/internal/store"
	"github.com/agentoven/hearth/internal/telemetry"
	"github.com/agentoven/hearth/internal/tools"
	"github.com/agentoven/hearth/internal/tracing"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized Hearth backend.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Service runs turns directly, for the CLI.
	Service *orchestrator.Service

	Store   store.Store
	Janitor *retention.Janitor
	Config  *config.Config
	Port    int

	// ShutdownFunc flushes trace exporters and telemetry and closes the
	// store. Call it once, after the HTTP server stopped.
	ShutdownFunc func(context.Context) error
}

// New validates cfg and wires every component.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, err
	}

	mr, err := modelrouter.NewFromConfig(cfg)
	if err != nil {
		dataStore.Close()
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("init model router: %w", err)
	}

	registry := tools.BuildRegistry(cfg.Tools, tools.DefaultCapabilities())
	log.Info().Strs("tools", registry.Names()).Msg("✅ Tool registry built")

	exporter := buildExporter(cfg)
	sessions := state.NewManager()
	orch := orchestrator.New(mr, registry, executor.NewEngine(dataStore), cfg.Model)
	svc := orchestrator.NewService(orch, dataStore, sessions, registry, exporter, cfg)

	h := handlers.New(svc, dataStore)

	shutdown := func(ctx context.Context) error {
		var errs []error
		if err := svc.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := shutdownTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		if err := dataStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &Server{
		Handler:      api.NewRouter(cfg, h),
		Service:      svc,
		Store:        dataStore,
		Janitor:      retention.NewJanitor(sessions, cfg.State.SweepInterval, cfg.State.TTL),
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(cfg.DataDir), nil
	default:
		s, err := store.OpenSQLite(ctx, cfg.SQLiteFile())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}

// buildExporter fans turn traces out to Langfuse and OpenTelemetry,
// whichever are configured.
func buildExporter(cfg *config.Config) tracing.Exporter {
	var exps tracing.MultiExporter
	if cfg.Langfuse.Enabled() {
		exps = append(exps, langfuse.NewExporter(cfg.Langfuse, cfg.Version))
	}
	if cfg.Telemetry.Enabled {
		exps = append(exps, telemetry.NewSpanMirror(nil))
	}
	if len(exps) == 0 {
		return tracing.NopExporter{}
	}
	return exps
}
