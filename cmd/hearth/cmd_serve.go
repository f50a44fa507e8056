package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agentoven/hearth/pkg/server"
)

// ServeCmd runs the HTTP API.
type ServeCmd struct {
	Port            int           `help:"Listen port; overrides HEARTH_PORT."`
	ShutdownTimeout time.Duration `default:"15s" help:"Grace period for in-flight replies."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg := cli.loadConfig()
	if c.Port > 0 {
		cfg.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", cfg.Version).Msg("🔥 Hearth starting...")

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // chat streams lift their own deadline
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.Janitor.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", srv.Port).Msg("🔥 Hearth is listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()
	if err := srv.ShutdownFunc(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown incomplete")
	}
	return runErr
}
