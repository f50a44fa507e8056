// Package api wires the HTTP surface of Hearth.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/hearth/internal/api/handlers"
	"github.com/agentoven/hearth/internal/api/middleware"
	"github.com/agentoven/hearth/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeys)

	r := chi.NewRouter()

	// Global middleware. No response compression: it buffers event streams.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.UserExtractor)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-User-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", "X-Conversation-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.Middleware)

	// Health & info
	r.Get("/health", healthHandler(h))
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/tools", h.ListTools)

		// A new conversation id is generated when none is given.
		r.Post("/chat", h.Chat)

		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", h.GetConversation)
			r.Post("/chat", h.Chat)
			r.Get("/messages", h.ListMessages)
			r.Get("/tasks", h.ListTasks)
			r.Get("/state", h.GetState)
		})
	})

	return r
}

func healthHandler(h *handlers.Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := h.Store.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"service": "hearth",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "hearth",
		})
	}
}
