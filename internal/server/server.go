// Package server wires the dashboard API routes.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/server/handler"
	"github.com/praxisllmlab/copydesk/internal/server/middleware"
)

// Server holds dependencies for the HTTP API server.
type Server struct {
	Router         chi.Router
	Handlers       *handler.Handlers
	AuthMiddleware func(http.Handler) http.Handler
}

// ServerConfig holds configuration for creating a new Server.
type ServerConfig struct {
	Handlers *handler.Handlers
	Auth     middleware.AuthConfig
	Logger   *zap.Logger
}

// NewServer creates a chi router with all routes configured.
func NewServer(cfg ServerConfig) *Server {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	s := &Server{
		Router:         r,
		Handlers:       cfg.Handlers,
		AuthMiddleware: middleware.NewAuthMiddleware(cfg.Auth),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.Router
	h := s.Handlers

	// Health endpoints (no auth)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/readiness", h.HealthReadiness)
		r.Get("/liveness", h.HealthLiveness)
		r.Get("/services", h.HealthServices)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Post("/batches", h.CreateBatch)
		r.Post("/batches/import", h.ImportBatch)
		r.Get("/batches/history", h.BatchHistory)
		r.Get("/batches/current", h.CurrentBatch)
		r.Delete("/batches/current", h.CancelBatch)
		r.Get("/batches/current/export", h.ExportBatch)
		r.Post("/batches/current/archive", h.ArchiveBatch)

		r.Get("/import/template", h.ImportTemplate)

		r.Get("/config", h.GetConfig)
		r.Put("/config", h.PutConfig)
		r.Get("/config/languages", h.GetLanguages)
		r.Put("/config/languages", h.PutLanguages)
		r.Post("/config/languages/{code}/toggle", h.ToggleLanguage)

		r.Get("/admin/sessions", h.ListSessions)
		r.Delete("/admin/sessions/{key}", h.ResetSession)
		r.Get("/admin/housekeeping", h.ListHousekeeping)
		r.Post("/admin/housekeeping/{job}/run", h.RunHousekeeping)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
