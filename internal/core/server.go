// Package core provides the HTTP chassis for the May Roga API. It builds a chi
// router and enforces cross-cutting concerns (panic recovery, request ids,
// logging, CORS, metrics, rate limiting, and error rendering) before requests
// reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mayroga/internal/config"
)

// MetricsCollector records API telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of handler routes onto r. Registrars are
// supplied by the entry point so core never imports handler packages.
type RouteRegistrar func(r chi.Router)

// Routes groups registrars by the middleware they need.
type Routes struct {
	// JSON routes run under the request timeout and gzip compression.
	JSON []RouteRegistrar
	// Limited routes are JSON routes that are also rate limited per client IP.
	Limited []RouteRegistrar
	// Stream routes hold the connection open; they get neither the request
	// timeout nor compression.
	Stream []RouteRegistrar
}

// Server encapsulates the dependencies of the HTTP layer.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	RateLimitStore RateLimitStore
	HealthProbes   []HealthProbe
	Routes         Routes

	router *chi.Mux
}

// NewServer initializes the server and its router. The caller fills in
// Routes, HealthProbes and the optional collaborators, then calls MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases resources held by the HTTP layer. Closers registered as
// health probes (the database pool) are closed by their owners.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	if f, ok := s.Metrics.(interface{ Flush(context.Context) }); ok {
		f.Flush(ctx)
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
