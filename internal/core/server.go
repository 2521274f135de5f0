// Package core provides the HTTP chassis for the agent's operator API.
// It creates a chi router, enforces cross-cutting concerns -- panic
// recovery, request IDs, logging, compression, and error handling --
// before requests reach domain-specific handlers, and serves the health
// endpoint the field tooling scrapes.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"scoutlink/internal/config"
)

// Server bundles the operator API dependencies so tests can construct the
// chassis with fakes and production code with the real wiring.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// V1RouteRegistrars mount the request/response endpoints under
	// /api/v1. Populated by the entry point; the indirection keeps core
	// free of handler imports.
	V1RouteRegistrars []func(chi.Router)

	// StreamRegistrars mount long-lived endpoints under /api/v1.
	// These skip the request deadline and compression wrappers, which
	// would sever or garble a held-open connection.
	StreamRegistrars []func(chi.Router)

	// HealthProbes are checked concurrently by the health endpoint.
	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes afterwards via MountRoutes; the separation lets
// tests customize registration.
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

// Handler returns the router as an http.Handler for the HTTP server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
