package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
)

// defaultRequestTimeout is the soft deadline applied to API request
// contexts. Handlers here read in-memory state or kick off background
// forwards, so anything slower than this indicates a stall.
const defaultRequestTimeout = 10 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in
// request logs to prevent accidental leakage of credentials.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes defines the top-level routing hierarchy: the global
// middleware chain, the /api/v1 group, and the health endpoint.
//
// Within /api/v1, plain request/response endpoints additionally get a
// request deadline and gzip compression. Long-lived endpoints (the UI
// event stream) are mounted alongside them without those wrappers: a
// deadline would sever the connection mid-stream and the gzip writer
// would buffer upgrade traffic.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(ContextTimeoutMiddleware(s.requestTimeout()))
			r.Use(func(next http.Handler) http.Handler {
				return gzhttp.GzipHandler(next)
			})
			for _, registrar := range s.V1RouteRegistrars {
				registrar(r)
			}
		})
		for _, registrar := range s.StreamRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/healthz", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order:
//
//  1. Recoverer       - outermost, catches all panics.
//  2. RequestID       - correlation ID for logs and responses.
//  3. SecurityHeaders - present on every response, error paths included.
//  4. RequestLogger   - structured logging with redacted headers.
//  5. CORS            - browser access for the operator UI.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, s.redactedHeaders()))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
}

// requestTimeout returns the soft request deadline for API endpoints.
func (s *Server) requestTimeout() time.Duration {
	return defaultRequestTimeout
}

// redactedHeaders returns the list of header names to redact in request logs.
func (s *Server) redactedHeaders() []string {
	return defaultRedactedHeaders
}

// corsAllowedOrigins returns the CORS allowed origins from configuration.
func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}
