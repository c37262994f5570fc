// Package api assembles the FloatChat HTTP routes.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/floatchat/floatchat/internal/api/handlers"
	"github.com/floatchat/floatchat/internal/api/middleware"
	"github.com/floatchat/floatchat/internal/observability"
)

// RouterParams holds the handlers and settings for NewRouter. MCP, MetricsHandler and Metrics may be nil.
type RouterParams struct {
	Query          *handlers.QueryHandler
	Nearest        *handlers.NearestHandler
	Health         *handlers.HealthHandler
	MCP            http.Handler
	MetricsHandler http.Handler
	Metrics        observability.APIMetrics
	MaxBodyBytes   int64
	AllowedOrigins []string
}

// NewRouter builds the route table. Request ids, tracing and access logs wrap the returned handler (see cmd/api).
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: p.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.Metrics(p.Metrics))

	r.Get("/", p.Health.Root)
	r.Get("/health", p.Health.Check)
	r.Get("/ready", p.Health.Ready)

	if p.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", p.MetricsHandler)
	}

	var recorder middleware.RequestBodyTooLargeRecorder
	if p.Metrics != nil {
		recorder = p.Metrics
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBody(p.MaxBodyBytes, recorder))

		r.Post("/query", p.Query.Query)
		r.Post("/v1/query", p.Query.Query)
		r.Get("/v1/profiles/nearest", p.Nearest.Nearest)
	})

	if p.MCP != nil {
		r.Mount("/mcp", p.MCP)
	}

	return r
}
