// Package server assembles the HTTP router.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vtuplatform/internal/common/middleware"
	"vtuplatform/internal/common/observability"
	"vtuplatform/internal/domain"
	fundingapi "vtuplatform/internal/funding/api"
	ledgerapi "vtuplatform/internal/ledger/api"
	settlementapi "vtuplatform/internal/settlement/api"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router mounts.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	JWTSecret      []byte
	CORSOrigins    []string
	Idempotency    middleware.IdempotencyStore
	IdempotencyTTL time.Duration
	RateLimiter    middleware.RateLimiter
	Ledger         *ledgerapi.Handler
	Settlement     *settlementapi.Handler
	Funding        *fundingapi.Handler
	Checks         map[string]HealthCheck
}

// NewRouter builds the API router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	r.Use(d.Metrics.Middleware)
	r.Use(middleware.CORS(d.CORSOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for name, check := range d.Checks {
			if err := check(r.Context()); err != nil {
				d.Logger.Warn("readiness check failed", "dependency", name, "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable","dependency":"` + name + `"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(d.JWTSecret))
		r.Use(middleware.RateLimit(d.RateLimiter, middleware.UserOrIP))
		r.Use(middleware.Idempotency(d.Idempotency, d.IdempotencyTTL, d.Logger))

		r.Mount("/purchases", d.Settlement.Routes())
		r.Mount("/", mergeRoutes(d.Ledger.Routes(), d.Funding.Routes()))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Mount("/", mergeRoutes(d.Ledger.AdminRoutes(), d.Funding.AdminRoutes(), d.Settlement.AdminRoutes()))
		})
	})

	return r
}

// mergeRoutes serves several sub-routers from one mount point.
func mergeRoutes(routers ...chi.Router) http.Handler {
	r := chi.NewRouter()
	for _, sub := range routers {
		_ = chi.Walk(sub, func(method, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			r.With(middlewares...).Method(method, route, handler)
			return nil
		})
	}
	return r
}
