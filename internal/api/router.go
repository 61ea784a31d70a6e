package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fuomag9/creator-connect/internal/config"
	"github.com/fuomag9/creator-connect/internal/connect"
)

// Dependencies are the collaborators the HTTP surface is built from
type Dependencies struct {
	Config   *config.Config
	Connect  *connect.Service
	Limiter  *RateLimiter
	Gatherer prometheus.Gatherer
	Health   []HealthCheck
	Logger   *zap.Logger
}

// NewRouter creates a new HTTP router
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	log := deps.Logger.Named("http")
	auth := NewSessionAuthenticator(cfg.Session)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		// OAuth routes
		r.Route("/auth/{provider}", func(r chi.Router) {
			r.With(StrictRateLimitMiddleware(deps.Limiter), RequireSession(auth)).
				Get("/initiate", HandleOAuthInitiate(deps.Connect, cfg, log))
			// the callback must always end in a settings redirect
			r.With(CallbackRateLimitMiddleware(deps.Limiter, cfg), LoadSession(auth)).
				Get("/callback", HandleOAuthCallback(deps.Connect, cfg))
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(RequireSession(auth))

			r.Get("/connections", HandleGetConnections(deps.Connect, log))
			r.Delete("/connections/{platform}", HandleDeleteConnection(deps.Connect, log))
		})
	})

	// Prometheus metrics endpoint (no auth required)
	r.Method(http.MethodGet, "/metrics", HandlePrometheusMetrics(deps.Gatherer))

	// Health check
	r.Get("/health", HandleHealth(log, deps.Health...))

	return r
}
