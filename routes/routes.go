package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/portal-gateway/app"
	"github.com/upb/portal-gateway/handlers"
	"github.com/upb/portal-gateway/internal/observability"
	"github.com/upb/portal-gateway/middleware"
)

// BackendPrefix is the path under which authorized requests are forwarded
const BackendPrefix = "/api/v1/backend"

const defaultRequestTimeout = 60 * time.Second

var defaultAllowedOrigins = []string{"http://localhost:*"}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	cfg := deps.Config

	requestTimeout := cfg.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	allowedOrigins := cfg.Server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultAllowedOrigins
	}

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	// CORS middleware; credentials are allowed so the session cookie is sent
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{"Link", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	var keys handlers.KeyStats
	if deps.Keys != nil {
		keys = deps.Keys
	}
	health := handlers.NewHealthHandler(keys, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if cfg.Observability.MetricsEnabled && deps.Registry != nil {
		r.Handle("/metrics", observability.Handler(deps.Registry))
	}

	// Session cookie endpoints
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", handlers.AuthLoginHandler(deps))
		r.Post("/logout", handlers.AuthLogoutHandler(deps))
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.With(deps.AuthMiddleware.RequireAuth).Get("/session", handlers.SessionHandler())

		if deps.Forwarder != nil {
			r.Route("/backend", func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequirePermissions(cfg.Backend.RequiredPermissions...))
				r.Handle("/*", http.StripPrefix(BackendPrefix, deps.Forwarder))
			})
		}
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
