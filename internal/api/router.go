package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pulsekit/fitvault/internal/config"
	"github.com/pulsekit/fitvault/internal/vault"
)

// NewRouter creates a new HTTP router
func NewRouter(cfg *config.Config, flow *vault.Flow, coordinator *vault.Coordinator) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeadersMiddleware(cfg))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/oauth", func(r chi.Router) {
		// Provider callback carries its own signed state; the browser has
		// no service token here.
		r.Get("/{provider}/callback", HandleOAuthCallback(flow, cfg))

		// Everything else is scoped to a tenant by the service JWT.
		r.Group(func(r chi.Router) {
			r.Use(TenantAuthMiddleware(cfg.ServiceJWTSecret))

			r.Get("/{provider}/authorize", HandleOAuthAuthorize(flow))
			r.Get("/providers", HandleProviderStatus(coordinator))
			r.Post("/providers/{provider}/disconnect", HandleDisconnect(coordinator))
			r.Post("/token/{provider}", HandleGetToken(coordinator))
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
