package api

import (
	"net/http"

	"github.com/ethpandaops/authoor/pkg/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)

		// Auth endpoints.
		r.Route("/auth", func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)

			if s.cfg.Auth.RegistrationEnabled {
				r.Post("/register", s.handleRegister)
			}

			r.Group(func(r chi.Router) {
				r.Use(s.requireSession)
				r.Get("/me", s.handleMe)

				// API key management requires the dev or admin role.
				r.Group(func(r chi.Router) {
					r.Use(s.requireRoles(auth.AnyOf("dev", "admin")))

					r.Post("/api-keys", s.handleCreateAPIKey)
					r.Get("/api-keys", s.handleListMyAPIKeys)
					r.Delete("/api-keys/{id}", s.handleDeleteMyAPIKey)
				})
			})
		})

		// Credential exchange: username/password in, API key pair out.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Auth,
				))
			}

			r.Post("/credentials", s.handleCreateCredentials)
		})

		// Profile endpoints (session-gated).
		r.Route("/profile", func(r chi.Router) {
			r.Use(s.requireSession)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Get("/", s.handleGetProfile)
			r.Put("/", s.handleUpdateProfile)
		})

		// Admin endpoints (session + admin role).
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireSession)
			r.Use(s.requireRoles(auth.Role("admin")))

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			// User management.
			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleCreateUser)
			r.Put("/users/{id}", s.handleUpdateUser)
			r.Delete("/users/{id}", s.handleDeleteUser)

			// Role management. Deletion is intentionally absent.
			r.Get("/roles", s.handleListRoles)
			r.Post("/roles", s.handleCreateRole)

			// Session management.
			r.Get("/sessions", s.handleListSessions)
			r.Delete("/sessions/{id}", s.handleDeleteSessionByID)

			// API key management (admin).
			r.Get("/api-keys", s.handleListAllAPIKeys)
			r.Delete("/api-keys/{id}", s.handleDeleteAPIKey)
		})

		// API-key-gated endpoints. Denied is always 403 here, matching
		// the header-credential contract.
		r.Route("/data", func(r chi.Router) {
			r.Use(s.requireAPIKey)

			r.Get("/whoami", s.handleAPIWhoami)

			r.Group(func(r chi.Router) {
				r.Use(s.requireRoles(auth.Role("admin")))

				r.Get("/users", s.handleListUsers)
			})
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server
// config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "API_ID", "API_KEY"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
