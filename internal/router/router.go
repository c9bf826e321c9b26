package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	appMiddleware "github.com/FACorreiaa/person-registry/app/middleware"
	"github.com/FACorreiaa/person-registry/internal/api/auth"
	"github.com/FACorreiaa/person-registry/internal/api/dashboard"
	"github.com/FACorreiaa/person-registry/internal/api/persons"
	"github.com/FACorreiaa/person-registry/internal/session"
)

// Config contains dependencies needed for the router setup
type Config struct {
	AuthHandler      *auth.HandlerImpl
	PersonsHandler   *persons.HandlerImpl
	DashboardHandler *dashboard.HandlerImpl
	Sessions         *session.Manager
	MetricsHandler   http.Handler
	AllowedOrigins   []string
	Logger           *slog.Logger
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (request id, logger, recoverer) is applied in main.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(appMiddleware.NoStore)
		r.Use(cfg.Sessions.Middleware)

		// Public
		r.Route("/auth", func(r chi.Router) {
			cfg.AuthHandler.PublicRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(session.RequireAuth(false, cfg.Logger))
				r.Post("/logout", cfg.AuthHandler.Logout)
			})
		})

		// Any authenticated user
		r.Group(func(r chi.Router) {
			r.Use(session.RequireAuth(false, cfg.Logger))
			r.Route("/persons", cfg.PersonsHandler.Routes)
			r.Route("/dashboard", cfg.DashboardHandler.Routes)
		})

		// Admins only
		r.Group(func(r chi.Router) {
			r.Use(session.RequireAuth(true, cfg.Logger))
			r.Route("/admin/persons", cfg.PersonsHandler.AdminRoutes)
		})
	})

	return r
}
