package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/emberchat/ember/internal/api/middleware"
	"github.com/emberchat/ember/internal/handlers"
	"github.com/emberchat/ember/internal/ratelimit"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, blocker *ratelimit.Blocker, whitelist *ratelimit.Whitelist) *chi.Mux {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Blocked IPs are rejected before any handler, WebSocket included
	r.Use(middleware.BlockedIP(blocker, whitelist, logger))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Live subscription endpoint. Kept outside the JSON middleware group:
	// the upgrade needs the raw connection.
	r.Get("/ws", h.Subscribe)

	// JSON API
	r.Group(func(r chi.Router) {
		r.Use(middleware.Metrics)
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.MaxBodySize(4 * 1024))
		r.Use(middleware.RequireJSON)

		// CORS - rooms are joined from anywhere
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Get("/", h.Root)
		r.Get("/health", h.Health)

		r.Post("/rooms", h.CreateRoom)
		r.Get("/rooms/{roomID}", h.GetRoom)
		r.Get("/rooms/{roomID}/messages", h.GetHistory)
		r.Post("/rooms/{roomID}/messages", h.PostMessage)
	})

	return r
}
