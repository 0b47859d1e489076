package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Middleware is a standard net/http middleware. The subscribe and code
// endpoints are unauthenticated and internet-facing, so the host wires its
// rate limiter in through here; pass nil to mount the routes bare.
type Middleware func(http.Handler) http.Handler

// NewRouter configures the full route tree. Confirmation and opt-out links
// arrive as GETs from email clients, so those endpoints accept both verbs.
func NewRouter(h *Handlers, limit Middleware) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://localhost:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/newsletter", func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}

		r.Post("/subscribe", h.Subscribe)
		r.Get("/confirm", h.Confirm)
		r.Post("/confirm", h.Confirm)
		r.Get("/do-not-email", h.DoNotEmail)
		r.Post("/do-not-email", h.DoNotEmail)
		r.Get("/stats", h.Stats)
		r.Post("/broadcast", h.Broadcast)
	})

	return r
}
