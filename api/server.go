/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/accounts/*         Account endpoints (JWT auth)
  /api/cost               Public cost query
  /api/webhooks/billing   Payment provider events (HMAC)
  /api/admin/*            Scheduler trigger + audit (shared bearer secret)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: JWT middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, verifier *Verifier, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Account routes (authenticated)
		r.Route("/accounts", func(r chi.Router) {
			r.Use(RequireAuth(verifier))
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/ledger", h.GetHistory)
			r.Post("/{id}/spend", h.Spend)
			r.Post("/{id}/cancel", h.Cancel)
		})

		// Public cost query
		r.Get("/cost", h.GetCost)

		// Billing webhook (HMAC-signed, outside JWT auth)
		r.Post("/webhooks/billing", h.BillingWebhook)

		// Admin routes (shared bearer secret)
		r.Route("/admin", func(r chi.Router) {
			r.Post("/refresh", h.TriggerRefresh)
			r.Get("/audit/{id}", h.Audit)
		})
	})

	return r
}
