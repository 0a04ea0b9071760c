/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the app
  5. RateLimit:  Per-account token bucket on /api (optional)

ROUTE GROUPS:
  /api/accounts/*       Accounts, ledger, journal, weeks, notifications
  /api/content/*        Generation, reads, visibility, deletion
  /api/admin/*          Point policies
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus

SECURITY NOTE:
  No authentication middleware. Identity is the X-Account-ID header set by
  the gateway in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/storyledger: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterOptions struct {
	CORSOrigins []string
	RateLimiter *RateLimiter // nil disables
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdentityHeader},
		AllowCredentials: true,
	}))

	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.RateLimiter.Handler)

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/purchases", h.GetPurchases)
			r.Get("/{id}/notifications", h.ListNotifications)
			r.Post("/{id}/notifications/{nid}/read", h.MarkNotificationRead)
			r.Post("/{id}/links", h.CreateLink)
			r.Put("/{id}/journal/{date}", h.RecordJournal)
			r.Delete("/{id}/journal/{date}", h.DeleteJournal)
			r.Get("/{id}/weeks/{date}", h.GetWeek)
		})

		// Content routes
		r.Route("/content", func(r chi.Router) {
			r.Post("/", h.GenerateContent)
			r.Get("/", h.ListContent)
			r.Post("/{id}/read", h.ReadContent)
			r.Put("/{id}/visibility", h.SetVisibility)
			r.Delete("/{id}", h.DeleteContent)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Put("/policies/{key}", h.SetPolicy)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
