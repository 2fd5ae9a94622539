/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the finance UI

ROUTE GROUPS:
  /api/quotes                Price determination
  /api/policies/*            Pricing policy administration
  /api/reconcile/*           Payment reconciliation
  /api/match-results/*       Reconciliation outcomes
  /api/adjustments/*         Variance adjustment review queue
  /api/reconciliation/runs   Batch audit records

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Price determination
		r.Post("/quotes", h.GetQuote)

		// Policy administration
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.SavePolicy)
		})

		// Reconciliation
		r.Route("/reconcile", func(r chi.Router) {
			r.Post("/batch", h.ReconcileBatch)
			r.Post("/{paymentID}", h.ReconcilePayment)
		})
		r.Get("/match-results/{paymentID}", h.GetMatchResult)
		r.Get("/reconciliation/runs", h.ListRuns)

		// Adjustment review
		r.Route("/adjustments", func(r chi.Router) {
			r.Get("/pending", h.ListPendingAdjustments)
			r.Post("/{id}/approve", h.ApproveAdjustment)
		})
		r.Get("/payments/{paymentID}/adjustments", h.ListPaymentAdjustments)

		// Health
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}
