/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for operator tooling

ROUTE GROUPS:
  /api/bookings/*      Bookings, modification workflow, settlements
  /api/transactions/*  Transaction status transitions
  /api/rates           Rate table management
  /api/demo            Demonstration dataset

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", h.ListBookings)
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/status", h.UpdateBookingStatus)

			// Modification workflow
			r.Get("/{id}/modification-policy", h.GetModificationPolicy)
			r.Post("/{id}/modification/preview", h.PreviewModification)
			r.Post("/{id}/modification/execute", h.ExecuteModification)

			// Settlement
			r.Get("/{id}/settlement", h.GetSettlement)
			r.Post("/{id}/settlement/close", h.CloseSettlement)
			r.Post("/{id}/settlement/reopen", h.ReopenSettlement)
			r.Post("/{id}/settlement/payments", h.RecordPayment)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Post("/{id}/status", h.UpdateTransactionStatus)
		})

		r.Route("/rates", func(r chi.Router) {
			r.Post("/", h.CreateRate)
		})

		r.Route("/demo", func(r chi.Router) {
			r.Post("/seed", h.SeedDemo)
		})
	})

	return r
}
