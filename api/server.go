/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests, origins from config

ROUTE GROUPS:
  /api/users/*          Users, balances, leave requests, grants
  /api/reservations/*   Approve / cancel
  /api/usage/*          Reverse usage
  /api/scenarios/*      Demo scenarios

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

	"github.com/warp/leave-ledger/config"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, c config.CORSConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   c.AllowOrigins,
		AllowedMethods:   c.AllowMethods,
		AllowedHeaders:   c.AllowHeaders,
		AllowCredentials: c.AllowCredentials,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Envelope{Success: true, Data: map[string]string{"status": "ok"}})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/status", h.GetStatus)
			r.Post("/{id}/validate", h.ValidateLeave)
			r.Post("/{id}/leave", h.RequestLeave)
			r.Get("/{id}/reservations", h.ListReservations)
			r.Get("/{id}/usage", h.ListUsage)
			r.Get("/{id}/stats", h.GetStats)
			r.Post("/{id}/grants", h.IssueGrant)
			r.Put("/{id}/grants/{year}", h.SetGrantUsed)
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", h.ListAllReservations)
			r.Post("/{id}/approve", h.ApproveReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
		})

		r.Route("/usage", func(r chi.Router) {
			r.Delete("/{id}", h.ReverseUsage)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
