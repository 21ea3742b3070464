/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/payments/*       Payment recording, refunds, receipts, export
  /api/refunds          Refund with paymentId in the body
  /api/verify           Public receipt verification
  /api/analytics        Dashboard summary
  /api/enrollments/*    Enrollment balances
  /api/students/*       Student registry (seeding)
  /api/audit/*          Balance audit runs
  /api/scenarios/*      Demo scenarios (only when enabled)
  /metrics              Prometheus
  /healthz              Liveness and database ping

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

// NewRouter creates a new router with all routes configured. An empty
// corsOrigins allows the local frontend dev servers.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotencyHeader},
		ExposedHeaders:   []string{"Content-Disposition", totalCountHeader, truncatedHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Get("/export", h.ExportPayments)
			r.Get("/{id}", h.GetPayment)
			r.Patch("/{id}", h.UpdatePayment)
			r.Post("/{id}/settle", h.SettlePayment)
			r.Post("/{id}/refund", h.RefundPayment)
			r.Get("/{id}/audit", h.GetPaymentAudit)
			r.Get("/{id}/receipt", h.GetReceipt)
			r.Get("/{id}/receipt/qr", h.GetReceiptQR)
		})

		r.Post("/refunds", h.CreateRefund)
		r.Get("/verify", h.VerifyReceipt)
		r.Get("/analytics", h.GetAnalytics)

		// Enrollment routes
		r.Route("/enrollments", func(r chi.Router) {
			r.Post("/", h.CreateEnrollment)
			r.Get("/{id}", h.GetEnrollment)
		})

		// Student routes
		r.Route("/students", func(r chi.Router) {
			r.Get("/", h.ListStudents)
			r.Post("/", h.CreateStudent)
			r.Get("/{id}/enrollments", h.ListStudentEnrollments)
		})

		// Balance audit routes
		r.Route("/audit", func(r chi.Router) {
			r.Get("/runs", h.ListAuditRuns)
			r.Post("/run", h.RunAudit)
		})

		// Scenario routes
		if h.ScenariosEnabled {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}
