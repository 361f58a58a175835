package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/stkpush-checkout/internal/operator"
	"github.com/frahmantamala/stkpush-checkout/internal/transaction"
	"github.com/frahmantamala/stkpush-checkout/internal/transport/middleware"
	"github.com/frahmantamala/stkpush-checkout/internal/transport/swagger"
)

// Routes holds everything the router mounts. Nil handlers are skipped.
type Routes struct {
	Transaction  *transaction.Handler
	Webhook      *transaction.WebhookHandler
	Operator     *operator.Handler
	OperatorAuth middleware.OperatorTokenValidator
	Health       *HealthHandler
	Spec         *swagger.Spec
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) {
	router.MethodNotAllowed(methodNotAllowed)
	router.NotFound(notFound)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(middleware.ContextLogger(logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(chiMiddleware.RealIP)

	// Serve OpenAPI spec at root (outside API prefix)
	if routes.Spec != nil {
		router.Get("/openapi.yml", routes.Spec.ServeHTTP)
		router.Handle("/swagger/*", swagger.Handler())
	}

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.Health)
			r.Get("/ping", routes.Health.Ping)
		}

		if h := routes.Transaction; h != nil {
			r.Post("/initiate-payment", h.InitiatePayment)
			r.Get("/check-status-db/{id}", h.CheckStatusDB)
			// an empty trailing id must reach the handler for its 400
			r.Get("/check-status-db/", h.CheckStatusDB)
			r.Post("/check-status-db", h.CheckStatusDB)
			r.Post("/check-pesaflux-status", h.CheckProviderStatus)
		}

		if routes.Webhook != nil {
			r.Post("/payment/callback", routes.Webhook.HandlePaymentCallback)
		}

		if routes.Operator != nil {
			r.Post("/operator/login", routes.Operator.Login)
		}

		if routes.Transaction != nil && routes.OperatorAuth != nil {
			r.Group(func(pr chi.Router) {
				pr.Use(middleware.RequireOperator(routes.OperatorAuth))
				pr.Post("/manual-success", routes.Transaction.ManualSuccess)
				pr.Get("/debug-transaction", routes.Transaction.DebugTransactions)
			})
		}
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, http.StatusNotFound, "Not found")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
