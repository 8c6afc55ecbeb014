package routes

import (
	"net/http"

	"github.com/getconvive/convive/internal/handler/api"
)

// APIDeps contains dependencies for the JSON API routes
type APIDeps struct {
	// Auth (signup, login, logout, current user)
	AuthHandler *api.AuthHandler

	// Billing (checkout, portal, entitlement)
	BillingHandler *api.BillingHandler
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// SystemDeps contains dependencies for operational routes
type SystemDeps struct {
	// HealthHandler answers liveness/readiness probes
	HealthHandler http.HandlerFunc

	// MetricsHandler serves the Prometheus scrape endpoint
	MetricsHandler http.Handler
}
