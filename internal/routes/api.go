package routes

import (
	"github.com/getconvive/convive/internal/middleware"
	"github.com/getconvive/convive/internal/router"
)

// RegisterAPIRoutes registers the JSON API.
// Billing routes and /api/auth/me require an authenticated session;
// signup and login do not, but carry the stricter credential rate limit.
func RegisterAPIRoutes(r *router.Router, deps APIDeps, authLimit router.Middleware) {
	// Auth
	r.Post("/api/auth/signup", deps.AuthHandler.Signup, authLimit)
	r.Post("/api/auth/login", deps.AuthHandler.Login, authLimit)
	r.Post("/api/auth/logout", deps.AuthHandler.Logout)
	r.Get("/api/auth/me", deps.AuthHandler.Me, middleware.RequireAuth)

	// Billing
	r.Post("/api/billing/checkout", deps.BillingHandler.StartCheckout, middleware.RequireAuth)
	r.Post("/api/billing/portal", deps.BillingHandler.OpenPortal, middleware.RequireAuth)
	r.Get("/api/billing/entitlement", deps.BillingHandler.GetEntitlement, middleware.RequireAuth)
}
