package routes

import (
	"github.com/getconvive/convive/internal/router"
)

// RegisterSystemRoutes registers operational endpoints.
// These are unauthenticated; keep them off the public load balancer
// or restrict them at the proxy.
func RegisterSystemRoutes(r *router.Router, deps SystemDeps) {
	r.Get("/health", deps.HealthHandler)
	r.Handle("GET", "/metrics", deps.MetricsHandler)
}
