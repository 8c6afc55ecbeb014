package middleware

import (
	"context"
	"net/http"
)

// ClientIPContextKey is the context key the resolved client ip is stored
// under.
const ClientIPContextKey contextKey = "client_ip"

// WithClientIP resolves the client address once per request and stores it in
// the context. Resolution uses GetClientIP, which prefers the proxy headers
// (X-Forwarded-For, X-Real-IP) over RemoteAddr; those headers are only
// trustworthy when the app sits behind a proxy that sets them.
//
// Place this early in the chain so request-scoped logging and handlers see
// the address via GetClientIPFromContext.
func WithClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), ClientIPContextKey, GetClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientIPFromContext returns the address stored by WithClientIP, or ""
// if the middleware did not run.
func GetClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPContextKey).(string); ok {
		return ip
	}
	return ""
}
