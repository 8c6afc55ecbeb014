package middleware

import (
	"context"
	"net/http"

	"github.com/getconvive/convive/internal/domain"
)

type contextKey string

const (
	// UserContextKey is the context key for storing the authenticated user
	UserContextKey contextKey = "user"

	// SessionCookieName is the cookie holding the opaque session token
	SessionCookieName = "convive_session"
)

// WithUser extracts the user from the session cookie and adds it to the request context.
// This middleware is optional - it adds the user if present but doesn't require authentication.
func WithUser(userService domain.UserService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				// No session cookie, continue without user
				next.ServeHTTP(w, r)
				return
			}

			user, err := userService.GetUserBySessionToken(r.Context(), cookie.Value)
			if err != nil {
				// Invalid or expired session, continue without user
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth ensures the user is authenticated, returning 401 if not.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUserFromContext(r.Context())
		if user == nil {
			respondUnauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetUserFromContext retrieves the user from the request context.
// Returns nil if no user is authenticated.
func GetUserFromContext(ctx context.Context) *domain.User {
	user, ok := ctx.Value(UserContextKey).(*domain.User)
	if !ok {
		return nil
	}
	return user
}
