package api

import (
	"log/slog"
	"net/http"

	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/handler"
	"github.com/getconvive/convive/internal/middleware"
)

// AuthHandler serves signup, login, logout, and the current-user endpoint.
type AuthHandler struct {
	users  domain.UserService
	config AuthConfig
	logger *slog.Logger
}

// AuthConfig contains configuration for the auth endpoints.
type AuthConfig struct {
	// SecureCookies marks session cookies Secure. On everywhere except
	// local development over plain HTTP.
	SecureCookies bool
}

// NewAuthHandler creates a new auth API handler.
func NewAuthHandler(users domain.UserService, config AuthConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		users:  users,
		config: config,
		logger: logger,
	}
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=200"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserResponse(u *domain.User) userResponse {
	return userResponse{
		ID:    u.ID.String(),
		Email: u.Email,
		Name:  u.Name,
	}
}

// Signup handles POST /api/auth/signup.
// Returns 201 with the new user; duplicate emails get 409.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	const op = "auth.signup"

	var req signupRequest
	if err := decodeRequest(r, op, &req); err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	user, err := h.users.Signup(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Login handles POST /api/auth/login.
// Sets the session cookie and returns the user.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	const op = "auth.login"

	var req loginRequest
	if err := decodeRequest(r, op, &req); err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	user, session, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout handles POST /api/auth/logout.
// Revokes the session and clears the cookie. Always returns 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.users.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("failed to revoke session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/auth/me.
// Returns the authenticated user or 401.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}
