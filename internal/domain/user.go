package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is an application account. ProcessorCustomerID links the user to the
// payment processor; it is empty until the user first touches billing.
type User struct {
	ID                  uuid.UUID
	Email               string
	Name                string
	PasswordHash        string
	ProcessorCustomerID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Session is a server-side login session referenced by an opaque token.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// UserService manages accounts and login sessions.
type UserService interface {
	// Signup creates a new account with a bcrypt-hashed password.
	// Returns ECONFLICT if the email is already registered.
	Signup(ctx context.Context, email, name, password string) (*User, error)

	// Login verifies credentials and issues a session.
	// Returns EUNAUTHORIZED on bad credentials.
	Login(ctx context.Context, email, password string) (*User, *Session, error)

	// Logout revokes the session for the given token.
	Logout(ctx context.Context, token string) error

	// GetUserByID returns the user or ENOTFOUND.
	GetUserByID(ctx context.Context, userID uuid.UUID) (*User, error)

	// GetUserBySessionToken resolves a session token to its user.
	// Expired or unknown tokens return EUNAUTHORIZED.
	GetUserBySessionToken(ctx context.Context, token string) (*User, error)
}
