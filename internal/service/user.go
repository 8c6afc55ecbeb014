package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/getconvive/convive/internal/auth"
	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/repository"
	"github.com/getconvive/convive/internal/telemetry"
)

// SessionDuration is how long a login session stays valid.
const SessionDuration = 30 * 24 * time.Hour

// userService implements domain.UserService.
type userService struct {
	repo   repository.Querier
	logger *slog.Logger
}

// NewUserService creates a UserService backed by the repository.
func NewUserService(repo repository.Querier, logger *slog.Logger) domain.UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &userService{repo: repo, logger: logger}
}

var _ domain.UserService = (*userService)(nil)

func (s *userService) Signup(ctx context.Context, email, name, password string) (*domain.User, error) {
	const op = "auth.signup"

	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, domain.Invalid(op, "password must be at least 8 characters")
		}
		return nil, domain.Internal(err, op, "failed to hash password")
	}

	row, err := s.repo.CreateUser(ctx, repository.CreateUserParams{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.Conflict(op, "email already registered")
		}
		return nil, domain.Internal(err, op, "failed to create user")
	}

	s.logger.Info("user signed up", "user_id", pgUUIDToUUID(row.ID), "email", email)
	if telemetry.Billing != nil {
		telemetry.Billing.Signups.Inc()
	}

	return userFromRow(row), nil
}

func (s *userService) Login(ctx context.Context, email, password string) (*domain.User, *domain.Session, error) {
	const op = "auth.login"

	row, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if telemetry.Billing != nil {
				telemetry.Billing.LoginFailed.WithLabelValues("unknown_email").Inc()
			}
			return nil, nil, domain.Unauthorized(op, "invalid credentials")
		}
		return nil, nil, domain.Internal(err, op, "failed to look up user")
	}

	if err := auth.VerifyPassword(password, row.PasswordHash); err != nil {
		if telemetry.Billing != nil {
			telemetry.Billing.LoginFailed.WithLabelValues("bad_password").Inc()
		}
		return nil, nil, domain.Unauthorized(op, "invalid credentials")
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, nil, domain.Internal(err, op, "failed to generate session token")
	}

	sessionRow, err := s.repo.CreateSession(ctx, repository.CreateSessionParams{
		UserID:    row.ID,
		Token:     token,
		ExpiresAt: pgTimestamptz(time.Now().Add(SessionDuration)),
	})
	if err != nil {
		return nil, nil, domain.Internal(err, op, "failed to create session")
	}

	session := &domain.Session{
		ID:        pgUUIDToUUID(sessionRow.ID),
		UserID:    pgUUIDToUUID(sessionRow.UserID),
		Token:     sessionRow.Token,
		ExpiresAt: sessionRow.ExpiresAt.Time,
		CreatedAt: sessionRow.CreatedAt.Time,
	}

	s.logger.Info("user logged in", "user_id", session.UserID)
	if telemetry.Billing != nil {
		telemetry.Billing.Logins.Inc()
	}
	return userFromRow(row), session, nil
}

func (s *userService) Logout(ctx context.Context, token string) error {
	const op = "auth.logout"

	if err := s.repo.DeleteSessionByToken(ctx, token); err != nil {
		return domain.Internal(err, op, "failed to revoke session")
	}
	return nil
}

func (s *userService) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	const op = "user.get"

	row, err := s.repo.GetUserByID(ctx, uuidToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "user", userID.String())
		}
		return nil, domain.Internal(err, op, "failed to get user")
	}
	return userFromRow(row), nil
}

func (s *userService) GetUserBySessionToken(ctx context.Context, token string) (*domain.User, error) {
	const op = "auth.session"

	row, err := s.repo.GetUserBySessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Unauthorized(op, "invalid or expired session")
		}
		return nil, domain.Internal(err, op, "failed to resolve session")
	}
	return userFromRow(row), nil
}

// newSessionToken returns a 256-bit random token, hex encoded.
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
