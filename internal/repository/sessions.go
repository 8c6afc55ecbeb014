package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createSession = `
INSERT INTO sessions (user_id, token, expires_at)
VALUES ($1, $2, $3)
RETURNING id, user_id, token, expires_at, created_at
`

// CreateSessionParams contains parameters for CreateSession.
type CreateSessionParams struct {
	UserID    pgtype.UUID
	Token     string
	ExpiresAt pgtype.Timestamptz
}

// CreateSession inserts a login session.
func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	row := q.db.QueryRow(ctx, createSession, arg.UserID, arg.Token, arg.ExpiresAt)
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

const getUserBySessionToken = `
SELECT u.id, u.email, u.name, u.password_hash, u.processor_customer_id, u.created_at, u.updated_at
FROM sessions s
JOIN users u ON u.id = s.user_id
WHERE s.token = $1 AND s.expires_at > now()
`

// GetUserBySessionToken resolves an unexpired session token to its user.
func (q *Queries) GetUserBySessionToken(ctx context.Context, token string) (User, error) {
	row := q.db.QueryRow(ctx, getUserBySessionToken, token)
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.ProcessorCustomerID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

const deleteSessionByToken = `
DELETE FROM sessions WHERE token = $1
`

// DeleteSessionByToken revokes a session.
func (q *Queries) DeleteSessionByToken(ctx context.Context, token string) error {
	_, err := q.db.Exec(ctx, deleteSessionByToken, token)
	return err
}

const deleteExpiredSessions = `
DELETE FROM sessions WHERE expires_at <= now()
`

// DeleteExpiredSessions removes expired sessions. Run periodically by the worker.
func (q *Queries) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteExpiredSessions)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
