package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createUser = `
INSERT INTO users (email, name, password_hash)
VALUES ($1, $2, $3)
RETURNING id, email, name, password_hash, processor_customer_id, created_at, updated_at
`

// CreateUserParams contains parameters for CreateUser.
type CreateUserParams struct {
	Email        string
	Name         string
	PasswordHash string
}

// CreateUser inserts a new account. Duplicate emails violate the unique
// constraint and surface as a pgconn error with code 23505.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser, arg.Email, arg.Name, arg.PasswordHash)
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

const getUserByID = `
SELECT id, email, name, password_hash, processor_customer_id, created_at, updated_at
FROM users
WHERE id = $1
`

// GetUserByID fetches a user by primary key.
func (q *Queries) GetUserByID(ctx context.Context, id pgtype.UUID) (User, error) {
	row := q.db.QueryRow(ctx, getUserByID, id)
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

const getUserByEmail = `
SELECT id, email, name, password_hash, processor_customer_id, created_at, updated_at
FROM users
WHERE email = $1
`

// GetUserByEmail fetches a user by email.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRow(ctx, getUserByEmail, email)
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

const setUserProcessorCustomerID = `
UPDATE users
SET processor_customer_id = $2, updated_at = now()
WHERE id = $1 AND processor_customer_id IS NULL
`

// SetUserProcessorCustomerID stores the processor customer id only if none is
// set yet (compare-and-swap). Returns the number of rows updated: 0 means a
// concurrent caller won the race and the stored id should be re-read.
func (q *Queries) SetUserProcessorCustomerID(ctx context.Context, id pgtype.UUID, customerID string) (int64, error) {
	tag, err := q.db.Exec(ctx, setUserProcessorCustomerID, id, customerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
