package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// User is an application account row.
type User struct {
	ID                  pgtype.UUID
	Email               string
	Name                string
	PasswordHash        string
	ProcessorCustomerID pgtype.Text
	CreatedAt           pgtype.Timestamptz
	UpdatedAt           pgtype.Timestamptz
}

// Session is a server-side login session row.
type Session struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	Token     string
	ExpiresAt pgtype.Timestamptz
	CreatedAt pgtype.Timestamptz
}

// Entitlement is the local mirror of a processor subscription.
type Entitlement struct {
	ID                      pgtype.UUID
	UserID                  pgtype.UUID
	PlanID                  string
	PlanName                string
	ProcessorCustomerID     string
	ProcessorSubscriptionID string
	Status                  string
	CurrentPeriodEnd        pgtype.Timestamptz
	CancelAtPeriodEnd       bool
	CanceledAt              pgtype.Timestamptz
	LastEventAt             pgtype.Timestamptz
	CreatedAt               pgtype.Timestamptz
	UpdatedAt               pgtype.Timestamptz
}

// WebhookDelivery records a processed webhook event id for dedup.
type WebhookDelivery struct {
	EventID    string
	EventType  string
	ReceivedAt pgtype.Timestamptz
}

// Job is a queued background job row.
type Job struct {
	ID             pgtype.UUID
	JobType        string
	Queue          string
	Payload        []byte
	Status         string
	RetryCount     int32
	MaxRetries     int32
	TimeoutSeconds int32
	RunAt          pgtype.Timestamptz
	ClaimedBy      pgtype.Text
	ClaimedAt      pgtype.Timestamptz
	ErrorMessage   pgtype.Text
	CompletedAt    pgtype.Timestamptz
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}
