package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the query surface implemented by Queries. Services depend on
// this interface so tests can substitute in-memory fakes.
type Querier interface {
	CreateUser(ctx context.Context, arg CreateUserParams) (User, error)
	GetUserByID(ctx context.Context, id pgtype.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetUserProcessorCustomerID(ctx context.Context, id pgtype.UUID, customerID string) (int64, error)

	CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error)
	GetUserBySessionToken(ctx context.Context, token string) (User, error)
	DeleteSessionByToken(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	UpsertEntitlement(ctx context.Context, arg UpsertEntitlementParams) (Entitlement, error)
	UpdateEntitlementStatus(ctx context.Context, arg UpdateEntitlementStatusParams) (Entitlement, error)
	GetEntitlementByUserID(ctx context.Context, userID pgtype.UUID) (Entitlement, error)
	GetEntitlementBySubscriptionID(ctx context.Context, subscriptionID string) (Entitlement, error)

	RecordWebhookDelivery(ctx context.Context, eventID, eventType string) (bool, error)
	DeleteWebhookDelivery(ctx context.Context, eventID string) error
	PruneWebhookDeliveries(ctx context.Context, retentionDays int32) (int64, error)

	EnqueueJob(ctx context.Context, arg EnqueueJobParams) (Job, error)
	ClaimNextJob(ctx context.Context, arg ClaimNextJobParams) (Job, error)
	CompleteJob(ctx context.Context, id pgtype.UUID) error
	FailJob(ctx context.Context, arg FailJobParams) (Job, error)
}

var _ Querier = (*Queries)(nil)
