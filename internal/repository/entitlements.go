package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertEntitlement = `
INSERT INTO entitlements (
	user_id, plan_id, plan_name, processor_customer_id, processor_subscription_id,
	status, current_period_end, cancel_at_period_end, canceled_at, last_event_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (processor_subscription_id) DO UPDATE SET
	status = EXCLUDED.status,
	current_period_end = EXCLUDED.current_period_end,
	cancel_at_period_end = EXCLUDED.cancel_at_period_end,
	canceled_at = EXCLUDED.canceled_at,
	last_event_at = EXCLUDED.last_event_at,
	updated_at = now()
WHERE entitlements.last_event_at < EXCLUDED.last_event_at
RETURNING id, user_id, plan_id, plan_name, processor_customer_id, processor_subscription_id,
	status, current_period_end, cancel_at_period_end, canceled_at, last_event_at, created_at, updated_at
`

// UpsertEntitlementParams contains parameters for UpsertEntitlement.
type UpsertEntitlementParams struct {
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
}

// UpsertEntitlement inserts or updates the entitlement keyed by processor
// subscription id. The update only applies when the incoming event is
// strictly newer than the last applied one; a stale event matches no rows
// and surfaces as pgx.ErrNoRows.
func (q *Queries) UpsertEntitlement(ctx context.Context, arg UpsertEntitlementParams) (Entitlement, error) {
	row := q.db.QueryRow(ctx, upsertEntitlement,
		arg.UserID,
		arg.PlanID,
		arg.PlanName,
		arg.ProcessorCustomerID,
		arg.ProcessorSubscriptionID,
		arg.Status,
		arg.CurrentPeriodEnd,
		arg.CancelAtPeriodEnd,
		arg.CanceledAt,
		arg.LastEventAt,
	)
	return scanEntitlement(row)
}

const updateEntitlementStatus = `
UPDATE entitlements
SET status = $2,
	current_period_end = COALESCE($3, current_period_end),
	canceled_at = COALESCE($4, canceled_at),
	last_event_at = $5,
	updated_at = now()
WHERE processor_subscription_id = $1 AND last_event_at < $5
RETURNING id, user_id, plan_id, plan_name, processor_customer_id, processor_subscription_id,
	status, current_period_end, cancel_at_period_end, canceled_at, last_event_at, created_at, updated_at
`

// UpdateEntitlementStatusParams contains parameters for UpdateEntitlementStatus.
type UpdateEntitlementStatusParams struct {
	ProcessorSubscriptionID string
	Status                  string
	CurrentPeriodEnd        pgtype.Timestamptz
	CanceledAt              pgtype.Timestamptz
	LastEventAt             pgtype.Timestamptz
}

// UpdateEntitlementStatus applies a status transition from an invoice or
// deletion event, guarded by the same staleness check as UpsertEntitlement.
// Stale or unknown subscriptions surface as pgx.ErrNoRows.
func (q *Queries) UpdateEntitlementStatus(ctx context.Context, arg UpdateEntitlementStatusParams) (Entitlement, error) {
	row := q.db.QueryRow(ctx, updateEntitlementStatus,
		arg.ProcessorSubscriptionID,
		arg.Status,
		arg.CurrentPeriodEnd,
		arg.CanceledAt,
		arg.LastEventAt,
	)
	return scanEntitlement(row)
}

const getEntitlementByUserID = `
SELECT id, user_id, plan_id, plan_name, processor_customer_id, processor_subscription_id,
	status, current_period_end, cancel_at_period_end, canceled_at, last_event_at, created_at, updated_at
FROM entitlements
WHERE user_id = $1
ORDER BY updated_at DESC
LIMIT 1
`

// GetEntitlementByUserID returns the user's most recently updated entitlement.
func (q *Queries) GetEntitlementByUserID(ctx context.Context, userID pgtype.UUID) (Entitlement, error) {
	row := q.db.QueryRow(ctx, getEntitlementByUserID, userID)
	return scanEntitlement(row)
}

const getEntitlementBySubscriptionID = `
SELECT id, user_id, plan_id, plan_name, processor_customer_id, processor_subscription_id,
	status, current_period_end, cancel_at_period_end, canceled_at, last_event_at, created_at, updated_at
FROM entitlements
WHERE processor_subscription_id = $1
`

// GetEntitlementBySubscriptionID fetches the entitlement for a processor subscription.
func (q *Queries) GetEntitlementBySubscriptionID(ctx context.Context, subscriptionID string) (Entitlement, error) {
	row := q.db.QueryRow(ctx, getEntitlementBySubscriptionID, subscriptionID)
	return scanEntitlement(row)
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEntitlement(row scannable) (Entitlement, error) {
	var e Entitlement
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.PlanID,
		&e.PlanName,
		&e.ProcessorCustomerID,
		&e.ProcessorSubscriptionID,
		&e.Status,
		&e.CurrentPeriodEnd,
		&e.CancelAtPeriodEnd,
		&e.CanceledAt,
		&e.LastEventAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	return e, err
}
