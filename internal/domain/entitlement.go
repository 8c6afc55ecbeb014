package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entitlement statuses. These are our local vocabulary; the billing service
// maps processor subscription statuses onto them.
const (
	EntitlementActive     = "active"
	EntitlementPastDue    = "past_due"
	EntitlementCanceled   = "canceled"
	EntitlementIncomplete = "incomplete"
)

// Entitlement is the local record of what a user is paying for.
// One row per processor subscription; ProcessorSubscriptionID is unique so
// replayed webhook deliveries update in place instead of inserting twice.
type Entitlement struct {
	ID                      uuid.UUID
	UserID                  uuid.UUID
	PlanID                  string
	PlanName                string
	ProcessorCustomerID     string
	ProcessorSubscriptionID string
	Status                  string
	CurrentPeriodEnd        *time.Time
	CancelAtPeriodEnd       bool
	CanceledAt              *time.Time

	// LastEventAt is the processor-side timestamp of the last webhook event
	// applied to this row. Events not strictly newer are ignored, which makes
	// out-of-order delivery (an update arriving after a delete) harmless.
	LastEventAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the entitlement currently grants access.
func (e *Entitlement) Active() bool {
	return e.Status == EntitlementActive
}

// Plan is a purchasable subscription plan. The catalog lives in config; the
// processor only knows the price id.
type Plan struct {
	ID      string
	Name    string
	PriceID string
}

// EntitlementService reads entitlement state for access gating.
type EntitlementService interface {
	// GetEntitlementForUser returns the user's current entitlement or ENOTFOUND.
	GetEntitlementForUser(ctx context.Context, userID uuid.UUID) (*Entitlement, error)
}

// BillingService is the user-facing billing surface: resolving processor
// customers, starting checkouts, and opening the billing portal.
type BillingService interface {
	// ResolveCustomer returns the user's processor customer id, creating the
	// processor customer on first use. Safe to call concurrently; exactly one
	// id is ever stored per user.
	ResolveCustomer(ctx context.Context, userID uuid.UUID) (string, error)

	// StartCheckout creates a hosted checkout session for the plan and
	// returns the redirect URL. Unknown plan ids return EINVALID.
	StartCheckout(ctx context.Context, userID uuid.UUID, planID string) (string, error)

	// OpenPortal creates a billing portal session and returns its URL.
	// Users without a processor customer get ENOTFOUND.
	OpenPortal(ctx context.Context, userID uuid.UUID) (string, error)
}
