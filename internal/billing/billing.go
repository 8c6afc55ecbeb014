package billing

import (
	"context"
	"time"
)

// Provider defines the interface for the payment processor.
// Implementations can use Stripe, Paddle, etc.
type Provider interface {
	// CreateCustomer creates a customer record at the processor.
	// Called lazily the first time a user touches billing.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomer retrieves an existing customer.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// CreateCheckoutSession creates a hosted checkout session in subscription
	// mode. Metadata is attached to both the session and the subscription it
	// creates so webhook events carry the user correlation.
	CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// GetSubscription retrieves a subscription by processor id.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CreatePortalSession creates a billing portal session where the customer
	// manages payment methods and cancellation.
	CreatePortalSession(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error)

	// VerifyWebhookSignature verifies that a webhook request is authentic.
	// Returns ErrInvalidWebhookSignature on failure.
	VerifyWebhookSignature(payload []byte, signature string, secret string) error
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email string
	Name  string

	// Metadata should always include user_id for reverse lookup.
	Metadata map[string]string

	// IdempotencyKey prevents duplicate customers on retried calls.
	IdempotencyKey string
}

// Customer represents a processor customer.
type Customer struct {
	ID        string
	Email     string
	Name      string
	Metadata  map[string]string
	CreatedAt time.Time
}

// CreateCheckoutSessionParams contains parameters for a hosted checkout.
type CreateCheckoutSessionParams struct {
	// CustomerID is the processor customer (cus_...). Required so the
	// resulting subscription lands on the resolved customer.
	CustomerID string

	// PriceID is the processor price for the plan (price_...).
	PriceID string

	// SuccessURL is where the processor redirects after payment.
	// "?session_id={CHECKOUT_SESSION_ID}" is appended by the provider.
	SuccessURL string

	// CancelURL is where the processor redirects on abandonment.
	CancelURL string

	// Metadata must include user_id, plan_id and plan_name; it is copied to
	// the subscription as well.
	Metadata map[string]string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	ID             string
	URL            string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// CreatePortalSessionParams contains parameters for a billing portal session.
type CreatePortalSessionParams struct {
	CustomerID string
	ReturnURL  string
}

// PortalSession represents a billing portal session.
type PortalSession struct {
	ID        string
	URL       string
	CreatedAt time.Time
}

// Subscription represents a processor subscription, reduced to the fields the
// entitlement sync needs.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string // processor vocabulary: "active", "past_due", "canceled", ...
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	Metadata          map[string]string
	CreatedAt         time.Time
}
