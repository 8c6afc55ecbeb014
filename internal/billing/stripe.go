package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	portalsession "github.com/stripe/stripe-go/v83/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v83/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v83/customer"
	stripesubscription "github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeProvider implements Provider using the Stripe API.
type StripeProvider struct {
	config *StripeConfig
	logger *slog.Logger
}

// NewStripeProvider creates a Stripe billing provider.
// Sets the package-level API key used by the stripe-go clients.
func NewStripeProvider(config *StripeConfig, logger *slog.Logger) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	stripe.Key = config.APIKey

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(int64(maxRetries)),
		HTTPClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}))

	if config.IsTestMode() {
		logger.Info("stripe provider initialized in test mode")
	}

	return &StripeProvider{
		config: config,
		logger: logger,
	}, nil
}

// CreateCustomer creates a customer at Stripe.
func (p *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	custParams := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
	}
	if params.Name != "" {
		custParams.Name = stripe.String(params.Name)
	}
	for k, v := range params.Metadata {
		custParams.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		custParams.IdempotencyKey = stripe.String(params.IdempotencyKey)
	}
	custParams.Context = ctx

	cust, err := stripecustomer.New(custParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	p.logger.Info("stripe customer created",
		"customer_id", cust.ID,
		"email", params.Email,
	)

	return &Customer{
		ID:        cust.ID,
		Email:     cust.Email,
		Name:      cust.Name,
		Metadata:  cust.Metadata,
		CreatedAt: time.Unix(cust.Created, 0),
	}, nil
}

// GetCustomer retrieves a customer from Stripe.
func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	getParams := &stripe.CustomerParams{}
	getParams.Context = ctx

	cust, err := stripecustomer.Get(customerID, getParams)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, wrapStripeErr(err)
	}

	return &Customer{
		ID:        cust.ID,
		Email:     cust.Email,
		Name:      cust.Name,
		Metadata:  cust.Metadata,
		CreatedAt: time.Unix(cust.Created, 0),
	}, nil
}

// CreateCheckoutSession creates a subscription-mode hosted checkout session.
// Metadata goes on both the session and the subscription so every later
// subscription webhook carries the user correlation.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(params.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(params.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		},
	}
	for k, v := range params.Metadata {
		sessionParams.AddMetadata(k, v)
	}
	sessionParams.Context = ctx

	session, err := checkoutsession.New(sessionParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	p.logger.Info("stripe checkout session created",
		"session_id", session.ID,
		"customer_id", params.CustomerID,
	)

	return mapCheckoutSession(session), nil
}

// GetSubscription retrieves a subscription from Stripe.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx

	sub, err := stripesubscription.Get(subscriptionID, getParams)
	if err != nil {
		if isStripeMissing(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, wrapStripeErr(err)
	}

	return mapSubscription(sub), nil
}

// CreatePortalSession creates a Stripe billing portal session.
func (p *StripeProvider) CreatePortalSession(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error) {
	portalParams := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(params.CustomerID),
		ReturnURL: stripe.String(params.ReturnURL),
	}
	portalParams.Context = ctx

	session, err := portalsession.New(portalParams)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	p.logger.Info("stripe portal session created",
		"session_id", session.ID,
		"customer_id", params.CustomerID,
	)

	return &PortalSession{
		ID:        session.ID,
		URL:       session.URL,
		CreatedAt: time.Unix(session.Created, 0),
	}, nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signature string, secret string) error {
	if _, err := webhook.ConstructEvent(payload, signature, secret); err != nil {
		return ErrInvalidWebhookSignature
	}
	return nil
}

// mapCheckoutSession converts a Stripe checkout session to our type.
func mapCheckoutSession(session *stripe.CheckoutSession) *CheckoutSession {
	cs := &CheckoutSession{
		ID:        session.ID,
		URL:       session.URL,
		Metadata:  session.Metadata,
		CreatedAt: time.Unix(session.Created, 0),
	}
	if session.Customer != nil {
		cs.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		cs.SubscriptionID = session.Subscription.ID
	}
	return cs
}

// mapSubscription converts a Stripe subscription to our type.
// Period end lives on the subscription items since the 2025 API versions.
func mapSubscription(sub *stripe.Subscription) *Subscription {
	s := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
		CreatedAt:         time.Unix(sub.Created, 0),
	}
	if sub.Customer != nil {
		s.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		s.CurrentPeriodEnd = time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0)
	}
	if sub.CanceledAt != 0 {
		canceledAt := time.Unix(sub.CanceledAt, 0)
		s.CanceledAt = &canceledAt
	}
	return s
}

// wrapStripeErr converts a raw SDK error into a StripeError.
func wrapStripeErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &StripeError{
			Message:       stripeErr.Msg,
			Code:          string(stripeErr.Code),
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}
	return err
}

// isStripeMissing reports whether err is a resource_missing API error.
func isStripeMissing(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}
