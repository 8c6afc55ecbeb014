package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/getconvive/convive/internal/billing"
	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/repository"
	"github.com/getconvive/convive/internal/telemetry"
)

// BillingConfig holds the URLs and plan catalog the billing flows need.
type BillingConfig struct {
	// SuccessURL is where the processor redirects after a completed checkout.
	SuccessURL string

	// CancelURL is where the processor redirects on abandonment.
	CancelURL string

	// PortalReturnURL is where the billing portal links back to.
	PortalReturnURL string

	// Plans is the purchasable plan catalog, keyed checks by plan id.
	Plans []domain.Plan
}

// billingService implements domain.BillingService.
type billingService struct {
	repo     repository.Querier
	provider billing.Provider
	config   BillingConfig
	plans    map[string]domain.Plan
	logger   *slog.Logger
}

// NewBillingService creates the user-facing billing service.
func NewBillingService(repo repository.Querier, provider billing.Provider, config BillingConfig, logger *slog.Logger) domain.BillingService {
	if logger == nil {
		logger = slog.Default()
	}
	plans := make(map[string]domain.Plan, len(config.Plans))
	for _, p := range config.Plans {
		plans[p.ID] = p
	}
	return &billingService{
		repo:     repo,
		provider: provider,
		config:   config,
		plans:    plans,
		logger:   logger,
	}
}

var _ domain.BillingService = (*billingService)(nil)

// ResolveCustomer returns the user's processor customer id, creating the
// processor customer on first use.
//
// Flow:
//  1. Read the stored id; return it if present.
//  2. Create the customer at the processor (metadata carries user_id).
//  3. Store the new id with a set-if-absent write.
//  4. If a concurrent call stored one first, re-read and return the winner.
//
// Either way the stored id refers to a customer that really exists at the
// processor; a loser's extra customer is simply never used.
func (s *billingService) ResolveCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "customer.resolve"

	row, err := s.repo.GetUserByID(ctx, uuidToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NotFound(op, "user", userID.String())
		}
		return "", domain.Internal(err, op, "failed to get user")
	}

	if row.ProcessorCustomerID.Valid && row.ProcessorCustomerID.String != "" {
		return row.ProcessorCustomerID.String, nil
	}

	start := time.Now()
	customer, err := s.provider.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email: row.Email,
		Name:  row.Name,
		Metadata: map[string]string{
			"user_id": userID.String(),
		},
		IdempotencyKey: fmt.Sprintf("customer_%s", userID),
	})
	if telemetry.Billing != nil {
		telemetry.Billing.StripeAPILatency.WithLabelValues("create_customer").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return "", domain.Internal(err, op, "failed to create billing customer")
	}

	updated, err := s.repo.SetUserProcessorCustomerID(ctx, uuidToPgUUID(userID), customer.ID)
	if err != nil {
		return "", domain.Internal(err, op, "failed to store customer id")
	}

	if updated == 0 {
		// Lost the race: another request stored its customer first.
		row, err = s.repo.GetUserByID(ctx, uuidToPgUUID(userID))
		if err != nil {
			return "", domain.Internal(err, op, "failed to re-read user after customer race")
		}
		s.logger.Info("customer creation raced, using stored id",
			"user_id", userID,
			"stored_customer_id", row.ProcessorCustomerID.String,
			"discarded_customer_id", customer.ID,
		)
		return row.ProcessorCustomerID.String, nil
	}

	s.logger.Info("billing customer created",
		"user_id", userID,
		"customer_id", customer.ID,
	)
	if telemetry.Billing != nil {
		telemetry.Billing.CustomersCreated.Inc()
	}

	return customer.ID, nil
}

// StartCheckout creates a hosted checkout session for the plan and returns
// the redirect URL.
func (s *billingService) StartCheckout(ctx context.Context, userID uuid.UUID, planID string) (string, error) {
	const op = "checkout.start"

	plan, ok := s.plans[planID]
	if !ok {
		return "", domain.Errorf(domain.EINVALID, op, "unknown plan: %s", planID)
	}

	customerID, err := s.ResolveCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	start := time.Now()
	session, err := s.provider.CreateCheckoutSession(ctx, billing.CreateCheckoutSessionParams{
		CustomerID: customerID,
		PriceID:    plan.PriceID,
		SuccessURL: s.config.SuccessURL,
		CancelURL:  s.config.CancelURL,
		Metadata: map[string]string{
			"user_id":   userID.String(),
			"plan_id":   plan.ID,
			"plan_name": plan.Name,
		},
	})
	if telemetry.Billing != nil {
		telemetry.Billing.StripeAPILatency.WithLabelValues("create_checkout_session").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return "", domain.Internal(err, op, "failed to create checkout session")
	}

	s.logger.Info("checkout session created",
		"user_id", userID,
		"plan_id", plan.ID,
		"session_id", session.ID,
	)
	if telemetry.Billing != nil {
		telemetry.Billing.CheckoutStarted.Inc()
	}

	return session.URL, nil
}

// OpenPortal creates a billing portal session for an existing customer.
func (s *billingService) OpenPortal(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "portal.open"

	row, err := s.repo.GetUserByID(ctx, uuidToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NotFound(op, "user", userID.String())
		}
		return "", domain.Internal(err, op, "failed to get user")
	}

	if !row.ProcessorCustomerID.Valid || row.ProcessorCustomerID.String == "" {
		// Never checked out, so there is no processor customer to manage.
		return "", domain.NotFound(op, "billing profile", userID.String())
	}

	start := time.Now()
	session, err := s.provider.CreatePortalSession(ctx, billing.CreatePortalSessionParams{
		CustomerID: row.ProcessorCustomerID.String,
		ReturnURL:  s.config.PortalReturnURL,
	})
	if telemetry.Billing != nil {
		telemetry.Billing.StripeAPILatency.WithLabelValues("create_portal_session").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return "", domain.Internal(err, op, "failed to create portal session")
	}

	s.logger.Info("portal session created",
		"user_id", userID,
		"session_id", session.ID,
	)
	if telemetry.Billing != nil {
		telemetry.Billing.PortalOpened.Inc()
	}

	return session.URL, nil
}
