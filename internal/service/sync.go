package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/getconvive/convive/internal/billing"
	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/jobs"
	"github.com/getconvive/convive/internal/repository"
	"github.com/getconvive/convive/internal/telemetry"
)

// CheckoutCompletedEvent carries the fields extracted from a
// checkout.session.completed webhook.
type CheckoutCompletedEvent struct {
	EventID        string
	EventAt        time.Time
	SessionID      string
	CustomerID     string
	SubscriptionID string

	// Metadata attached at checkout creation
	UserID   string
	PlanID   string
	PlanName string
}

// SubscriptionEvent carries the subscription object from a
// customer.subscription.updated or .deleted webhook.
type SubscriptionEvent struct {
	EventID           string
	EventAt           time.Time
	SubscriptionID    string
	CustomerID        string
	Status            string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	Metadata          map[string]string
}

// InvoiceEvent carries the fields extracted from an invoice webhook.
type InvoiceEvent struct {
	EventID        string
	EventAt        time.Time
	SubscriptionID string
	PeriodEnd      *time.Time
}

// EntitlementSyncService applies processor webhook events to the local
// entitlement store. Every method is idempotent: redelivered events are
// skipped by event id, out-of-order events by the per-row staleness guard.
// A nil return acknowledges the event; an error asks the processor to retry.
// A failed apply releases its dedup record so the retry is applied rather
// than skipped as a replay.
type EntitlementSyncService interface {
	ProcessCheckoutCompleted(ctx context.Context, event CheckoutCompletedEvent) error
	ProcessSubscriptionUpdated(ctx context.Context, event SubscriptionEvent) error
	ProcessSubscriptionDeleted(ctx context.Context, event SubscriptionEvent) error
	ProcessInvoicePaymentSucceeded(ctx context.Context, event InvoiceEvent) error
	ProcessInvoicePaymentFailed(ctx context.Context, event InvoiceEvent) error
}

// SyncConfig holds sync-adjacent settings.
type SyncConfig struct {
	// PortalURL is linked from dunning emails.
	PortalURL string
}

// entitlementSyncService implements EntitlementSyncService.
type entitlementSyncService struct {
	repo     repository.Querier
	provider billing.Provider
	config   SyncConfig
	logger   *slog.Logger
}

// NewEntitlementSyncService creates the webhook sync service.
func NewEntitlementSyncService(repo repository.Querier, provider billing.Provider, config SyncConfig, logger *slog.Logger) EntitlementSyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &entitlementSyncService{
		repo:     repo,
		provider: provider,
		config:   config,
		logger:   logger,
	}
}

var _ EntitlementSyncService = (*entitlementSyncService)(nil)

// beginEvent records the event id for dedup. Returns false when this
// delivery is a replay that must be acknowledged without re-applying.
func (s *entitlementSyncService) beginEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	fresh, err := s.repo.RecordWebhookDelivery(ctx, eventID, eventType)
	if err != nil {
		return false, domain.Internal(err, "webhook.dedup", "failed to record delivery")
	}
	if !fresh {
		s.logger.Info("webhook redelivery skipped", "event_id", eventID, "event_type", eventType)
		if telemetry.Billing != nil {
			telemetry.Billing.WebhookDuplicate.WithLabelValues(eventType).Inc()
		}
	}
	return fresh, nil
}

// releaseEvent drops the dedup record after a failed apply. The handler
// returns 500 for that failure and the processor retries; without the
// release the retry would be skipped as a replay and the event lost.
func (s *entitlementSyncService) releaseEvent(ctx context.Context, eventID, eventType string) {
	if err := s.repo.DeleteWebhookDelivery(ctx, eventID); err != nil {
		s.logger.Error("failed to release webhook delivery record",
			"event_id", eventID,
			"event_type", eventType,
			"error", err,
		)
	}
}

// markStale logs and counts an event skipped by the staleness guard.
func (s *entitlementSyncService) markStale(eventID, eventType, subscriptionID string) {
	s.logger.Info("stale webhook event skipped",
		"event_id", eventID,
		"event_type", eventType,
		"subscription_id", subscriptionID,
	)
	if telemetry.Billing != nil {
		telemetry.Billing.WebhookStale.WithLabelValues(eventType).Inc()
	}
}

// ProcessCheckoutCompleted creates (or refreshes) the entitlement for a
// finished checkout. The subscription is fetched from the processor because
// the session payload does not carry its status or period.
func (s *entitlementSyncService) ProcessCheckoutCompleted(ctx context.Context, event CheckoutCompletedEvent) (err error) {
	const op = "webhook.checkout_completed"
	const eventType = "checkout.session.completed"

	fresh, err := s.beginEvent(ctx, event.EventID, eventType)
	if err != nil || !fresh {
		return err
	}
	defer func() {
		if err != nil {
			s.releaseEvent(ctx, event.EventID, eventType)
		}
	}()

	if event.SubscriptionID == "" {
		// One-off payment sessions have no subscription; nothing to sync.
		s.logger.Warn("checkout session without subscription, skipping",
			"session_id", event.SessionID)
		return nil
	}

	sub, err := s.provider.GetSubscription(ctx, event.SubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			s.logger.Warn("subscription missing at processor, skipping",
				"subscription_id", event.SubscriptionID)
			return nil
		}
		return domain.Internal(err, op, "failed to fetch subscription")
	}

	userIDRaw := event.UserID
	if userIDRaw == "" {
		userIDRaw = sub.Metadata["user_id"]
	}
	if userIDRaw == "" {
		s.logger.Warn("checkout session without user_id metadata, skipping",
			"session_id", event.SessionID,
			"subscription_id", event.SubscriptionID,
		)
		return nil
	}
	userID, err := uuid.Parse(userIDRaw)
	if err != nil {
		s.logger.Warn("checkout session with malformed user_id metadata, skipping",
			"session_id", event.SessionID,
			"user_id", userIDRaw,
		)
		return nil
	}

	planID := event.PlanID
	planName := event.PlanName
	if planID == "" {
		planID = sub.Metadata["plan_id"]
		planName = sub.Metadata["plan_name"]
	}

	status := mapSubscriptionStatus(sub.Status)

	row, err := s.repo.UpsertEntitlement(ctx, repository.UpsertEntitlementParams{
		UserID:                  uuidToPgUUID(userID),
		PlanID:                  planID,
		PlanName:                planName,
		ProcessorCustomerID:     event.CustomerID,
		ProcessorSubscriptionID: sub.ID,
		Status:                  status,
		CurrentPeriodEnd:        pgTimestamptz(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:       sub.CancelAtPeriodEnd,
		CanceledAt:              pgTimestamptzPtr(sub.CanceledAt),
		LastEventAt:             pgTimestamptz(event.EventAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.markStale(event.EventID, eventType, sub.ID)
			return nil
		}
		return domain.Internal(err, op, "failed to upsert entitlement")
	}

	s.logger.Info("entitlement created from checkout",
		"user_id", userID,
		"plan_id", planID,
		"subscription_id", sub.ID,
		"status", status,
	)
	if telemetry.Billing != nil {
		telemetry.Billing.EntitlementTransitions.WithLabelValues(status).Inc()
	}

	if status == domain.EntitlementActive {
		s.enqueueWelcome(ctx, row)
	}

	return nil
}

// ProcessSubscriptionUpdated applies the subscription object carried by the
// event. No processor fetch: the payload is the source of truth here.
func (s *entitlementSyncService) ProcessSubscriptionUpdated(ctx context.Context, event SubscriptionEvent) (err error) {
	const op = "webhook.subscription_updated"
	const eventType = "customer.subscription.updated"

	fresh, err := s.beginEvent(ctx, event.EventID, eventType)
	if err != nil || !fresh {
		return err
	}
	defer func() {
		if err != nil {
			s.releaseEvent(ctx, event.EventID, eventType)
		}
	}()

	userIDRaw := event.Metadata["user_id"]
	if userIDRaw == "" {
		// No correlation metadata; fall back to the existing row.
		existing, err := s.repo.GetEntitlementBySubscriptionID(ctx, event.SubscriptionID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				s.logger.Warn("subscription event for unknown subscription, skipping",
					"subscription_id", event.SubscriptionID)
				return nil
			}
			return domain.Internal(err, op, "failed to look up entitlement")
		}
		userIDRaw = pgUUIDToUUID(existing.UserID).String()
		if event.Metadata == nil {
			event.Metadata = map[string]string{}
		}
		event.Metadata["plan_id"] = existing.PlanID
		event.Metadata["plan_name"] = existing.PlanName
	}
	userID, err := uuid.Parse(userIDRaw)
	if err != nil {
		s.logger.Warn("subscription event with malformed user_id metadata, skipping",
			"subscription_id", event.SubscriptionID,
			"user_id", userIDRaw,
		)
		return nil
	}

	status := mapSubscriptionStatus(event.Status)

	var periodEnd pgtype.Timestamptz
	if event.CurrentPeriodEnd != nil {
		periodEnd = pgTimestamptz(*event.CurrentPeriodEnd)
	}

	_, err = s.repo.UpsertEntitlement(ctx, repository.UpsertEntitlementParams{
		UserID:                  uuidToPgUUID(userID),
		PlanID:                  event.Metadata["plan_id"],
		PlanName:                event.Metadata["plan_name"],
		ProcessorCustomerID:     event.CustomerID,
		ProcessorSubscriptionID: event.SubscriptionID,
		Status:                  status,
		CurrentPeriodEnd:        periodEnd,
		CancelAtPeriodEnd:       event.CancelAtPeriodEnd,
		CanceledAt:              pgTimestamptzPtr(event.CanceledAt),
		LastEventAt:             pgTimestamptz(event.EventAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.markStale(event.EventID, eventType, event.SubscriptionID)
			return nil
		}
		return domain.Internal(err, op, "failed to upsert entitlement")
	}

	s.logger.Info("entitlement updated",
		"subscription_id", event.SubscriptionID,
		"status", status,
	)
	if telemetry.Billing != nil {
		telemetry.Billing.EntitlementTransitions.WithLabelValues(status).Inc()
	}

	return nil
}

// ProcessSubscriptionDeleted marks the entitlement canceled.
func (s *entitlementSyncService) ProcessSubscriptionDeleted(ctx context.Context, event SubscriptionEvent) (err error) {
	const op = "webhook.subscription_deleted"
	const eventType = "customer.subscription.deleted"

	fresh, err := s.beginEvent(ctx, event.EventID, eventType)
	if err != nil || !fresh {
		return err
	}
	defer func() {
		if err != nil {
			s.releaseEvent(ctx, event.EventID, eventType)
		}
	}()

	canceledAt := event.EventAt
	if event.CanceledAt != nil {
		canceledAt = *event.CanceledAt
	}

	row, err := s.repo.UpdateEntitlementStatus(ctx, repository.UpdateEntitlementStatusParams{
		ProcessorSubscriptionID: event.SubscriptionID,
		Status:                  domain.EntitlementCanceled,
		CanceledAt:              pgTimestamptz(canceledAt),
		LastEventAt:             pgTimestamptz(event.EventAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Unknown subscription or stale event; nothing local to cancel.
			s.markStale(event.EventID, eventType, event.SubscriptionID)
			return nil
		}
		return domain.Internal(err, op, "failed to cancel entitlement")
	}

	s.logger.Info("entitlement canceled",
		"subscription_id", event.SubscriptionID,
		"user_id", pgUUIDToUUID(row.UserID),
	)
	if telemetry.Billing != nil {
		telemetry.Billing.EntitlementTransitions.WithLabelValues(domain.EntitlementCanceled).Inc()
	}

	s.enqueueCanceled(ctx, row, canceledAt)

	return nil
}

// ProcessInvoicePaymentSucceeded sets the entitlement active, clearing any
// prior past_due, and advances the period end when the invoice carries one.
func (s *entitlementSyncService) ProcessInvoicePaymentSucceeded(ctx context.Context, event InvoiceEvent) (err error) {
	const op = "webhook.invoice_paid"
	const eventType = "invoice.payment_succeeded"

	fresh, err := s.beginEvent(ctx, event.EventID, eventType)
	if err != nil || !fresh {
		return err
	}
	defer func() {
		if err != nil {
			s.releaseEvent(ctx, event.EventID, eventType)
		}
	}()

	if event.SubscriptionID == "" {
		s.logger.Warn("invoice without subscription, skipping", "event_id", event.EventID)
		return nil
	}

	var periodEnd pgtype.Timestamptz
	if event.PeriodEnd != nil {
		periodEnd = pgTimestamptz(*event.PeriodEnd)
	}

	_, err = s.repo.UpdateEntitlementStatus(ctx, repository.UpdateEntitlementStatusParams{
		ProcessorSubscriptionID: event.SubscriptionID,
		Status:                  domain.EntitlementActive,
		CurrentPeriodEnd:        periodEnd,
		LastEventAt:             pgTimestamptz(event.EventAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.markStale(event.EventID, eventType, event.SubscriptionID)
			return nil
		}
		return domain.Internal(err, op, "failed to activate entitlement")
	}

	s.logger.Info("entitlement payment applied",
		"subscription_id", event.SubscriptionID,
	)
	if telemetry.Billing != nil {
		telemetry.Billing.EntitlementTransitions.WithLabelValues(domain.EntitlementActive).Inc()
	}

	return nil
}

// ProcessInvoicePaymentFailed sets the entitlement past_due and enqueues the
// dunning notice. The email goes through the job queue so a slow or broken
// SMTP server never fails the webhook.
func (s *entitlementSyncService) ProcessInvoicePaymentFailed(ctx context.Context, event InvoiceEvent) (err error) {
	const op = "webhook.invoice_failed"
	const eventType = "invoice.payment_failed"

	fresh, err := s.beginEvent(ctx, event.EventID, eventType)
	if err != nil || !fresh {
		return err
	}
	defer func() {
		if err != nil {
			s.releaseEvent(ctx, event.EventID, eventType)
		}
	}()

	if event.SubscriptionID == "" {
		s.logger.Warn("invoice without subscription, skipping", "event_id", event.EventID)
		return nil
	}

	row, err := s.repo.UpdateEntitlementStatus(ctx, repository.UpdateEntitlementStatusParams{
		ProcessorSubscriptionID: event.SubscriptionID,
		Status:                  domain.EntitlementPastDue,
		LastEventAt:             pgTimestamptz(event.EventAt),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.markStale(event.EventID, eventType, event.SubscriptionID)
			return nil
		}
		return domain.Internal(err, op, "failed to mark entitlement past due")
	}

	s.logger.Warn("entitlement past due",
		"subscription_id", event.SubscriptionID,
		"user_id", pgUUIDToUUID(row.UserID),
	)
	if telemetry.Billing != nil {
		telemetry.Billing.EntitlementTransitions.WithLabelValues(domain.EntitlementPastDue).Inc()
	}

	s.enqueueDunning(ctx, row, event.EventAt)

	return nil
}

// enqueueWelcome enqueues the activation welcome email. Failures are logged,
// never propagated: notification delivery must not fail the webhook.
func (s *entitlementSyncService) enqueueWelcome(ctx context.Context, ent repository.Entitlement) {
	user, err := s.repo.GetUserByID(ctx, ent.UserID)
	if err != nil {
		s.logger.Error("failed to load user for welcome email", "error", err)
		return
	}
	err = jobs.EnqueueSubscriptionWelcomeEmail(ctx, s.repo, jobs.SubscriptionWelcomePayload{
		UserID:   pgUUIDToUUID(user.ID),
		Email:    user.Email,
		Name:     user.Name,
		PlanName: ent.PlanName,
	})
	if err != nil {
		s.logger.Error("failed to enqueue welcome email", "error", err)
	}
}

func (s *entitlementSyncService) enqueueDunning(ctx context.Context, ent repository.Entitlement, failedAt time.Time) {
	user, err := s.repo.GetUserByID(ctx, ent.UserID)
	if err != nil {
		s.logger.Error("failed to load user for dunning email", "error", err)
		return
	}
	err = jobs.EnqueuePaymentFailedNotice(ctx, s.repo, jobs.PaymentFailedNoticePayload{
		UserID:    pgUUIDToUUID(user.ID),
		Email:     user.Email,
		Name:      user.Name,
		PlanName:  ent.PlanName,
		FailedAt:  failedAt,
		PortalURL: s.config.PortalURL,
	})
	if err != nil {
		s.logger.Error("failed to enqueue dunning email", "error", err)
	}
}

func (s *entitlementSyncService) enqueueCanceled(ctx context.Context, ent repository.Entitlement, canceledAt time.Time) {
	user, err := s.repo.GetUserByID(ctx, ent.UserID)
	if err != nil {
		s.logger.Error("failed to load user for cancellation email", "error", err)
		return
	}
	err = jobs.EnqueueSubscriptionCanceledEmail(ctx, s.repo, jobs.SubscriptionCanceledPayload{
		UserID:     pgUUIDToUUID(user.ID),
		Email:      user.Email,
		Name:       user.Name,
		PlanName:   ent.PlanName,
		CanceledAt: canceledAt,
	})
	if err != nil {
		s.logger.Error("failed to enqueue cancellation email", "error", err)
	}
}

// mapSubscriptionStatus maps the processor's subscription status onto our
// entitlement vocabulary.
func mapSubscriptionStatus(status string) string {
	switch status {
	case "active", "trialing":
		return domain.EntitlementActive
	case "past_due", "unpaid":
		return domain.EntitlementPastDue
	case "canceled", "incomplete_expired":
		return domain.EntitlementCanceled
	default:
		// "incomplete", "paused" and anything new
		return domain.EntitlementIncomplete
	}
}
