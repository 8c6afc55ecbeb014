package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/getconvive/convive/internal/billing"
	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/handler"
	"github.com/getconvive/convive/internal/service"
	"github.com/getconvive/convive/internal/telemetry"
)

// maxPayloadBytes caps the webhook request body. Stripe events are small;
// anything larger is not one of ours.
const maxPayloadBytes = 1 << 20

// StripeHandler receives Stripe webhook events and hands them to the
// entitlement sync service.
type StripeHandler struct {
	provider billing.Provider
	sync     service.EntitlementSyncService
	config   StripeWebhookConfig
	logger   *slog.Logger
}

// StripeWebhookConfig contains configuration for Stripe webhook handling.
type StripeWebhookConfig struct {
	// WebhookSecret is the webhook signing secret from the Stripe dashboard.
	WebhookSecret string
}

// NewStripeHandler creates a new Stripe webhook handler.
func NewStripeHandler(provider billing.Provider, sync service.EntitlementSyncService, config StripeWebhookConfig, logger *slog.Logger) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeHandler{
		provider: provider,
		sync:     sync,
		config:   config,
		logger:   logger,
	}
}

// HandleWebhook processes incoming Stripe webhook events.
//
// Response contract:
//   - 400 when the signature is missing or invalid (Stripe will not retry)
//   - 500 when applying the event failed (Stripe retries the delivery)
//   - 200 {"received": true} once the event is applied, replayed, stale,
//     or of a type we do not handle
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:3000/webhooks/billing
//	stripe trigger invoice.payment_failed
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.receive", "error reading request body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		h.logger.Warn("webhook rejected, missing signature header")
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.receive", "missing signature"))
		return
	}

	if err := h.provider.VerifyWebhookSignature(payload, signature, h.config.WebhookSecret); err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.receive", "invalid signature"))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Warn("webhook payload is not valid JSON", "error", err)
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.receive", "invalid JSON"))
		return
	}

	eventType := string(event.Type)
	h.logger.Info("webhook event received", "event_id", event.ID, "event_type", eventType)

	if telemetry.Billing != nil {
		telemetry.Billing.WebhookReceived.WithLabelValues(eventType).Inc()
		defer func() {
			telemetry.Billing.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		}()
	}

	if err := h.dispatch(r, event); err != nil {
		h.logger.Error("webhook processing failed",
			"event_id", event.ID,
			"event_type", eventType,
			"error", err,
		)
		if telemetry.Billing != nil {
			telemetry.Billing.WebhookFailed.WithLabelValues(eventType).Inc()
		}
		handler.ErrorResponse(w, r, err)
		return
	}

	if telemetry.Billing != nil {
		telemetry.Billing.WebhookProcessed.WithLabelValues(eventType).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received": true}`))
}

// dispatch routes the event to the sync service. A nil return acknowledges
// the delivery; an error asks Stripe to retry it.
func (h *StripeHandler) dispatch(r *http.Request, event stripe.Event) error {
	ctx := r.Context()

	switch event.Type {
	case "checkout.session.completed":
		ev, err := h.parseCheckoutCompleted(event)
		if err != nil {
			return nil
		}
		return h.sync.ProcessCheckoutCompleted(ctx, ev)

	case "customer.subscription.updated":
		ev, err := h.parseSubscription(event)
		if err != nil {
			return nil
		}
		return h.sync.ProcessSubscriptionUpdated(ctx, ev)

	case "customer.subscription.deleted":
		ev, err := h.parseSubscription(event)
		if err != nil {
			return nil
		}
		return h.sync.ProcessSubscriptionDeleted(ctx, ev)

	case "invoice.payment_succeeded":
		ev, err := h.parseInvoice(event)
		if err != nil {
			return nil
		}
		return h.sync.ProcessInvoicePaymentSucceeded(ctx, ev)

	case "invoice.payment_failed":
		ev, err := h.parseInvoice(event)
		if err != nil {
			return nil
		}
		return h.sync.ProcessInvoicePaymentFailed(ctx, ev)

	default:
		// Acknowledged so Stripe stops redelivering types we do not handle.
		h.logger.Info("unhandled webhook event type", "event_type", event.Type)
		return nil
	}
}

func (h *StripeHandler) parseCheckoutCompleted(event stripe.Event) (service.CheckoutCompletedEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Warn("failed to parse checkout session from webhook",
			"event_id", event.ID, "error", err)
		return service.CheckoutCompletedEvent{}, err
	}

	ev := service.CheckoutCompletedEvent{
		EventID:   event.ID,
		EventAt:   time.Unix(event.Created, 0).UTC(),
		SessionID: session.ID,
		UserID:    session.Metadata["user_id"],
		PlanID:    session.Metadata["plan_id"],
		PlanName:  session.Metadata["plan_name"],
	}
	if session.Customer != nil {
		ev.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		ev.SubscriptionID = session.Subscription.ID
	}
	return ev, nil
}

func (h *StripeHandler) parseSubscription(event stripe.Event) (service.SubscriptionEvent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Warn("failed to parse subscription from webhook",
			"event_id", event.ID, "error", err)
		return service.SubscriptionEvent{}, err
	}

	ev := service.SubscriptionEvent{
		EventID:           event.ID,
		EventAt:           time.Unix(event.Created, 0).UTC(),
		SubscriptionID:    sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		ev.CustomerID = sub.Customer.ID
	}
	// Period end lives on the subscription items since the 2025 API versions.
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].CurrentPeriodEnd > 0 {
		t := time.Unix(sub.Items.Data[0].CurrentPeriodEnd, 0).UTC()
		ev.CurrentPeriodEnd = &t
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		ev.CanceledAt = &t
	}
	return ev, nil
}

func (h *StripeHandler) parseInvoice(event stripe.Event) (service.InvoiceEvent, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Warn("failed to parse invoice from webhook",
			"event_id", event.ID, "error", err)
		return service.InvoiceEvent{}, err
	}

	ev := service.InvoiceEvent{
		EventID: event.ID,
		EventAt: time.Unix(event.Created, 0).UTC(),
	}
	if sub := subscriptionFromInvoice(&invoice); sub != nil {
		ev.SubscriptionID = sub.ID
	}
	if end := invoicePeriodEnd(&invoice); end > 0 {
		t := time.Unix(end, 0).UTC()
		ev.PeriodEnd = &t
	}
	return ev, nil
}

// subscriptionFromInvoice extracts the subscription an invoice belongs to.
// Returns nil for one-off invoices.
func subscriptionFromInvoice(invoice *stripe.Invoice) *stripe.Subscription {
	if invoice.Parent == nil || invoice.Parent.SubscriptionDetails == nil {
		return nil
	}
	return invoice.Parent.SubscriptionDetails.Subscription
}

// invoicePeriodEnd returns the latest line period end on the invoice,
// which is the paid-through date for subscription invoices.
func invoicePeriodEnd(invoice *stripe.Invoice) int64 {
	if invoice.Lines == nil {
		return 0
	}
	var end int64
	for _, line := range invoice.Lines.Data {
		if line.Period != nil && line.Period.End > end {
			end = line.Period.End
		}
	}
	return end
}
