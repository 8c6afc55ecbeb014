package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics holds Prometheus metrics for billing-level observability.
type BillingMetrics struct {
	// Webhooks
	WebhookReceived  *prometheus.CounterVec
	WebhookProcessed *prometheus.CounterVec
	WebhookFailed    *prometheus.CounterVec
	WebhookDuplicate *prometheus.CounterVec
	WebhookStale     *prometheus.CounterVec
	WebhookLatency   *prometheus.HistogramVec

	// Checkout & portal
	CheckoutStarted  prometheus.Counter
	PortalOpened     prometheus.Counter
	CustomersCreated prometheus.Counter

	// Entitlements
	EntitlementTransitions *prometheus.CounterVec

	// Auth
	Signups     prometheus.Counter
	Logins      prometheus.Counter
	LoginFailed *prometheus.CounterVec

	// Background jobs
	JobsEnqueued  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	// Email delivery
	EmailSent   *prometheus.CounterVec
	EmailFailed *prometheus.CounterVec

	// External API performance
	StripeAPILatency *prometheus.HistogramVec
}

// NewBillingMetrics creates and registers all billing metrics.
func NewBillingMetrics(namespace string) *BillingMetrics {
	if namespace == "" {
		namespace = "convive"
	}

	subsystem := "billing"

	m := &BillingMetrics{
		WebhookReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhooks received",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhooks successfully processed",
			},
			[]string{"event_type"},
		),
		WebhookFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook processing failures",
			},
			[]string{"event_type", "error_type"},
		),
		WebhookDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duplicate_total",
				Help:      "Total redelivered webhooks skipped by event id dedup",
			},
			[]string{"event_type"},
		),
		WebhookStale: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_stale_total",
				Help:      "Total out-of-order webhooks skipped by the staleness guard",
			},
			[]string{"event_type"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processing_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"event_type"},
		),
		CheckoutStarted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_sessions_total",
				Help:      "Total hosted checkout sessions created",
			},
		),
		PortalOpened: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "portal_sessions_total",
				Help:      "Total billing portal sessions created",
			},
		),
		CustomersCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "customers_created_total",
				Help:      "Total processor customers created",
			},
		),
		EntitlementTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "entitlement_transitions_total",
				Help:      "Total entitlement status transitions applied",
			},
			[]string{"status"},
		),
		Signups: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "signups_total",
				Help:      "Total successful user signups",
			},
		),
		Logins: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "logins_total",
				Help:      "Total successful logins",
			},
		),
		LoginFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "login_failed_total",
				Help:      "Total failed login attempts",
			},
			[]string{"reason"},
		),
		JobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_enqueued_total",
				Help:      "Total background jobs enqueued",
			},
			[]string{"job_type"},
		),
		JobsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total background jobs successfully processed",
			},
			[]string{"job_type"},
		),
		JobsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_failed_total",
				Help:      "Total background job failures",
			},
			[]string{"job_type", "error_type"},
		),
		JobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Background job execution duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"job_type"},
		),
		EmailSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "emails_sent_total",
				Help:      "Total emails sent by type",
			},
			[]string{"email_type"},
		),
		EmailFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "emails_failed_total",
				Help:      "Total email delivery failures",
			},
			[]string{"email_type"},
		),
		StripeAPILatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stripe_api_duration_seconds",
				Help:      "Stripe API call duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
	}

	return m
}

// Global instance for easy access from handlers and services.
var Billing *BillingMetrics

// InitBillingMetrics initializes the global billing metrics instance.
func InitBillingMetrics(namespace string) *BillingMetrics {
	Billing = NewBillingMetrics(namespace)
	return Billing
}
