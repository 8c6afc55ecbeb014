package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getconvive/convive/internal/billing"
	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/jobs"
)

var (
	syncBase    = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	syncPeriod  = syncBase.AddDate(0, 1, 0)
	syncPortal  = "https://app.example.com/account"
	syncTestSub = "sub_test_1"
)

func newTestSyncService(repo *fakeQuerier, provider billing.Provider) EntitlementSyncService {
	return NewEntitlementSyncService(repo, provider, SyncConfig{PortalURL: syncPortal}, nil)
}

func TestProcessCheckoutCompleted_CreatesEntitlement(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")

	provider := billing.NewMockProvider()
	provider.Subscriptions[syncTestSub] = &billing.Subscription{
		ID:               syncTestSub,
		CustomerID:       "cus_1",
		Status:           "active",
		CurrentPeriodEnd: syncPeriod,
	}

	svc := newTestSyncService(repo, provider)

	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
		EventID:        "evt_1",
		EventAt:        syncBase,
		SessionID:      "cs_1",
		CustomerID:     "cus_1",
		SubscriptionID: syncTestSub,
		UserID:         userID.String(),
		PlanID:         "supper-club",
		PlanName:       "Supper Club",
	})
	require.NoError(t, err)

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err)
	assert.Equal(t, domain.EntitlementActive, row.Status)
	assert.Equal(t, "supper-club", row.PlanID)
	assert.Equal(t, userID, pgUUIDToUUID(row.UserID))
	assert.Equal(t, syncPeriod, row.CurrentPeriodEnd.Time)

	assert.Equal(t, []string{jobs.JobTypeSubscriptionWelcome}, repo.jobTypes())
}

func TestProcessCheckoutCompleted_RedeliverySkipped(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")

	provider := billing.NewMockProvider()
	provider.Subscriptions[syncTestSub] = &billing.Subscription{
		ID:     syncTestSub,
		Status: "active",
	}

	svc := newTestSyncService(repo, provider)

	event := CheckoutCompletedEvent{
		EventID:        "evt_dup",
		EventAt:        syncBase,
		CustomerID:     "cus_1",
		SubscriptionID: syncTestSub,
		UserID:         userID.String(),
		PlanID:         "supper-club",
	}
	require.NoError(t, svc.ProcessCheckoutCompleted(context.Background(), event))
	require.NoError(t, svc.ProcessCheckoutCompleted(context.Background(), event))

	assert.Len(t, repo.jobTypes(), 1, "redelivery must not enqueue a second welcome email")
}

func TestProcessCheckoutCompleted_RetryAfterTransientFailureApplies(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")

	provider := billing.NewMockProvider()
	provider.Subscriptions[syncTestSub] = &billing.Subscription{
		ID:               syncTestSub,
		CustomerID:       "cus_1",
		Status:           "active",
		CurrentPeriodEnd: syncPeriod,
	}
	provider.GetSubscriptionFunc = func(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
		return nil, errors.New("connection reset")
	}

	svc := newTestSyncService(repo, provider)

	event := CheckoutCompletedEvent{
		EventID:        "evt_retry",
		EventAt:        syncBase,
		SessionID:      "cs_retry",
		CustomerID:     "cus_1",
		SubscriptionID: syncTestSub,
		UserID:         userID.String(),
		PlanID:         "supper-club",
	}
	require.Error(t, svc.ProcessCheckoutCompleted(context.Background(), event),
		"transient processor failure must surface so the delivery is retried")

	// The processor redelivers once the outage clears. The failed attempt
	// must not have left a dedup record behind that would skip the retry.
	provider.GetSubscriptionFunc = nil
	require.NoError(t, svc.ProcessCheckoutCompleted(context.Background(), event))

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err, "retried delivery must create the entitlement")
	assert.Equal(t, domain.EntitlementActive, row.Status)
}

func TestProcessInvoicePaymentFailed_RetryAfterStoreOutageApplies(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")
	repo.addEntitlement(userID, syncTestSub, "supper-club", domain.EntitlementActive, syncBase.Add(-time.Hour))

	svc := newTestSyncService(repo, billing.NewMockProvider())

	event := InvoiceEvent{
		EventID:        "evt_outage",
		EventAt:        syncBase,
		SubscriptionID: syncTestSub,
	}

	// The dedup insert succeeds, then the status write hits the outage.
	outage := errors.New("database unavailable")
	repo.failWithAfterDelivery = outage
	require.Error(t, svc.ProcessInvoicePaymentFailed(context.Background(), event))

	repo.failWithAfterDelivery = nil
	require.NoError(t, svc.ProcessInvoicePaymentFailed(context.Background(), event))

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err)
	assert.Equal(t, domain.EntitlementPastDue, row.Status,
		"retried delivery must be applied, not skipped as a replay")
}

func TestProcessCheckoutCompleted_NoSubscriptionAcknowledged(t *testing.T) {
	repo := newFakeQuerier()
	svc := newTestSyncService(repo, billing.NewMockProvider())

	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
		EventID:   "evt_oneoff",
		EventAt:   syncBase,
		SessionID: "cs_oneoff",
	})
	require.NoError(t, err)
	assert.Empty(t, repo.entitlements)
}

func TestProcessCheckoutCompleted_MalformedUserIDAcknowledged(t *testing.T) {
	repo := newFakeQuerier()
	provider := billing.NewMockProvider()
	provider.Subscriptions[syncTestSub] = &billing.Subscription{
		ID:     syncTestSub,
		Status: "active",
	}
	svc := newTestSyncService(repo, provider)

	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
		EventID:        "evt_badmeta",
		EventAt:        syncBase,
		SubscriptionID: syncTestSub,
		UserID:         "not-a-uuid",
	})
	require.NoError(t, err, "bad metadata is not retryable and must be acknowledged")
	assert.Empty(t, repo.entitlements)
}

func TestProcessCheckoutCompleted_SubscriptionMissingAtProcessor(t *testing.T) {
	repo := newFakeQuerier()
	svc := newTestSyncService(repo, billing.NewMockProvider())

	err := svc.ProcessCheckoutCompleted(context.Background(), CheckoutCompletedEvent{
		EventID:        "evt_gone",
		EventAt:        syncBase,
		SubscriptionID: "sub_gone",
		UserID:         "ignored",
	})
	require.NoError(t, err)
	assert.Empty(t, repo.entitlements)
}

func TestProcessSubscriptionUpdated_AppliesStatus(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")
	repo.addEntitlement(userID, syncTestSub, "supper-club", domain.EntitlementActive, syncBase)

	svc := newTestSyncService(repo, billing.NewMockProvider())

	newEnd := syncPeriod.AddDate(0, 1, 0)
	err := svc.ProcessSubscriptionUpdated(context.Background(), SubscriptionEvent{
		EventID:          "evt_upd",
		EventAt:          syncBase.Add(time.Hour),
		SubscriptionID:   syncTestSub,
		CustomerID:       "cus_1",
		Status:           "past_due",
		CurrentPeriodEnd: &newEnd,
		Metadata: map[string]string{
			"user_id":   userID.String(),
			"plan_id":   "supper-club",
			"plan_name": "Supper Club",
		},
	})
	require.NoError(t, err)

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err)
	assert.Equal(t, domain.EntitlementPastDue, row.Status)
	assert.Equal(t, newEnd, row.CurrentPeriodEnd.Time)
}

func TestProcessSubscriptionUpdated_StaleEventSkipped(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")
	repo.addEntitlement(userID, syncTestSub, "supper-club", domain.EntitlementActive, syncBase)

	svc := newTestSyncService(repo, billing.NewMockProvider())

	// Event timestamped before the last applied one must not win.
	err := svc.ProcessSubscriptionUpdated(context.Background(), SubscriptionEvent{
		EventID:        "evt_stale",
		EventAt:        syncBase.Add(-time.Hour),
		SubscriptionID: syncTestSub,
		Status:         "canceled",
		Metadata:       map[string]string{"user_id": userID.String()},
	})
	require.NoError(t, err)

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err)
	assert.Equal(t, domain.EntitlementActive, row.Status, "stale event must not overwrite newer state")
}

func TestProcessSubscriptionUpdated_NoMetadataFallsBackToExistingRow(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")
	repo.addEntitlement(userID, syncTestSub, "supper-club", domain.EntitlementActive, syncBase)

	svc := newTestSyncService(repo, billing.NewMockProvider())

	err := svc.ProcessSubscriptionUpdated(context.Background(), SubscriptionEvent{
		EventID:        "evt_nometa",
		EventAt:        syncBase.Add(time.Hour),
		SubscriptionID: syncTestSub,
		Status:         "past_due",
	})
	require.NoError(t, err)

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err)
	assert.Equal(t, domain.EntitlementPastDue, row.Status)
	assert.Equal(t, "supper-club", row.PlanID, "plan carried over from the existing row")
}

func TestProcessSubscriptionUpdated_UnknownSubscriptionAcknowledged(t *testing.T) {
	repo := newFakeQuerier()
	svc := newTestSyncService(repo, billing.NewMockProvider())

	err := svc.ProcessSubscriptionUpdated(context.Background(), SubscriptionEvent{
		EventID:        "evt_unknown",
		EventAt:        syncBase,
		SubscriptionID: "sub_unknown",
		Status:         "active",
	})
	require.NoError(t, err)
	assert.Empty(t, repo.entitlements)
}

func TestProcessSubscriptionDeleted_CancelsAndNotifies(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")
	repo.addEntitlement(userID, syncTestSub, "supper-club", domain.EntitlementActive, syncBase)

	svc := newTestSyncService(repo, billing.NewMockProvider())

	canceledAt := syncBase.Add(2 * time.Hour)
	err := svc.ProcessSubscriptionDeleted(context.Background(), SubscriptionEvent{
		EventID:        "evt_del",
		EventAt:        syncBase.Add(3 * time.Hour),
		SubscriptionID: syncTestSub,
		CanceledAt:     &canceledAt,
	})
	require.NoError(t, err)

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err)
	assert.Equal(t, domain.EntitlementCanceled, row.Status)
	assert.Equal(t, canceledAt, row.CanceledAt.Time)

	assert.Equal(t, []string{jobs.JobTypeSubscriptionCanceled}, repo.jobTypes())
}

func TestProcessInvoicePaymentSucceeded_ActivatesAndAdvancesPeriod(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")
	repo.addEntitlement(userID, syncTestSub, "supper-club", domain.EntitlementPastDue, syncBase)

	svc := newTestSyncService(repo, billing.NewMockProvider())

	newEnd := syncPeriod.AddDate(0, 1, 0)
	err := svc.ProcessInvoicePaymentSucceeded(context.Background(), InvoiceEvent{
		EventID:        "evt_paid",
		EventAt:        syncBase.Add(time.Hour),
		SubscriptionID: syncTestSub,
		PeriodEnd:      &newEnd,
	})
	require.NoError(t, err)

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err)
	assert.Equal(t, domain.EntitlementActive, row.Status, "payment clears past_due")
	assert.Equal(t, newEnd, row.CurrentPeriodEnd.Time)
}

func TestProcessInvoicePaymentFailed_MarksPastDueAndEnqueuesDunning(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")
	repo.addEntitlement(userID, syncTestSub, "supper-club", domain.EntitlementActive, syncBase)

	svc := newTestSyncService(repo, billing.NewMockProvider())

	err := svc.ProcessInvoicePaymentFailed(context.Background(), InvoiceEvent{
		EventID:        "evt_failed",
		EventAt:        syncBase.Add(time.Hour),
		SubscriptionID: syncTestSub,
	})
	require.NoError(t, err)

	row, err := repo.GetEntitlementBySubscriptionID(context.Background(), syncTestSub)
	require.NoError(t, err)
	assert.Equal(t, domain.EntitlementPastDue, row.Status)

	assert.Equal(t, []string{jobs.JobTypePaymentFailedNotice}, repo.jobTypes())
}

func TestProcessInvoice_NoSubscriptionAcknowledged(t *testing.T) {
	repo := newFakeQuerier()
	svc := newTestSyncService(repo, billing.NewMockProvider())

	require.NoError(t, svc.ProcessInvoicePaymentSucceeded(context.Background(), InvoiceEvent{
		EventID: "evt_oneoff_paid",
		EventAt: syncBase,
	}))
	require.NoError(t, svc.ProcessInvoicePaymentFailed(context.Background(), InvoiceEvent{
		EventID: "evt_oneoff_failed",
		EventAt: syncBase,
	}))
	assert.Empty(t, repo.entitlements)
	assert.Empty(t, repo.jobTypes())
}
