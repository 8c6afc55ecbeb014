package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getconvive/convive/internal/email"
	"github.com/getconvive/convive/internal/repository"
)

// enqueueRecorder captures enqueued jobs. The embedded interface covers the
// methods these tests never touch.
type enqueueRecorder struct {
	repository.Querier
	jobs []repository.EnqueueJobParams
}

func (r *enqueueRecorder) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	r.jobs = append(r.jobs, arg)
	return repository.Job{JobType: arg.JobType, Queue: arg.Queue, Payload: arg.Payload}, nil
}

// cleanupQuerier stubs the two queries the cleanup job runs.
type cleanupQuerier struct {
	repository.Querier
	sessionsDeleted   int64
	deliveriesDeleted int64
	retentionDays     int32
}

func (c *cleanupQuerier) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	return c.sessionsDeleted, nil
}

func (c *cleanupQuerier) PruneWebhookDeliveries(ctx context.Context, retentionDays int32) (int64, error) {
	c.retentionDays = retentionDays
	return c.deliveriesDeleted, nil
}

func TestEnqueueEmailJobs_QueueAndPayload(t *testing.T) {
	rec := &enqueueRecorder{}
	userID := uuid.New()

	err := EnqueuePaymentFailedNotice(context.Background(), rec, PaymentFailedNoticePayload{
		UserID:    userID,
		Email:     "diner@example.com",
		Name:      "Diner",
		PlanName:  "Supper Club",
		FailedAt:  time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		PortalURL: "https://app.example.com/account",
	})
	require.NoError(t, err)

	require.Len(t, rec.jobs, 1)
	job := rec.jobs[0]
	assert.Equal(t, JobTypePaymentFailedNotice, job.JobType)
	assert.Equal(t, "email", job.Queue)
	assert.Equal(t, int32(3), job.MaxRetries)

	var payload PaymentFailedNoticePayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, userID, payload.UserID)
	assert.Equal(t, "https://app.example.com/account", payload.PortalURL)
}

func TestProcessEmailJob_Welcome(t *testing.T) {
	sender := email.NewMockSender()
	svc := email.NewService(sender, "noreply@convive.local", "Convive")

	payload, err := json.Marshal(SubscriptionWelcomePayload{
		Email:    "diner@example.com",
		Name:     "Diner",
		PlanName: "Supper Club",
	})
	require.NoError(t, err)

	job := &repository.Job{JobType: JobTypeSubscriptionWelcome, Payload: payload}
	require.NoError(t, ProcessEmailJob(context.Background(), job, svc))

	require.Len(t, sender.Sent, 1)
	assert.Equal(t, []string{"diner@example.com"}, sender.Sent[0].To)
	assert.Contains(t, sender.Sent[0].Subject, "Supper Club")
}

func TestProcessEmailJob_MalformedPayload(t *testing.T) {
	svc := email.NewService(email.NewMockSender(), "noreply@convive.local", "Convive")

	job := &repository.Job{JobType: JobTypeSubscriptionWelcome, Payload: []byte("{not json")}
	err := ProcessEmailJob(context.Background(), job, svc)
	require.Error(t, err)
}

func TestProcessEmailJob_UnknownType(t *testing.T) {
	svc := email.NewService(email.NewMockSender(), "noreply@convive.local", "Convive")

	job := &repository.Job{JobType: "email:launch_rockets", Payload: []byte("{}")}
	err := ProcessEmailJob(context.Background(), job, svc)
	require.Error(t, err)
}

func TestProcessCleanupJob(t *testing.T) {
	q := &cleanupQuerier{sessionsDeleted: 7, deliveriesDeleted: 42}

	job := &repository.Job{JobType: JobTypeCleanupExpired, Payload: []byte("{}")}
	result, err := ProcessCleanupJob(context.Background(), job, q)
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.SessionsDeleted)
	assert.Equal(t, int64(42), result.WebhookDeliveriesDeleted)
	assert.Equal(t, int32(WebhookDeliveryRetentionDays), q.retentionDays)
}

func TestJobTypePredicates(t *testing.T) {
	assert.True(t, IsEmailJob(JobTypeSubscriptionWelcome))
	assert.True(t, IsEmailJob(JobTypePaymentFailedNotice))
	assert.True(t, IsEmailJob(JobTypeSubscriptionCanceled))
	assert.False(t, IsEmailJob(JobTypeCleanupExpired))

	assert.True(t, IsCleanupJob(JobTypeCleanupExpired))
	assert.False(t, IsCleanupJob(JobTypeSubscriptionWelcome))
}
