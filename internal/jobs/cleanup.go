package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getconvive/convive/internal/repository"
)

// Job type constants for cleanup jobs
const (
	JobTypeCleanupExpired = "cleanup:expired"
)

// WebhookDeliveryRetentionDays is how long processed event ids are kept.
// Stripe stops retrying deliveries after 3 days; 30 leaves a wide margin.
const WebhookDeliveryRetentionDays = 30

// CleanupExpiredPayload is intentionally empty; the job is self-contained.
type CleanupExpiredPayload struct{}

// EnqueueCleanupExpired enqueues a maintenance job that prunes expired
// sessions and old webhook dedup records. Run on a schedule (e.g. daily).
func EnqueueCleanupExpired(ctx context.Context, q repository.Querier) error {
	payloadJSON, err := json.Marshal(CleanupExpiredPayload{})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType:        JobTypeCleanupExpired,
		Queue:          "cleanup",
		Payload:        payloadJSON,
		MaxRetries:     1, // will run again next scheduled time
		TimeoutSeconds: 60,
	})
	return err
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	SessionsDeleted          int64 `json:"sessions_deleted"`
	WebhookDeliveriesDeleted int64 `json:"webhook_deliveries_deleted"`
}

// ProcessCleanupJob processes a cleanup job based on its type.
func ProcessCleanupJob(ctx context.Context, job *repository.Job, q repository.Querier) (*CleanupResult, error) {
	switch job.JobType {
	case JobTypeCleanupExpired:
		return processCleanupExpired(ctx, q)
	default:
		return nil, fmt.Errorf("unknown cleanup job type: %s", job.JobType)
	}
}

func processCleanupExpired(ctx context.Context, q repository.Querier) (*CleanupResult, error) {
	result := &CleanupResult{}

	sessions, err := q.DeleteExpiredSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	result.SessionsDeleted = sessions

	deliveries, err := q.PruneWebhookDeliveries(ctx, WebhookDeliveryRetentionDays)
	if err != nil {
		return nil, fmt.Errorf("failed to prune webhook deliveries: %w", err)
	}
	result.WebhookDeliveriesDeleted = deliveries

	return result, nil
}

// IsCleanupJob checks if a job type is a cleanup job.
func IsCleanupJob(jobType string) bool {
	return jobType == JobTypeCleanupExpired
}
