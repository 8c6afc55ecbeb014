package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/getconvive/convive/internal/email"
	"github.com/getconvive/convive/internal/repository"
	"github.com/getconvive/convive/internal/telemetry"
)

// Job type constants for email jobs
const (
	JobTypeSubscriptionWelcome  = "email:subscription_welcome"
	JobTypePaymentFailedNotice  = "email:payment_failed_notice"
	JobTypeSubscriptionCanceled = "email:subscription_canceled"
)

// SubscriptionWelcomePayload represents the payload for a welcome email job
type SubscriptionWelcomePayload struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	PlanName string    `json:"plan_name"`
}

// PaymentFailedNoticePayload represents the payload for a dunning email job
type PaymentFailedNoticePayload struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	PlanName  string    `json:"plan_name"`
	FailedAt  time.Time `json:"failed_at"`
	PortalURL string    `json:"portal_url"`
}

// SubscriptionCanceledPayload represents the payload for a cancellation email job
type SubscriptionCanceledPayload struct {
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	PlanName   string    `json:"plan_name"`
	CanceledAt time.Time `json:"canceled_at"`
}

// EnqueueSubscriptionWelcomeEmail enqueues a welcome email job.
func EnqueueSubscriptionWelcomeEmail(ctx context.Context, q repository.Querier, payload SubscriptionWelcomePayload) error {
	return enqueueEmailJob(ctx, q, JobTypeSubscriptionWelcome, payload)
}

// EnqueuePaymentFailedNotice enqueues a dunning email job.
func EnqueuePaymentFailedNotice(ctx context.Context, q repository.Querier, payload PaymentFailedNoticePayload) error {
	return enqueueEmailJob(ctx, q, JobTypePaymentFailedNotice, payload)
}

// EnqueueSubscriptionCanceledEmail enqueues a cancellation email job.
func EnqueueSubscriptionCanceledEmail(ctx context.Context, q repository.Querier, payload SubscriptionCanceledPayload) error {
	return enqueueEmailJob(ctx, q, JobTypeSubscriptionCanceled, payload)
}

func enqueueEmailJob(ctx context.Context, q repository.Querier, jobType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = q.EnqueueJob(ctx, repository.EnqueueJobParams{
		JobType:        jobType,
		Queue:          "email",
		Payload:        payloadJSON,
		MaxRetries:     3,
		TimeoutSeconds: 30,
	})
	if err != nil {
		return err
	}

	if telemetry.Billing != nil {
		telemetry.Billing.JobsEnqueued.WithLabelValues(jobType).Inc()
	}
	return nil
}

// ProcessEmailJob sends the email described by an email job.
func ProcessEmailJob(ctx context.Context, job *repository.Job, emailService *email.Service) error {
	switch job.JobType {
	case JobTypeSubscriptionWelcome:
		var payload SubscriptionWelcomePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal welcome payload: %w", err)
		}
		return emailService.SendSubscriptionWelcome(ctx, payload.Email, email.SubscriptionWelcomeData{
			Name:     payload.Name,
			PlanName: payload.PlanName,
		})

	case JobTypePaymentFailedNotice:
		var payload PaymentFailedNoticePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal dunning payload: %w", err)
		}
		return emailService.SendPaymentFailedNotice(ctx, payload.Email, email.PaymentFailedData{
			Name:      payload.Name,
			PlanName:  payload.PlanName,
			FailedAt:  payload.FailedAt,
			PortalURL: payload.PortalURL,
		})

	case JobTypeSubscriptionCanceled:
		var payload SubscriptionCanceledPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal cancellation payload: %w", err)
		}
		return emailService.SendSubscriptionCanceledNotice(ctx, payload.Email, email.SubscriptionCanceledData{
			Name:       payload.Name,
			PlanName:   payload.PlanName,
			CanceledAt: payload.CanceledAt,
		})

	default:
		return fmt.Errorf("unknown email job type: %s", job.JobType)
	}
}

// IsEmailJob checks if a job type is an email job.
func IsEmailJob(jobType string) bool {
	switch jobType {
	case JobTypeSubscriptionWelcome,
		JobTypePaymentFailedNotice,
		JobTypeSubscriptionCanceled:
		return true
	}
	return false
}
