package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/getconvive/convive/internal/email"
	"github.com/getconvive/convive/internal/jobs"
	"github.com/getconvive/convive/internal/repository"
	"github.com/getconvive/convive/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for new jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// Queue name to process (empty string = all queues)
	Queue string
}

// Worker processes background jobs: the notification emails enqueued by the
// webhook sync path and periodic cleanup.
type Worker struct {
	config       Config
	queries      repository.Querier
	emailService *email.Service
	logger       *slog.Logger

	wg sync.WaitGroup
}

// NewWorker creates a new background job worker
func NewWorker(queries repository.Querier, emailService *email.Service, config Config, logger *slog.Logger) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config:       config,
		queries:      queries,
		emailService: emailService,
		logger:       logger,
	}
}

// Start begins processing jobs until the context is cancelled.
// In-flight jobs are allowed to finish before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"queue", w.config.Queue,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)
			w.wg.Wait()
			return ctx.Err()

		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				w.wg.Add(1)
				go func() {
					defer w.wg.Done()
					defer func() { <-sem }()
					w.claimAndProcess(ctx)
				}()
			default:
				// At max concurrency, skip this poll
			}
		}
	}
}

// claimAndProcess claims and processes a single job
func (w *Worker) claimAndProcess(ctx context.Context) {
	job, err := w.queries.ClaimNextJob(ctx, repository.ClaimNextJobParams{
		WorkerID: w.config.WorkerID,
		Queue:    w.config.Queue,
	})
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			w.logger.Error("failed to claim job", "error", err)
		}
		return
	}

	w.logger.Info("processing job",
		"job_id", job.ID,
		"job_type", job.JobType,
		"retry_count", job.RetryCount,
	)

	start := time.Now()
	err = w.processJob(ctx, &job)
	if telemetry.Billing != nil {
		telemetry.Billing.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		w.logger.Error("job failed",
			"job_id", job.ID,
			"job_type", job.JobType,
			"error", err,
		)
		if telemetry.Billing != nil {
			telemetry.Billing.JobsFailed.WithLabelValues(job.JobType, errorType(err)).Inc()
		}
		telemetry.CaptureError(err, map[string]interface{}{
			"job_id":      job.ID,
			"job_type":    job.JobType,
			"retry_count": job.RetryCount,
		})
		// The job goes back to pending with backoff until retries run out
		_, _ = w.queries.FailJob(ctx, repository.FailJobParams{
			ID:           job.ID,
			ErrorMessage: pgtype.Text{String: err.Error(), Valid: true},
		})
		return
	}

	w.logger.Info("job completed",
		"job_id", job.ID,
		"job_type", job.JobType,
	)
	if telemetry.Billing != nil {
		telemetry.Billing.JobsProcessed.WithLabelValues(job.JobType).Inc()
	}

	_ = w.queries.CompleteJob(ctx, job.ID)
}

// processJob processes a single job under its configured timeout
func (w *Worker) processJob(ctx context.Context, job *repository.Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	defer cancel()

	switch {
	case jobs.IsEmailJob(job.JobType):
		return jobs.ProcessEmailJob(jobCtx, job, w.emailService)

	case jobs.IsCleanupJob(job.JobType):
		result, err := jobs.ProcessCleanupJob(jobCtx, job, w.queries)
		if err != nil {
			return err
		}
		w.logger.Info("cleanup finished",
			"sessions_deleted", result.SessionsDeleted,
			"webhook_deliveries_deleted", result.WebhookDeliveriesDeleted,
		)
		return nil

	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

func errorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
