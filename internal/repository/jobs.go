package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const enqueueJob = `
INSERT INTO jobs (job_type, queue, payload, max_retries, timeout_seconds, run_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
RETURNING id, job_type, queue, payload, status, retry_count, max_retries, timeout_seconds,
	run_at, claimed_by, claimed_at, error_message, completed_at, created_at, updated_at
`

// EnqueueJobParams contains parameters for EnqueueJob.
type EnqueueJobParams struct {
	JobType        string
	Queue          string
	Payload        []byte
	MaxRetries     int32
	TimeoutSeconds int32
	RunAt          pgtype.Timestamptz
}

// EnqueueJob inserts a pending job.
func (q *Queries) EnqueueJob(ctx context.Context, arg EnqueueJobParams) (Job, error) {
	row := q.db.QueryRow(ctx, enqueueJob,
		arg.JobType,
		arg.Queue,
		arg.Payload,
		arg.MaxRetries,
		arg.TimeoutSeconds,
		arg.RunAt,
	)
	return scanJob(row)
}

const claimNextJob = `
UPDATE jobs
SET status = 'running', claimed_by = $1, claimed_at = now(), updated_at = now()
WHERE id = (
	SELECT id FROM jobs
	WHERE status = 'pending' AND run_at <= now()
		AND ($2 = '' OR queue = $2)
	ORDER BY run_at
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, job_type, queue, payload, status, retry_count, max_retries, timeout_seconds,
	run_at, claimed_by, claimed_at, error_message, completed_at, created_at, updated_at
`

// ClaimNextJobParams contains parameters for ClaimNextJob.
type ClaimNextJobParams struct {
	WorkerID string
	Queue    string
}

// ClaimNextJob atomically claims the oldest runnable job. SKIP LOCKED keeps
// concurrent workers from fighting over the same row. No runnable job
// surfaces as pgx.ErrNoRows.
func (q *Queries) ClaimNextJob(ctx context.Context, arg ClaimNextJobParams) (Job, error) {
	row := q.db.QueryRow(ctx, claimNextJob, arg.WorkerID, arg.Queue)
	return scanJob(row)
}

const completeJob = `
UPDATE jobs
SET status = 'completed', completed_at = now(), updated_at = now()
WHERE id = $1
`

// CompleteJob marks a job as successfully processed.
func (q *Queries) CompleteJob(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, completeJob, id)
	return err
}

const failJob = `
UPDATE jobs
SET retry_count = retry_count + 1,
	error_message = $2,
	status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
	run_at = CASE WHEN retry_count + 1 >= max_retries THEN run_at
		ELSE now() + (power(2, retry_count + 1) * interval '1 minute') END,
	claimed_by = NULL,
	claimed_at = NULL,
	updated_at = now()
WHERE id = $1
RETURNING id, job_type, queue, payload, status, retry_count, max_retries, timeout_seconds,
	run_at, claimed_by, claimed_at, error_message, completed_at, created_at, updated_at
`

// FailJobParams contains parameters for FailJob.
type FailJobParams struct {
	ID           pgtype.UUID
	ErrorMessage pgtype.Text
}

// FailJob records a failure. The job goes back to pending with exponential
// backoff until max_retries is exhausted, then stays failed.
func (q *Queries) FailJob(ctx context.Context, arg FailJobParams) (Job, error) {
	row := q.db.QueryRow(ctx, failJob, arg.ID, arg.ErrorMessage)
	return scanJob(row)
}

func scanJob(row scannable) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.JobType,
		&j.Queue,
		&j.Payload,
		&j.Status,
		&j.RetryCount,
		&j.MaxRetries,
		&j.TimeoutSeconds,
		&j.RunAt,
		&j.ClaimedBy,
		&j.ClaimedAt,
		&j.ErrorMessage,
		&j.CompletedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	return j, err
}
