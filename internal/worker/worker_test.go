package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/getconvive/convive/internal/email"
	"github.com/getconvive/convive/internal/jobs"
	"github.com/getconvive/convive/internal/repository"
)

// queueFake hands out seeded jobs and records completions and failures.
// The embedded interface covers the methods the worker never calls.
type queueFake struct {
	repository.Querier
	pending   []repository.Job
	completed []pgtype.UUID
	failed    []repository.FailJobParams
}

func (q *queueFake) ClaimNextJob(ctx context.Context, arg repository.ClaimNextJobParams) (repository.Job, error) {
	if len(q.pending) == 0 {
		return repository.Job{}, pgx.ErrNoRows
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.ClaimedBy = pgtype.Text{String: arg.WorkerID, Valid: true}
	return job, nil
}

func (q *queueFake) CompleteJob(ctx context.Context, id pgtype.UUID) error {
	q.completed = append(q.completed, id)
	return nil
}

func (q *queueFake) FailJob(ctx context.Context, arg repository.FailJobParams) (repository.Job, error) {
	q.failed = append(q.failed, arg)
	return repository.Job{ID: arg.ID, Status: "pending"}, nil
}

func welcomeJob(t *testing.T) repository.Job {
	t.Helper()
	payload, err := json.Marshal(jobs.SubscriptionWelcomePayload{
		Email:    "diner@example.com",
		Name:     "Diner",
		PlanName: "Supper Club",
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return repository.Job{
		ID:             pgtype.UUID{Bytes: uuid.New(), Valid: true},
		JobType:        jobs.JobTypeSubscriptionWelcome,
		Queue:          "email",
		Payload:        payload,
		Status:         "pending",
		MaxRetries:     3,
		TimeoutSeconds: 30,
	}
}

func TestClaimAndProcess_CompletesEmailJob(t *testing.T) {
	sender := email.NewMockSender()
	queue := &queueFake{pending: []repository.Job{welcomeJob(t)}}
	w := NewWorker(queue, email.NewService(sender, "noreply@convive.local", "Convive"), Config{}, nil)

	w.claimAndProcess(context.Background())

	if len(sender.Sent) != 1 {
		t.Fatalf("emails sent = %d, want 1", len(sender.Sent))
	}
	if len(queue.completed) != 1 {
		t.Errorf("jobs completed = %d, want 1", len(queue.completed))
	}
	if len(queue.failed) != 0 {
		t.Errorf("jobs failed = %d, want 0", len(queue.failed))
	}
}

func TestClaimAndProcess_FailsBrokenJob(t *testing.T) {
	sender := email.NewMockSender()
	sender.SendFunc = func(ctx context.Context, msg *email.Email) (string, error) {
		return "", errors.New("smtp connection refused")
	}
	queue := &queueFake{pending: []repository.Job{welcomeJob(t)}}
	w := NewWorker(queue, email.NewService(sender, "noreply@convive.local", "Convive"), Config{}, nil)

	w.claimAndProcess(context.Background())

	if len(queue.completed) != 0 {
		t.Errorf("jobs completed = %d, want 0", len(queue.completed))
	}
	if len(queue.failed) != 1 {
		t.Fatalf("jobs failed = %d, want 1", len(queue.failed))
	}
	if msg := queue.failed[0].ErrorMessage.String; msg == "" {
		t.Error("failure must record an error message")
	}
}

func TestClaimAndProcess_UnknownJobType(t *testing.T) {
	job := welcomeJob(t)
	job.JobType = "video:transcode"
	queue := &queueFake{pending: []repository.Job{job}}
	w := NewWorker(queue, email.NewService(email.NewMockSender(), "noreply@convive.local", "Convive"), Config{}, nil)

	w.claimAndProcess(context.Background())

	if len(queue.failed) != 1 {
		t.Fatalf("jobs failed = %d, want 1", len(queue.failed))
	}
}

func TestClaimAndProcess_NoJobIsQuiet(t *testing.T) {
	queue := &queueFake{}
	w := NewWorker(queue, email.NewService(email.NewMockSender(), "noreply@convive.local", "Convive"), Config{}, nil)

	w.claimAndProcess(context.Background())

	if len(queue.completed) != 0 || len(queue.failed) != 0 {
		t.Error("no job should mean no state changes")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	queue := &queueFake{}
	w := NewWorker(queue, email.NewService(email.NewMockSender(), "noreply@convive.local", "Convive"), Config{
		PollInterval: time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
