package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/getconvive/convive/internal/repository"
)

// fakeQuerier is an in-memory repository.Querier for service tests.
type fakeQuerier struct {
	users        map[uuid.UUID]repository.User
	sessions     map[string]repository.Session
	entitlements map[string]repository.Entitlement // keyed by subscription id
	deliveries   map[string]string                 // event id -> event type
	jobs         []repository.Job

	// failWith, when set, is returned by every method to simulate outages
	failWith error

	// failWithAfterDelivery, when set, fails the entitlement writes while
	// the webhook delivery bookkeeping keeps working
	failWithAfterDelivery error
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		users:        make(map[uuid.UUID]repository.User),
		sessions:     make(map[string]repository.Session),
		entitlements: make(map[string]repository.Entitlement),
		deliveries:   make(map[string]string),
	}
}

// addUser seeds a user and returns its id.
func (f *fakeQuerier) addUser(email, name, passwordHash, customerID string) uuid.UUID {
	id := uuid.New()
	row := repository.User{
		ID:           uuidToPgUUID(id),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    pgTimestamptz(time.Now()),
		UpdatedAt:    pgTimestamptz(time.Now()),
	}
	if customerID != "" {
		row.ProcessorCustomerID = pgtype.Text{String: customerID, Valid: true}
	}
	f.users[id] = row
	return id
}

// addEntitlement seeds an entitlement row keyed by subscription id.
func (f *fakeQuerier) addEntitlement(userID uuid.UUID, subID, planID, status string, lastEventAt time.Time) {
	f.entitlements[subID] = repository.Entitlement{
		ID:                      uuidToPgUUID(uuid.New()),
		UserID:                  uuidToPgUUID(userID),
		PlanID:                  planID,
		PlanName:                planID,
		ProcessorSubscriptionID: subID,
		Status:                  status,
		LastEventAt:             pgTimestamptz(lastEventAt),
		CreatedAt:               pgTimestamptz(time.Now()),
		UpdatedAt:               pgTimestamptz(time.Now()),
	}
}

func (f *fakeQuerier) jobTypes() []string {
	var types []string
	for _, j := range f.jobs {
		types = append(types, j.JobType)
	}
	return types
}

func (f *fakeQuerier) CreateUser(ctx context.Context, arg repository.CreateUserParams) (repository.User, error) {
	if f.failWith != nil {
		return repository.User{}, f.failWith
	}
	for _, u := range f.users {
		if u.Email == arg.Email {
			return repository.User{}, &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
		}
	}
	id := uuid.New()
	row := repository.User{
		ID:           uuidToPgUUID(id),
		Email:        arg.Email,
		Name:         arg.Name,
		PasswordHash: arg.PasswordHash,
		CreatedAt:    pgTimestamptz(time.Now()),
		UpdatedAt:    pgTimestamptz(time.Now()),
	}
	f.users[id] = row
	return row, nil
}

func (f *fakeQuerier) GetUserByID(ctx context.Context, id pgtype.UUID) (repository.User, error) {
	if f.failWith != nil {
		return repository.User{}, f.failWith
	}
	row, ok := f.users[pgUUIDToUUID(id)]
	if !ok {
		return repository.User{}, pgx.ErrNoRows
	}
	return row, nil
}

func (f *fakeQuerier) GetUserByEmail(ctx context.Context, email string) (repository.User, error) {
	if f.failWith != nil {
		return repository.User{}, f.failWith
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return repository.User{}, pgx.ErrNoRows
}

func (f *fakeQuerier) SetUserProcessorCustomerID(ctx context.Context, id pgtype.UUID, customerID string) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	row, ok := f.users[pgUUIDToUUID(id)]
	if !ok {
		return 0, nil
	}
	if row.ProcessorCustomerID.Valid && row.ProcessorCustomerID.String != "" {
		return 0, nil
	}
	row.ProcessorCustomerID = pgtype.Text{String: customerID, Valid: true}
	f.users[pgUUIDToUUID(id)] = row
	return 1, nil
}

func (f *fakeQuerier) CreateSession(ctx context.Context, arg repository.CreateSessionParams) (repository.Session, error) {
	if f.failWith != nil {
		return repository.Session{}, f.failWith
	}
	row := repository.Session{
		ID:        uuidToPgUUID(uuid.New()),
		UserID:    arg.UserID,
		Token:     arg.Token,
		ExpiresAt: arg.ExpiresAt,
		CreatedAt: pgTimestamptz(time.Now()),
	}
	f.sessions[arg.Token] = row
	return row, nil
}

func (f *fakeQuerier) GetUserBySessionToken(ctx context.Context, token string) (repository.User, error) {
	if f.failWith != nil {
		return repository.User{}, f.failWith
	}
	sess, ok := f.sessions[token]
	if !ok || sess.ExpiresAt.Time.Before(time.Now()) {
		return repository.User{}, pgx.ErrNoRows
	}
	row, ok := f.users[pgUUIDToUUID(sess.UserID)]
	if !ok {
		return repository.User{}, pgx.ErrNoRows
	}
	return row, nil
}

func (f *fakeQuerier) DeleteSessionByToken(ctx context.Context, token string) error {
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.sessions, token)
	return nil
}

func (f *fakeQuerier) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	var n int64
	for token, sess := range f.sessions {
		if sess.ExpiresAt.Time.Before(time.Now()) {
			delete(f.sessions, token)
			n++
		}
	}
	return n, nil
}

func (f *fakeQuerier) UpsertEntitlement(ctx context.Context, arg repository.UpsertEntitlementParams) (repository.Entitlement, error) {
	if f.failWith != nil {
		return repository.Entitlement{}, f.failWith
	}
	if f.failWithAfterDelivery != nil {
		return repository.Entitlement{}, f.failWithAfterDelivery
	}
	existing, ok := f.entitlements[arg.ProcessorSubscriptionID]
	if ok {
		// Same staleness guard as the SQL: apply only strictly newer events.
		if !existing.LastEventAt.Time.Before(arg.LastEventAt.Time) {
			return repository.Entitlement{}, pgx.ErrNoRows
		}
		existing.Status = arg.Status
		existing.CurrentPeriodEnd = arg.CurrentPeriodEnd
		existing.CancelAtPeriodEnd = arg.CancelAtPeriodEnd
		existing.CanceledAt = arg.CanceledAt
		existing.LastEventAt = arg.LastEventAt
		existing.UpdatedAt = pgTimestamptz(time.Now())
		f.entitlements[arg.ProcessorSubscriptionID] = existing
		return existing, nil
	}
	row := repository.Entitlement{
		ID:                      uuidToPgUUID(uuid.New()),
		UserID:                  arg.UserID,
		PlanID:                  arg.PlanID,
		PlanName:                arg.PlanName,
		ProcessorCustomerID:     arg.ProcessorCustomerID,
		ProcessorSubscriptionID: arg.ProcessorSubscriptionID,
		Status:                  arg.Status,
		CurrentPeriodEnd:        arg.CurrentPeriodEnd,
		CancelAtPeriodEnd:       arg.CancelAtPeriodEnd,
		CanceledAt:              arg.CanceledAt,
		LastEventAt:             arg.LastEventAt,
		CreatedAt:               pgTimestamptz(time.Now()),
		UpdatedAt:               pgTimestamptz(time.Now()),
	}
	f.entitlements[arg.ProcessorSubscriptionID] = row
	return row, nil
}

func (f *fakeQuerier) UpdateEntitlementStatus(ctx context.Context, arg repository.UpdateEntitlementStatusParams) (repository.Entitlement, error) {
	if f.failWith != nil {
		return repository.Entitlement{}, f.failWith
	}
	if f.failWithAfterDelivery != nil {
		return repository.Entitlement{}, f.failWithAfterDelivery
	}
	existing, ok := f.entitlements[arg.ProcessorSubscriptionID]
	if !ok || !existing.LastEventAt.Time.Before(arg.LastEventAt.Time) {
		return repository.Entitlement{}, pgx.ErrNoRows
	}
	existing.Status = arg.Status
	if arg.CurrentPeriodEnd.Valid {
		existing.CurrentPeriodEnd = arg.CurrentPeriodEnd
	}
	if arg.CanceledAt.Valid {
		existing.CanceledAt = arg.CanceledAt
	}
	existing.LastEventAt = arg.LastEventAt
	existing.UpdatedAt = pgTimestamptz(time.Now())
	f.entitlements[arg.ProcessorSubscriptionID] = existing
	return existing, nil
}

func (f *fakeQuerier) GetEntitlementByUserID(ctx context.Context, userID pgtype.UUID) (repository.Entitlement, error) {
	if f.failWith != nil {
		return repository.Entitlement{}, f.failWith
	}
	var found *repository.Entitlement
	for _, e := range f.entitlements {
		if e.UserID == userID {
			if found == nil || e.UpdatedAt.Time.After(found.UpdatedAt.Time) {
				copy := e
				found = &copy
			}
		}
	}
	if found == nil {
		return repository.Entitlement{}, pgx.ErrNoRows
	}
	return *found, nil
}

func (f *fakeQuerier) GetEntitlementBySubscriptionID(ctx context.Context, subscriptionID string) (repository.Entitlement, error) {
	if f.failWith != nil {
		return repository.Entitlement{}, f.failWith
	}
	row, ok := f.entitlements[subscriptionID]
	if !ok {
		return repository.Entitlement{}, pgx.ErrNoRows
	}
	return row, nil
}

func (f *fakeQuerier) RecordWebhookDelivery(ctx context.Context, eventID, eventType string) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	if _, seen := f.deliveries[eventID]; seen {
		return false, nil
	}
	f.deliveries[eventID] = eventType
	return true, nil
}

func (f *fakeQuerier) DeleteWebhookDelivery(ctx context.Context, eventID string) error {
	delete(f.deliveries, eventID)
	return nil
}

func (f *fakeQuerier) PruneWebhookDeliveries(ctx context.Context, retentionDays int32) (int64, error) {
	if f.failWith != nil {
		return 0, f.failWith
	}
	return 0, nil
}

func (f *fakeQuerier) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	if f.failWith != nil {
		return repository.Job{}, f.failWith
	}
	job := repository.Job{
		ID:             uuidToPgUUID(uuid.New()),
		JobType:        arg.JobType,
		Queue:          arg.Queue,
		Payload:        arg.Payload,
		Status:         "pending",
		MaxRetries:     arg.MaxRetries,
		TimeoutSeconds: arg.TimeoutSeconds,
		RunAt:          arg.RunAt,
		CreatedAt:      pgTimestamptz(time.Now()),
		UpdatedAt:      pgTimestamptz(time.Now()),
	}
	f.jobs = append(f.jobs, job)
	return job, nil
}

func (f *fakeQuerier) ClaimNextJob(ctx context.Context, arg repository.ClaimNextJobParams) (repository.Job, error) {
	if f.failWith != nil {
		return repository.Job{}, f.failWith
	}
	for i, job := range f.jobs {
		if job.Status != "pending" {
			continue
		}
		if arg.Queue != "" && job.Queue != arg.Queue {
			continue
		}
		f.jobs[i].Status = "running"
		f.jobs[i].ClaimedBy = pgtype.Text{String: arg.WorkerID, Valid: true}
		f.jobs[i].ClaimedAt = pgTimestamptz(time.Now())
		return f.jobs[i], nil
	}
	return repository.Job{}, pgx.ErrNoRows
}

func (f *fakeQuerier) CompleteJob(ctx context.Context, id pgtype.UUID) error {
	if f.failWith != nil {
		return f.failWith
	}
	for i, job := range f.jobs {
		if job.ID == id {
			f.jobs[i].Status = "completed"
			f.jobs[i].CompletedAt = pgTimestamptz(time.Now())
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (f *fakeQuerier) FailJob(ctx context.Context, arg repository.FailJobParams) (repository.Job, error) {
	if f.failWith != nil {
		return repository.Job{}, f.failWith
	}
	for i, job := range f.jobs {
		if job.ID == arg.ID {
			f.jobs[i].RetryCount++
			f.jobs[i].ErrorMessage = arg.ErrorMessage
			if f.jobs[i].RetryCount >= f.jobs[i].MaxRetries {
				f.jobs[i].Status = "failed"
			} else {
				f.jobs[i].Status = "pending"
			}
			return f.jobs[i], nil
		}
	}
	return repository.Job{}, pgx.ErrNoRows
}

var _ repository.Querier = (*fakeQuerier)(nil)
