package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/repository"
)

// uuidToPgUUID converts a uuid.UUID to pgtype.UUID.
func uuidToPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// pgUUIDToUUID converts a pgtype.UUID back to uuid.UUID.
func pgUUIDToUUID(id pgtype.UUID) uuid.UUID {
	return uuid.UUID(id.Bytes)
}

// pgTimestamptz wraps a time.Time in a valid pgtype.Timestamptz.
func pgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

// pgTimestamptzPtr wraps an optional time; nil stays NULL.
func pgTimestamptzPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

// userFromRow converts a repository user row to the domain type.
func userFromRow(row repository.User) *domain.User {
	u := &domain.User{
		ID:           pgUUIDToUUID(row.ID),
		Email:        row.Email,
		Name:         row.Name,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
	}
	if row.ProcessorCustomerID.Valid {
		u.ProcessorCustomerID = row.ProcessorCustomerID.String
	}
	return u
}

// entitlementFromRow converts a repository entitlement row to the domain type.
func entitlementFromRow(row repository.Entitlement) *domain.Entitlement {
	e := &domain.Entitlement{
		ID:                      pgUUIDToUUID(row.ID),
		UserID:                  pgUUIDToUUID(row.UserID),
		PlanID:                  row.PlanID,
		PlanName:                row.PlanName,
		ProcessorCustomerID:     row.ProcessorCustomerID,
		ProcessorSubscriptionID: row.ProcessorSubscriptionID,
		Status:                  row.Status,
		CancelAtPeriodEnd:       row.CancelAtPeriodEnd,
		LastEventAt:             row.LastEventAt.Time,
		CreatedAt:               row.CreatedAt.Time,
		UpdatedAt:               row.UpdatedAt.Time,
	}
	if row.CurrentPeriodEnd.Valid {
		t := row.CurrentPeriodEnd.Time
		e.CurrentPeriodEnd = &t
	}
	if row.CanceledAt.Valid {
		t := row.CanceledAt.Time
		e.CanceledAt = &t
	}
	return e
}
