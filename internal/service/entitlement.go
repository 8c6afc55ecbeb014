package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/repository"
)

// entitlementService implements domain.EntitlementService.
type entitlementService struct {
	repo   repository.Querier
	logger *slog.Logger
}

// NewEntitlementService creates the entitlement read service.
func NewEntitlementService(repo repository.Querier, logger *slog.Logger) domain.EntitlementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &entitlementService{repo: repo, logger: logger}
}

var _ domain.EntitlementService = (*entitlementService)(nil)

func (s *entitlementService) GetEntitlementForUser(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	const op = "entitlement.get"

	row, err := s.repo.GetEntitlementByUserID(ctx, uuidToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound(op, "entitlement", userID.String())
		}
		return nil, domain.Internal(err, op, "failed to get entitlement")
	}
	return entitlementFromRow(row), nil
}
