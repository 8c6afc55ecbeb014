package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/getconvive/convive/internal/domain"
	"github.com/getconvive/convive/internal/handler"
	"github.com/getconvive/convive/internal/middleware"
)

// BillingHandler serves the authenticated billing endpoints: starting a
// checkout, opening the billing portal, and reading the entitlement.
type BillingHandler struct {
	billing      domain.BillingService
	entitlements domain.EntitlementService
	logger       *slog.Logger
}

// NewBillingHandler creates a new billing API handler.
func NewBillingHandler(billing domain.BillingService, entitlements domain.EntitlementService, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		billing:      billing,
		entitlements: entitlements,
		logger:       logger,
	}
}

type startCheckoutRequest struct {
	PlanID string `json:"plan_id" validate:"required"`
}

type redirectResponse struct {
	URL string `json:"url"`
}

// StartCheckout handles POST /api/billing/checkout.
// Returns 201 with the hosted checkout URL the client should redirect to.
func (h *BillingHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "checkout.start"

	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	var req startCheckoutRequest
	if err := decodeRequest(r, op, &req); err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	url, err := h.billing.StartCheckout(r.Context(), user.ID, req.PlanID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, redirectResponse{URL: url})
}

// OpenPortal handles POST /api/billing/portal.
// Returns the billing portal URL for users with a billing profile.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	url, err := h.billing.OpenPortal(r.Context(), user.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, redirectResponse{URL: url})
}

type entitlementResponse struct {
	PlanID            string     `json:"plan_id"`
	PlanName          string     `json:"plan_name"`
	Status            string     `json:"status"`
	Active            bool       `json:"active"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
}

// GetEntitlement handles GET /api/billing/entitlement.
// Returns 404 when the user has never subscribed.
func (h *BillingHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	ent, err := h.entitlements.GetEntitlementForUser(r.Context(), user.ID)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entitlementResponse{
		PlanID:            ent.PlanID,
		PlanName:          ent.PlanName,
		Status:            ent.Status,
		Active:            ent.Active(),
		CurrentPeriodEnd:  ent.CurrentPeriodEnd,
		CancelAtPeriodEnd: ent.CancelAtPeriodEnd,
		CanceledAt:        ent.CanceledAt,
	})
}
