package billing

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/competitorwatch/handler"
	"github.com/dmitrymomot/competitorwatch/pkg/binder"
	"github.com/dmitrymomot/competitorwatch/pkg/logger"
	"github.com/dmitrymomot/competitorwatch/svc/subscription"
)

var jsonBinder = binder.JSONWithLimit(4 << 10)

var (
	errInvalidPlan          = handler.NewHTTPError(http.StatusBadRequest, "invalid_plan")
	errTenantNotFound       = handler.NewHTTPError(http.StatusNotFound, "tenant_not_found")
	errTrialNotFound        = handler.NewHTTPError(http.StatusNotFound, "trial_not_found")
	errSubscriptionNotFound = handler.NewHTTPError(http.StatusNotFound, "subscription_not_found")
	errSubscriptionExists   = handler.NewHTTPError(http.StatusConflict, "subscription_exists")
)

type startTrialRequest struct {
	TenantID string `json:"tenantId"`
}

type convertTrialRequest struct {
	TenantID string `json:"tenantId"`
	PriceID  string `json:"priceId"`
}

type convertTrialResponse struct {
	Message      string                     `json:"message"`
	Plan         string                     `json:"plan"`
	Subscription *subscription.Subscription `json:"subscription"`
}

type tenantSubscriptionResponse struct {
	Summary     *subscription.Summary    `json:"summary"`
	Entitlement subscription.Entitlement `json:"entitlement"`
}

func parseTenantID(raw string, verr handler.ValidationError) uuid.UUID {
	if raw == "" {
		verr.Add("tenantId", "is required")
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		verr.Add("tenantId", "must be a UUID")
	}
	return id
}

func (h *routes) startTrial(ctx handler.Context, req startTrialRequest) handler.Response {
	verr := handler.NewValidationError()
	tenantID := parseTenantID(req.TenantID, verr)
	if !verr.IsEmpty() {
		return handler.JSONError(verr)
	}

	sub, err := h.trials.StartTrial(ctx, tenantID)
	if err != nil {
		return h.adminError(ctx, "start trial", tenantID, err)
	}
	h.logger.InfoContext(ctx, "trial started by admin", logger.TenantID(tenantID))
	return handler.JSON(sub, handler.WithJSONStatus(http.StatusCreated))
}

func (h *routes) convertTrial(ctx handler.Context, req convertTrialRequest) handler.Response {
	verr := handler.NewValidationError()
	tenantID := parseTenantID(req.TenantID, verr)
	if req.PriceID == "" {
		verr.Add("priceId", "is required")
	}
	if !verr.IsEmpty() {
		return handler.JSONError(verr)
	}

	sub, err := h.trials.ConvertTrial(ctx, tenantID, req.PriceID)
	if err != nil {
		return h.adminError(ctx, "convert trial", tenantID, err)
	}

	planName := req.PriceID
	if h.plans != nil {
		if p, ok := h.plans.Lookup(req.PriceID); ok {
			planName = p.Name
		}
	}
	h.logger.InfoContext(ctx, "trial converted by admin",
		logger.TenantID(tenantID),
		slog.String("price_id", req.PriceID))

	return handler.JSON(convertTrialResponse{
		Message:      fmt.Sprintf("Trial converted to %s plan", planName),
		Plan:         planName,
		Subscription: sub,
	})
}

func (h *routes) tenantSubscription(ctx handler.Context, _ struct{}) handler.Response {
	verr := handler.NewValidationError()
	tenantID := parseTenantID(chi.URLParam(ctx.Request(), "tenantID"), verr)
	if !verr.IsEmpty() {
		return handler.JSONError(verr)
	}

	summary, err := h.entitlements.Status(ctx, tenantID)
	if err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return h.adminError(ctx, "subscription status", tenantID, err)
	}
	ent, err := h.entitlements.Check(ctx, tenantID)
	if err != nil {
		return h.adminError(ctx, "entitlement check", tenantID, err)
	}
	return handler.JSON(tenantSubscriptionResponse{Summary: summary, Entitlement: ent})
}

// adminError maps service errors to HTTP errors. Unclassified errors are
// logged and answered with 500.
func (h *routes) adminError(ctx handler.Context, op string, tenantID uuid.UUID, err error) handler.Response {
	var mapped error
	switch {
	case errors.Is(err, subscription.ErrPlanNotFound):
		mapped = errInvalidPlan
	case errors.Is(err, subscription.ErrNotTrialing):
		mapped = errTrialNotFound
	case errors.Is(err, subscription.ErrTenantNotFound):
		mapped = errTenantNotFound
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		mapped = errSubscriptionNotFound
	case errors.Is(err, subscription.ErrSubscriptionExists):
		mapped = errSubscriptionExists
	case errors.Is(err, subscription.ErrValidation):
		mapped = handler.ErrBadRequest
	default:
		h.logger.ErrorContext(ctx, op+" failed", logger.TenantID(tenantID), logger.Error(err))
		return handler.JSONError(err)
	}
	return handler.JSONError(fmt.Errorf("%w: %v", mapped, err))
}
