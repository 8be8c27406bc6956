package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/subscription"
)

// SubscriptionService is the plan-change and renewal API the routes call into.
type SubscriptionService interface {
	ChangePlan(ctx context.Context, userID, desiredPlanID string) (*subscription.ChangeResult, error)
	GetState(ctx context.Context, userID string) (*subscription.State, error)
	Manage(ctx context.Context, userID string, action subscription.Action) (*subscription.ActionResult, error)
	ClearScheduledChange(ctx context.Context, userID string) (*subscription.ClearResult, error)
	CheckAccess(ctx context.Context, userID string) (*subscription.AccessDecision, error)
}

type changePlanRequest struct {
	UID        string `json:"uid" validate:"required"`
	NewPriceID string `json:"newPriceId" validate:"required"`
}

type changePlanResponse struct {
	Success       bool       `json:"success"`
	ChangeType    string     `json:"changeType"`
	Message       string     `json:"message"`
	CurrentPlan   string     `json:"currentPlan,omitempty"`
	NewPlan       string     `json:"newPlan,omitempty"`
	EffectiveDate *time.Time `json:"effectiveDate,omitempty"`
	ScheduleID    string     `json:"scheduleId,omitempty"`
}

type manageRequest struct {
	UID    string `json:"uid" validate:"required"`
	Action string `json:"action" validate:"required"`
}

type manageSubscription struct {
	ID                string `json:"id"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *int64 `json:"current_period_end,omitempty"`
}

type manageResponse struct {
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	Subscription manageSubscription `json:"subscription"`
}

type clearRequest struct {
	UID string `json:"uid" validate:"required"`
}

type clearResponse struct {
	Success            bool                        `json:"success"`
	Message            string                      `json:"message"`
	HadScheduledChange bool                        `json:"hadScheduledChange"`
	ClearedChange      *models.ScheduledPlanChange `json:"clearedChange,omitempty"`
}

// SubscriptionHandler serves the plan-change, renewal, and access routes.
type SubscriptionHandler struct {
	Service SubscriptionService
	log     *logger.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler
func NewSubscriptionHandler(svc SubscriptionService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{Service: svc, log: log.Named("http.subscription")}
}

// RegisterRoutes registers subscription routes
func (h *SubscriptionHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/change-plan", h.ChangePlan())
	router.Get("/api/manage-subscription", h.GetSubscription())
	router.Post("/api/manage-subscription", h.ManageSubscription())
	router.Post("/api/clear-scheduled-change", h.ClearScheduledChange())
	router.Get("/api/access", h.CheckAccess())
}

// ChangePlan resolves a plan change request to reactivate, clear_schedule, upgrade, or downgrade.
func (h *SubscriptionHandler) ChangePlan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePlanRequest
		if err := decodeBody(w, r, &req, "Missing uid or newPriceId"); err != nil {
			writeError(w, h.log, err, "Missing uid or newPriceId")
			return
		}

		res, err := h.Service.ChangePlan(r.Context(), req.UID, req.NewPriceID)
		if err != nil {
			writeError(w, h.log, err, "Internal Server Error")
			return
		}

		writeJSON(w, h.log, http.StatusOK, changePlanResponse{
			Success:       true,
			ChangeType:    string(res.ChangeType),
			Message:       res.Message,
			CurrentPlan:   res.CurrentPlan,
			NewPlan:       res.NewPlan,
			EffectiveDate: res.EffectiveDate,
			ScheduleID:    res.ScheduleID,
		})
	}
}

// GetSubscription returns the live subscription and plan for ?uid=.
func (h *SubscriptionHandler) GetSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := h.Service.GetState(r.Context(), r.URL.Query().Get("uid"))
		if err != nil {
			writeError(w, h.log, err, "Failed to fetch subscription")
			return
		}
		writeJSON(w, h.log, http.StatusOK, state)
	}
}

// ManageSubscription cancels or reactivates auto-renewal.
func (h *SubscriptionHandler) ManageSubscription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req manageRequest
		if err := decodeBody(w, r, &req, "Missing uid or action"); err != nil {
			writeError(w, h.log, err, "Missing uid or action")
			return
		}

		res, err := h.Service.Manage(r.Context(), req.UID, subscription.Action(req.Action))
		if err != nil {
			writeError(w, h.log, err, "Failed to manage subscription")
			return
		}

		sub := manageSubscription{ID: res.Subscription.ID, CancelAtPeriodEnd: res.Subscription.CancelAtPeriodEnd}
		if end := res.Subscription.CurrentPeriodEnd; end != nil {
			unix := end.Unix()
			sub.CurrentPeriodEnd = &unix
		}
		writeJSON(w, h.log, http.StatusOK, manageResponse{Success: true, Message: res.Message, Subscription: sub})
	}
}

// ClearScheduledChange drops a pending downgrade.
func (h *SubscriptionHandler) ClearScheduledChange() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clearRequest
		if err := decodeBody(w, r, &req, "Missing uid"); err != nil {
			writeError(w, h.log, err, "Missing uid")
			return
		}

		res, err := h.Service.ClearScheduledChange(r.Context(), req.UID)
		if err != nil {
			writeError(w, h.log, err, "Failed to clear scheduled change")
			return
		}

		writeJSON(w, h.log, http.StatusOK, clearResponse{
			Success:            true,
			Message:            res.Message,
			HadScheduledChange: res.HadScheduledChange,
			ClearedChange:      res.ClearedChange,
		})
	}
}

// CheckAccess reports whether ?uid= may enter the dashboard.
func (h *SubscriptionHandler) CheckAccess() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision, err := h.Service.CheckAccess(r.Context(), r.URL.Query().Get("uid"))
		if err != nil {
			writeError(w, h.log, err, "Failed to check access")
			return
		}
		writeJSON(w, h.log, http.StatusOK, decision)
	}
}
