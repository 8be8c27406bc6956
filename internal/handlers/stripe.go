package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

// WebhookParser verifies and normalizes a raw provider event.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*models.BillingEvent, error)
}

// EventReconciler applies a verified event to local state.
type EventReconciler interface {
	HandleEvent(ctx context.Context, event *models.BillingEvent) error
}

// StripeHandler holds dependencies for the Stripe webhook
type StripeHandler struct {
	Parser     WebhookParser
	Reconciler EventReconciler
	log        *logger.Logger
}

// NewStripeHandler creates a new StripeHandler
func NewStripeHandler(parser WebhookParser, reconciler EventReconciler, log *logger.Logger) *StripeHandler {
	return &StripeHandler{Parser: parser, Reconciler: reconciler, log: log.Named("http.webhook")}
}

// RegisterRoutes registers the webhook route
func (h *StripeHandler) RegisterRoutes(router chi.Router) {
	router.Post("/api/webhook", h.HandleWebhook())
}

// HandleWebhook processes Stripe webhook events. Verification failures answer 400 and
// processing failures 500 so the provider redelivers. Events with nothing to update are
// still acknowledged.
func (h *StripeHandler) HandleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r, "Failed to read webhook body")
		if err != nil {
			h.log.Warnw("webhook body unreadable", "error", err, "limit_bytes", maxBodyBytes)
			writeError(w, h.log, err, "")
			return
		}

		event, err := h.Parser.ParseWebhook(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			h.log.Warnw("webhook rejected", "error", err)
			writeJSON(w, h.log, ierr.HTTPStatusFromErr(err), errorResponse{
				Error: ierr.DisplayMessage(err, "Webhook signature verification failed"),
			})
			return
		}

		h.log.Infow("received webhook event", "event_id", event.ID, "type", event.Type, "kind", event.Kind)

		if err := h.Reconciler.HandleEvent(r.Context(), event); err != nil {
			h.log.Errorw("webhook handler failed", "event_id", event.ID, "type", event.Type, "error", err)
			writeJSON(w, h.log, http.StatusInternalServerError, errorResponse{Error: "Webhook handler failed"})
			return
		}

		writeJSON(w, h.log, http.StatusOK, map[string]bool{"received": true})
	}
}
