package stripe

import (
	"encoding/json"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

var eventKinds = map[string]models.EventKind{
	"customer.subscription.updated":   models.EventSubscriptionUpdated,
	"customer.subscription.deleted":   models.EventSubscriptionDeleted,
	"subscription_schedule.updated":   models.EventScheduleUpdated,
	"subscription_schedule.completed": models.EventScheduleCompleted,
}

// ParseWebhook verifies the signature over the raw payload and normalizes the event.
// Events of kinds the service does not handle come back with Kind EventUnknown.
func (c *Client) ParseWebhook(payload []byte, signature string) (*models.BillingEvent, error) {
	if c.webhookSecret == "" {
		return nil, ierr.NewError("stripe: webhook secret not configured").
			WithHint("Webhook secret not configured").
			Mark(ierr.ErrValidation)
	}
	if signature == "" {
		return nil, ierr.NewError("stripe: missing webhook signature").
			WithHint("Missing stripe-signature header").
			Mark(ierr.ErrValidation)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithMessage("stripe: verify webhook signature").
			WithHint("Webhook signature verification failed").
			Mark(ierr.ErrValidation)
	}

	return normalizeEvent(event)
}

func normalizeEvent(event stripeapi.Event) (*models.BillingEvent, error) {
	out := &models.BillingEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: models.EventUnknown,
	}

	kind, ok := eventKinds[out.Type]
	if !ok || event.Data == nil {
		return out, nil
	}
	out.Kind = kind

	switch kind {
	case models.EventSubscriptionUpdated, models.EventSubscriptionDeleted:
		var sub stripeapi.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, ierr.WithError(err).
				WithMessage("stripe: decode subscription event").
				WithHint("Malformed subscription event payload").
				Mark(ierr.ErrValidation)
		}
		out.Subscription = toSubscription(&sub)
	case models.EventScheduleUpdated, models.EventScheduleCompleted:
		var schedule stripeapi.SubscriptionSchedule
		if err := json.Unmarshal(event.Data.Raw, &schedule); err != nil {
			return nil, ierr.WithError(err).
				WithMessage("stripe: decode schedule event").
				WithHint("Malformed subscription schedule event payload").
				Mark(ierr.ErrValidation)
		}
		out.Schedule = toSchedule(&schedule)
	}

	return out, nil
}

func toSchedule(schedule *stripeapi.SubscriptionSchedule) *models.BillingSchedule {
	out := &models.BillingSchedule{
		ID:     schedule.ID,
		Status: string(schedule.Status),
	}
	if schedule.Subscription != nil {
		out.SubscriptionID = schedule.Subscription.ID
	}
	return out
}
