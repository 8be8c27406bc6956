package subscription

import (
	"context"
	"time"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

// ActionResult reports the outcome of Manage.
type ActionResult struct {
	Message      string
	Subscription ActionSubscription
}

// ActionSubscription is the renewal state after an action. CurrentPeriodEnd is only set
// on cancel.
type ActionSubscription struct {
	ID                string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

// ClearResult reports the outcome of ClearScheduledChange.
type ClearResult struct {
	Message            string
	HadScheduledChange bool
	ClearedChange      *models.ScheduledPlanChange
}

// Manage toggles auto-renewal. Cancel keeps the subscription active until the period ends.
func (s *Service) Manage(ctx context.Context, userID string, action Action) (*ActionResult, error) {
	if userID == "" || action == "" {
		return nil, missingField("Missing uid or action")
	}
	if action != ActionCancel && action != ActionReactivate {
		return nil, invalidAction()
	}

	profile, err := s.loadSubscribed(ctx, userID)
	if err != nil {
		return nil, err
	}
	subID := profile.Subscription.SubscriptionID

	switch action {
	case ActionCancel:
		live, err := s.billing.SetCancelAtPeriodEnd(ctx, subID, true)
		if err != nil {
			return nil, err
		}

		// A pending downgrade would never run once the subscription ends, and the
		// provider detached its schedule above.
		cleared := profile.Subscription.ScheduledPlanChange
		now := s.now().UTC()
		if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
			rec.CancelAtPeriodEnd = true
			rec.CanceledAt = &now
			rec.ScheduledPlanChange = nil
		}); err != nil {
			return nil, err
		}
		if cleared != nil {
			s.log.Infow("scheduled plan change dropped by cancellation", "user_id", userID, "new_plan", cleared.NewPlan)
		}

		periodEnd := EffectivePeriodEnd(live, now)
		s.log.Infow("subscription set to cancel at period end", "user_id", userID, "subscription_id", subID, "period_end", periodEnd)
		return &ActionResult{
			Message: "Subscription will be canceled at the end of the current billing period",
			Subscription: ActionSubscription{
				ID:                subID,
				CancelAtPeriodEnd: true,
				CurrentPeriodEnd:  &periodEnd,
			},
		}, nil

	default:
		live, err := s.billing.GetSubscription(ctx, subID)
		if err != nil {
			return nil, err
		}

		// Updating the provider detaches any schedule, so only touch it when there is
		// a cancellation to undo. Otherwise a pending downgrade stays intact.
		var dropped *models.ScheduledPlanChange
		if live.CancelAtPeriodEnd {
			if _, err := s.billing.SetCancelAtPeriodEnd(ctx, subID, false); err != nil {
				return nil, err
			}
			dropped = profile.Subscription.ScheduledPlanChange
		}
		if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
			rec.CancelAtPeriodEnd = false
			rec.CanceledAt = nil
			if dropped != nil {
				rec.ScheduledPlanChange = nil
			}
		}); err != nil {
			return nil, err
		}
		if dropped != nil {
			s.log.Infow("scheduled plan change dropped by reactivation", "user_id", userID, "new_plan", dropped.NewPlan)
		}

		s.log.Infow("subscription reactivated", "user_id", userID, "subscription_id", subID, "provider_updated", live.CancelAtPeriodEnd)
		return &ActionResult{
			Message: "Subscription has been reactivated",
			Subscription: ActionSubscription{
				ID:                subID,
				CancelAtPeriodEnd: false,
			},
		}, nil
	}
}

// ClearScheduledChange drops a pending downgrade. Any provider schedule behind it is
// released by a background job.
func (s *Service) ClearScheduledChange(ctx context.Context, userID string) (*ClearResult, error) {
	if userID == "" {
		return nil, missingField("Missing uid")
	}

	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	cleared := profile.Subscription.ScheduledPlanChange
	if cleared == nil {
		return &ClearResult{Message: "No scheduled changes to clear"}, nil
	}

	if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
		rec.ScheduledPlanChange = nil
	}); err != nil {
		return nil, err
	}
	s.enqueueRelease(ctx, cleared)

	s.log.Infow("scheduled plan change cleared", "user_id", userID, "new_plan", cleared.NewPlan)
	return &ClearResult{
		Message:            "Scheduled plan change cleared successfully",
		HadScheduledChange: true,
		ClearedChange:      cleared,
	}, nil
}
