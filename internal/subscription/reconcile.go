package subscription

import (
	"context"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

// HandleEvent applies one verified provider event to the matching profile. Events that
// match no profile, and kinds not listed in models.EventKind, are acknowledged with no
// effect. Every write overwrites fields, so redelivery converges to the same state.
func (s *Service) HandleEvent(ctx context.Context, event *models.BillingEvent) error {
	if event == nil {
		return ierr.NewError("subscription: nil billing event").Mark(ierr.ErrValidation)
	}

	switch event.Kind {
	case models.EventSubscriptionUpdated, models.EventSubscriptionDeleted:
		return s.syncSubscription(ctx, event)
	case models.EventScheduleUpdated, models.EventScheduleCompleted:
		return s.completeSchedule(ctx, event)
	default:
		s.log.Debugw("ignoring billing event", "event_id", event.ID, "type", event.Type)
		return nil
	}
}

func (s *Service) syncSubscription(ctx context.Context, event *models.BillingEvent) error {
	sub := event.Subscription
	if sub == nil || sub.CustomerID == "" {
		s.log.Warnw("subscription event without customer", "event_id", event.ID, "type", event.Type)
		return nil
	}

	profile, err := s.profiles.FindByCustomerID(ctx, sub.CustomerID)
	if err != nil {
		return err
	}
	if profile == nil {
		s.log.Infow("no profile for customer", "event_id", event.ID, "customer_id", sub.CustomerID)
		return nil
	}

	// A customer may hold an older subscription. Events for it must not overwrite the
	// one the profile tracks.
	if tracked := profile.Subscription.SubscriptionID; tracked != "" && sub.ID != "" && tracked != sub.ID {
		s.log.Infow("event for untracked subscription",
			"event_id", event.ID, "user_id", profile.UserID, "subscription_id", sub.ID, "tracked", tracked)
		return nil
	}

	planName, havePlan, err := s.planName(ctx, sub)
	if err != nil {
		return err
	}
	deleted := event.Kind == models.EventSubscriptionDeleted

	updated, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
		if havePlan {
			rec.Plan = planName
		}
		if sub.Status != "" {
			rec.Status = sub.Status
		}
		rec.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		rec.CanceledAt = sub.CanceledAt
		if deleted {
			rec.ScheduledPlanChange = nil
		} else if change := rec.ScheduledPlanChange; change != nil && havePlan && change.NewPlan == planName {
			rec.ScheduledPlanChange = nil
		}
	})
	if err != nil {
		return err
	}

	s.log.Infow("profile synced from subscription event",
		"event_id", event.ID,
		"kind", event.Kind,
		"user_id", profile.UserID,
		"plan", updated.Subscription.Plan,
		"status", updated.Subscription.Status)
	return nil
}

// planName resolves the display name of the subscription's current price. It prefers the
// catalog, then the expanded product, then a product lookup. The bool is false when the
// subscription has no priced item.
func (s *Service) planName(ctx context.Context, sub *models.BillingSubscription) (string, bool, error) {
	item, ok := sub.PrimaryItem()
	if !ok || item.PriceID == "" {
		return "", false, nil
	}
	if plan, ok := s.catalog.Lookup(item.PriceID); ok {
		return plan.Name, true, nil
	}
	if item.ProductName != "" {
		return item.ProductName, true, nil
	}
	if item.ProductID != "" {
		name, err := s.billing.ProductName(ctx, item.ProductID)
		if err != nil {
			return "", false, err
		}
		if name != "" {
			return name, true, nil
		}
	}
	return unknownPlanName, true, nil
}

func (s *Service) completeSchedule(ctx context.Context, event *models.BillingEvent) error {
	sched := event.Schedule
	if sched == nil || sched.SubscriptionID == "" {
		s.log.Debugw("schedule event without subscription", "event_id", event.ID, "type", event.Type)
		return nil
	}

	profile, err := s.profiles.FindBySubscriptionID(ctx, sched.SubscriptionID)
	if err != nil {
		return err
	}
	if profile == nil {
		s.log.Infow("no profile for subscription", "event_id", event.ID, "subscription_id", sched.SubscriptionID)
		return nil
	}

	change := profile.Subscription.ScheduledPlanChange
	if !change.HasSchedule(sched.ID) {
		return nil
	}
	// Updates also fire when the schedule is created or edited. Only a phase flip at or
	// after the effective date completes the change.
	if event.Kind == models.EventScheduleUpdated && s.now().Before(change.EffectiveDate) {
		return nil
	}

	target := *change
	if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
		if !rec.ScheduledPlanChange.HasSchedule(sched.ID) {
			return
		}
		rec.Plan = target.NewPlan
		rec.ScheduledPlanChange = nil
	}); err != nil {
		return err
	}

	s.log.Infow("scheduled plan change completed",
		"event_id", event.ID,
		"user_id", profile.UserID,
		"schedule_id", sched.ID,
		"plan", target.NewPlan)
	return nil
}
