package subscription

import (
	"context"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

// ReconcileScheduledChange finishes a downgrade recorded without a provider schedule. It is
// a no-op once the marker is gone or already backed by a schedule. A marker whose effective
// date has passed is applied directly without proration; the subscription webhook then
// clears it.
func (s *Service) ReconcileScheduledChange(ctx context.Context, userID string) error {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if profile == nil || !profile.Subscription.HasSubscription() {
		return nil
	}
	marker := profile.Subscription.ScheduledPlanChange
	if !marker.PendingReconciliation() {
		return nil
	}

	live, err := s.billing.GetSubscription(ctx, profile.Subscription.SubscriptionID)
	if err != nil {
		return err
	}
	item, ok := live.PrimaryItem()
	if !ok || item.PriceID == "" {
		return noCurrentPlan()
	}

	if !s.now().Before(marker.EffectiveDate) {
		return s.applyOverdueChange(ctx, profile, live, item, *marker)
	}

	scheduleID, err := s.billing.CreateDowngradeSchedule(ctx, models.ScheduleRequest{
		SubscriptionID: live.ID,
		CurrentPriceID: item.PriceID,
		NewPriceID:     marker.NewPriceID,
		EffectiveDate:  marker.EffectiveDate,
	})
	if err != nil {
		return err
	}

	attached := false
	if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
		attached = false
		if !sameMarker(rec.ScheduledPlanChange, marker) {
			return
		}
		change := *rec.ScheduledPlanChange
		change.ScheduleID = &scheduleID
		rec.ScheduledPlanChange = &change
		attached = true
	}); err != nil {
		return err
	}

	if !attached {
		s.log.Infow("marker superseded while scheduling, releasing new schedule",
			"user_id", userID, "schedule_id", scheduleID)
		s.enqueueRelease(ctx, &models.ScheduledPlanChange{ScheduleID: &scheduleID})
		return nil
	}

	s.log.Infow("pending downgrade scheduled",
		"user_id", userID, "schedule_id", scheduleID, "new_plan", marker.NewPlan, "effective_date", marker.EffectiveDate)
	return nil
}

func (s *Service) applyOverdueChange(ctx context.Context, profile *models.Profile, live *models.BillingSubscription, item models.BillingItem, marker models.ScheduledPlanChange) error {
	if item.PriceID == marker.NewPriceID {
		// Already switched; the webhook may have been lost.
		_, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
			if !sameMarker(rec.ScheduledPlanChange, &marker) {
				return
			}
			rec.Plan = marker.NewPlan
			rec.ScheduledPlanChange = nil
		})
		return err
	}

	if _, err := s.billing.ChangePrice(ctx, live.ID, item.ID, marker.NewPriceID, false); err != nil {
		return err
	}
	s.log.Infow("overdue downgrade applied",
		"user_id", profile.UserID, "subscription_id", live.ID, "new_plan", marker.NewPlan)
	return nil
}

// ReleaseSchedule detaches a provider schedule no profile depends on anymore.
func (s *Service) ReleaseSchedule(ctx context.Context, scheduleID string) error {
	if scheduleID == "" {
		return missingField("Missing schedule id")
	}
	if err := s.billing.ReleaseSchedule(ctx, scheduleID); err != nil {
		return err
	}
	s.log.Infow("schedule released", "schedule_id", scheduleID)
	return nil
}

// SweepPendingChanges queues a scheduling attempt for every marker without a schedule and
// returns how many were found.
func (s *Service) SweepPendingChanges(ctx context.Context) (int, error) {
	pending, err := s.profiles.ListPendingScheduledChanges(ctx, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	for _, p := range pending {
		s.enqueueScheduleDowngrade(ctx, p.UserID)
	}
	if len(pending) > 0 {
		s.log.Infow("reconcile sweep queued pending downgrades", "count", len(pending))
	}
	return len(pending), nil
}

// sameMarker reports whether cur is still the unscheduled change want.
func sameMarker(cur, want *models.ScheduledPlanChange) bool {
	return cur.PendingReconciliation() &&
		cur.NewPriceID == want.NewPriceID &&
		cur.EffectiveDate.Equal(want.EffectiveDate)
}
