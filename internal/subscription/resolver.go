package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/catalog"
	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

// ChangeResult reports the outcome of ChangePlan.
type ChangeResult struct {
	ChangeType    ChangeType
	Message       string
	CurrentPlan   string
	NewPlan       string
	EffectiveDate *time.Time
	ScheduleID    string
}

// ChangePlan moves the user's subscription to desiredPlanID. Selecting the current plan
// undoes a pending cancellation or scheduled change. A higher tier is applied immediately
// with proration. A lower tier is handled by the downgrade policy.
func (s *Service) ChangePlan(ctx context.Context, userID, desiredPlanID string) (*ChangeResult, error) {
	if userID == "" || desiredPlanID == "" {
		return nil, missingField("Missing uid or newPriceId")
	}

	profile, err := s.loadSubscribed(ctx, userID)
	if err != nil {
		return nil, err
	}

	live, err := s.billing.GetSubscription(ctx, profile.Subscription.SubscriptionID)
	if err != nil {
		return nil, err
	}
	item, ok := live.PrimaryItem()
	if !ok || item.PriceID == "" {
		return nil, noCurrentPlan()
	}

	if item.PriceID == desiredPlanID {
		return s.reselectCurrent(ctx, profile, live)
	}

	current, currentOK := s.catalog.Lookup(item.PriceID)
	desired, desiredOK := s.catalog.Lookup(desiredPlanID)
	if !currentOK || !desiredOK {
		return nil, s.configurationError(item.PriceID, desiredPlanID, current, desired, currentOK, desiredOK)
	}

	if desired.IsUpgradeFrom(current) {
		return s.upgrade(ctx, profile, live, item, current, desired)
	}

	switch s.downgrade {
	case RejectDowngrades:
		return nil, downgradeRejected()
	case ScheduleDowngrades:
		return s.scheduleDowngrade(ctx, profile, live, current, desired)
	default:
		return nil, ierr.NewError(fmt.Sprintf("subscription: unhandled downgrade policy %s", s.downgrade)).Mark(ierr.ErrSystem)
	}
}

func (s *Service) reselectCurrent(ctx context.Context, profile *models.Profile, live *models.BillingSubscription) (*ChangeResult, error) {
	cleared := profile.Subscription.ScheduledPlanChange

	switch {
	case live.CancelAtPeriodEnd:
		if _, err := s.billing.SetCancelAtPeriodEnd(ctx, live.ID, false); err != nil {
			return nil, err
		}
		if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
			rec.CancelAtPeriodEnd = false
			rec.CanceledAt = nil
			rec.ScheduledPlanChange = nil
		}); err != nil {
			return nil, err
		}
		s.log.Infow("subscription reactivated via plan reselect", "user_id", profile.UserID, "subscription_id", live.ID)
		return &ChangeResult{
			ChangeType: ChangeReactivate,
			Message:    "Your subscription has been reactivated!",
		}, nil

	case cleared != nil:
		if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
			rec.ScheduledPlanChange = nil
		}); err != nil {
			return nil, err
		}
		s.enqueueRelease(ctx, cleared)
		s.log.Infow("scheduled plan change cleared via plan reselect", "user_id", profile.UserID, "new_plan", cleared.NewPlan)
		return &ChangeResult{
			ChangeType: ChangeClearSchedule,
			Message:    "Cancelled scheduled plan change. You will remain on your current plan.",
		}, nil

	default:
		return nil, alreadyOnPlan()
	}
}

func (s *Service) upgrade(ctx context.Context, profile *models.Profile, live *models.BillingSubscription, item models.BillingItem, current, desired catalog.PlanDescriptor) (*ChangeResult, error) {
	updated, err := s.billing.ChangePrice(ctx, live.ID, item.ID, desired.PlanID, true)
	if err != nil {
		return nil, err
	}

	if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
		rec.Plan = desired.Name
		rec.CancelAtPeriodEnd = false
		rec.CanceledAt = nil
		rec.ScheduledPlanChange = nil
		if updated != nil && updated.Status != "" {
			rec.Status = updated.Status
		}
	}); err != nil {
		s.log.Errorw("upgrade applied at provider but profile write failed; webhook will reconcile",
			"user_id", profile.UserID, "subscription_id", live.ID, "error", err)
		return nil, err
	}

	s.log.Infow("subscription upgraded",
		"user_id", profile.UserID,
		"subscription_id", live.ID,
		"from", current.Name,
		"to", desired.Name)

	return &ChangeResult{
		ChangeType:  ChangeUpgrade,
		Message:     fmt.Sprintf("Upgraded to %s! You now have access to all premium features. Any prorated charges will appear on your next invoice.", desired.Name),
		CurrentPlan: current.Name,
		NewPlan:     desired.Name,
	}, nil
}

func (s *Service) scheduleDowngrade(ctx context.Context, profile *models.Profile, live *models.BillingSubscription, current, desired catalog.PlanDescriptor) (*ChangeResult, error) {
	effective := EffectivePeriodEnd(live, s.now())
	previous := profile.Subscription.ScheduledPlanChange

	change := &models.ScheduledPlanChange{
		NewPlan:       desired.Name,
		NewPriceID:    desired.PlanID,
		EffectiveDate: effective,
	}

	scheduleID, err := s.billing.CreateDowngradeSchedule(ctx, models.ScheduleRequest{
		SubscriptionID: live.ID,
		CurrentPriceID: current.PlanID,
		NewPriceID:     desired.PlanID,
		EffectiveDate:  effective,
	})
	if err != nil {
		s.log.Warnw("schedule creation failed, recording downgrade for reconciliation",
			"user_id", profile.UserID, "subscription_id", live.ID, "new_plan", desired.Name, "error", err)
	} else {
		change.ScheduleID = &scheduleID
	}

	if _, err := s.updateRecord(ctx, profile, func(rec *models.SubscriptionRecord) {
		rec.ScheduledPlanChange = change
		rec.CancelAtPeriodEnd = false
		rec.CanceledAt = nil
	}); err != nil {
		return nil, err
	}

	if prev := scheduleIDOf(previous); prev != "" && prev != scheduleIDOf(change) {
		s.enqueueRelease(ctx, previous)
	}

	result := &ChangeResult{
		ChangeType:    ChangeDowngrade,
		CurrentPlan:   current.Name,
		NewPlan:       desired.Name,
		EffectiveDate: &effective,
	}
	day := effective.Format("January 2, 2006")

	if change.PendingReconciliation() {
		s.enqueueScheduleDowngrade(ctx, profile.UserID)
		result.Message = fmt.Sprintf("Scheduled downgrade to %s! You'll keep your current %s features until %s, then automatically switch to %s.",
			desired.Name, current.Name, day, desired.Name)
		return result, nil
	}

	s.log.Infow("downgrade scheduled",
		"user_id", profile.UserID,
		"subscription_id", live.ID,
		"from", current.Name,
		"to", desired.Name,
		"schedule_id", scheduleID)

	result.ScheduleID = scheduleID
	result.Message = fmt.Sprintf("Scheduled downgrade to %s! Your plan will switch automatically on %s. You'll keep your current %s features until then.",
		desired.Name, day, current.Name)
	return result, nil
}

// configurationError reports a plan id the catalog does not know.
func (s *Service) configurationError(currentID, desiredID string, current, desired catalog.PlanDescriptor, currentOK, desiredOK bool) error {
	failed := "both"
	switch {
	case currentOK:
		failed = "newPriceId"
	case desiredOK:
		failed = "currentPriceId"
	}

	details := map[string]any{
		"currentPriceId": currentID,
		"newPriceId":     desiredID,
		"currentPlan":    nil,
		"newPlan":        nil,
		"failedLookup":   failed,
		"availablePlans": s.catalog.Summary(),
	}
	if currentOK {
		details["currentPlan"] = current.Name
	}
	if desiredOK {
		details["newPlan"] = desired.Name
	}

	s.log.Errorw("plan id not in catalog", "current_price_id", currentID, "new_price_id", desiredID, "failed_lookup", failed)

	return ierr.WithError(ErrInvalidPlanConfiguration).
		WithHint("Invalid plan configuration").
		WithReportableDetails(details).
		Mark(ierr.ErrConfiguration)
}
