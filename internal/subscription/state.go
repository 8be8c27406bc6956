package subscription

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

const (
	defaultCurrency = "usd"
	defaultInterval = "month"
)

// State is the subscription view served to the account page. Subscription and Plan are
// nil for a user without a subscription.
type State struct {
	Subscription    *SubscriptionState `json:"subscription"`
	Plan            *PlanState         `json:"plan"`
	HasSubscription bool               `json:"hasSubscription"`
}

// SubscriptionState mirrors the live subscription. Times are unix seconds.
type SubscriptionState struct {
	ID                  string                      `json:"id"`
	Status              string                      `json:"status"`
	CurrentPeriodStart  int64                       `json:"current_period_start"`
	CurrentPeriodEnd    int64                       `json:"current_period_end"`
	CancelAtPeriodEnd   bool                        `json:"cancel_at_period_end"`
	CanceledAt          *int64                      `json:"canceled_at"`
	Created             int64                       `json:"created"`
	ScheduledPlanChange *models.ScheduledPlanChange `json:"scheduled_plan_change"`
}

// PlanState describes the current price. Amount is in major currency units.
type PlanState struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Interval string  `json:"interval"`
}

// GetState reads the live subscription and merges in the locally recorded scheduled change.
func (s *Service) GetState(ctx context.Context, userID string) (*State, error) {
	if userID == "" {
		return nil, missingField("Missing uid")
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userNotFound()
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil || !profile.Subscription.HasSubscription() {
		return &State{}, nil
	}

	live, err := s.billing.GetSubscription(ctx, profile.Subscription.SubscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	start := live.CurrentPeriodStart
	if start.IsZero() {
		start = live.Created
	}
	if start.IsZero() {
		start = now
	}
	created := live.Created
	if created.IsZero() {
		created = start
	}

	state := &State{
		HasSubscription: true,
		Subscription: &SubscriptionState{
			ID:                  live.ID,
			Status:              live.Status,
			CurrentPeriodStart:  start.Unix(),
			CurrentPeriodEnd:    EffectivePeriodEnd(live, now).Unix(),
			CancelAtPeriodEnd:   live.CancelAtPeriodEnd,
			CanceledAt:          unixPtr(live.CanceledAt),
			Created:             created.Unix(),
			ScheduledPlanChange: profile.Subscription.ScheduledPlanChange,
		},
	}

	if item, ok := live.PrimaryItem(); ok {
		name, _, err := s.planName(ctx, live)
		if err != nil {
			s.log.Warnw("plan name lookup failed", "user_id", userID, "product_id", item.ProductID, "error", err)
			name = profile.Subscription.Plan
		}
		if name == "" {
			name = unknownPlanName
		}
		state.Plan = &PlanState{
			Name:     name,
			Amount:   decimal.New(item.UnitAmount, -2).InexactFloat64(),
			Currency: orDefault(item.Currency, defaultCurrency),
			Interval: orDefault(item.Interval, defaultInterval),
		}
	}

	return state, nil
}

func unixPtr(t *time.Time) *int64 {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Unix()
	return &v
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
