package stripe

import (
	"context"
	"time"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
	stripeapi "github.com/stripe/stripe-go/v82"
)

// CreateDowngradeSchedule attaches a two-phase schedule to the subscription: the current
// price until req.EffectiveDate, then the new price with no end. A schedule already attached
// to the subscription is reused. Returns the schedule id.
func (c *Client) CreateDowngradeSchedule(ctx context.Context, req models.ScheduleRequest) (string, error) {
	schedule, created, err := c.attachSchedule(ctx, req.SubscriptionID)
	if err != nil {
		return "", err
	}

	phaseStart := currentPhaseStart(schedule)
	params := &stripeapi.SubscriptionScheduleUpdateParams{
		EndBehavior: stripeapi.String("release"),
		Phases: []*stripeapi.SubscriptionScheduleUpdatePhaseParams{
			{
				Items: []*stripeapi.SubscriptionScheduleUpdatePhaseItemParams{
					{Price: stripeapi.String(req.CurrentPriceID), Quantity: stripeapi.Int64(1)},
				},
				StartDate: stripeapi.Int64(phaseStart),
				EndDate:   stripeapi.Int64(req.EffectiveDate.Unix()),
			},
			{
				Items: []*stripeapi.SubscriptionScheduleUpdatePhaseItemParams{
					{Price: stripeapi.String(req.NewPriceID), Quantity: stripeapi.Int64(1)},
				},
			},
		},
	}

	_, err = execute(c, "update subscription schedule phases", func() (*stripeapi.SubscriptionSchedule, error) {
		return c.api.V1SubscriptionSchedules.Update(ctx, schedule.ID, params)
	})
	if err != nil {
		if created {
			if rerr := c.ReleaseSchedule(ctx, schedule.ID); rerr != nil {
				c.log.Errorw("failed to release schedule after phase update error",
					"schedule_id", schedule.ID, "error", rerr)
			}
		}
		return "", err
	}

	c.log.Infow("downgrade scheduled",
		"subscription_id", req.SubscriptionID,
		"schedule_id", schedule.ID,
		"new_price_id", req.NewPriceID,
		"effective_date", req.EffectiveDate.Format(time.RFC3339))

	return schedule.ID, nil
}

// attachSchedule returns the schedule governing the subscription, creating one from the
// subscription when none exists.
func (c *Client) attachSchedule(ctx context.Context, subscriptionID string) (*stripeapi.SubscriptionSchedule, bool, error) {
	sub, err := execute(c, "retrieve subscription", func() (*stripeapi.Subscription, error) {
		return c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	})
	if err != nil {
		return nil, false, err
	}

	if sub.Schedule != nil && sub.Schedule.ID != "" {
		schedule, err := execute(c, "retrieve subscription schedule", func() (*stripeapi.SubscriptionSchedule, error) {
			return c.api.V1SubscriptionSchedules.Retrieve(ctx, sub.Schedule.ID, nil)
		})
		if err != nil {
			return nil, false, err
		}
		return schedule, false, nil
	}

	// phases cannot be sent together with from_subscription, so they are set by a follow-up update
	schedule, err := execute(c, "create subscription schedule", func() (*stripeapi.SubscriptionSchedule, error) {
		return c.api.V1SubscriptionSchedules.Create(ctx, &stripeapi.SubscriptionScheduleCreateParams{
			FromSubscription: stripeapi.String(subscriptionID),
		})
	})
	if err != nil {
		return nil, false, err
	}
	if schedule == nil || schedule.ID == "" {
		return nil, false, ierr.NewError("stripe: schedule created without id").Mark(ierr.ErrHTTPClient)
	}

	return schedule, true, nil
}

func currentPhaseStart(schedule *stripeapi.SubscriptionSchedule) int64 {
	if schedule.CurrentPhase != nil && schedule.CurrentPhase.StartDate > 0 {
		return schedule.CurrentPhase.StartDate
	}
	if len(schedule.Phases) > 0 && schedule.Phases[0] != nil && schedule.Phases[0].StartDate > 0 {
		return schedule.Phases[0].StartDate
	}
	return time.Now().Unix()
}

// ReleaseSchedule detaches a schedule from its subscription, leaving the subscription on its
// current price. Releasing an already released or canceled schedule is not an error.
func (c *Client) ReleaseSchedule(ctx context.Context, scheduleID string) error {
	_, err := execute(c, "release subscription schedule", func() (*stripeapi.SubscriptionSchedule, error) {
		return c.api.V1SubscriptionSchedules.Release(ctx, scheduleID, &stripeapi.SubscriptionScheduleReleaseParams{})
	})
	if err != nil {
		if isRequestError(err) {
			c.log.Warnw("schedule not releasable, treating as released", "schedule_id", scheduleID, "error", err)
			return nil
		}
		return err
	}

	c.log.Infow("subscription schedule released", "schedule_id", scheduleID)
	return nil
}
