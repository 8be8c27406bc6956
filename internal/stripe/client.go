// Package stripe adapts the Stripe API to the provider-neutral billing types used by the
// subscription core.
package stripe

import (
	"context"
	"time"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker/v2"
	stripeapi "github.com/stripe/stripe-go/v82"
)

const expandProduct = "items.data.price.product"

// BreakerConfig tunes the circuit breaker guarding provider calls.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the settings used in production.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Client wraps the Stripe SDK client.
type Client struct {
	api           *stripeapi.Client
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
	products      *cache.Cache
	log           *logger.Logger
}

// NewClient creates a Stripe client for the given API key and webhook signing secret.
func NewClient(secretKey, webhookSecret string, log *logger.Logger, breakerCfg BreakerConfig) *Client {
	c := &Client{
		api:           stripeapi.NewClient(secretKey, nil),
		webhookSecret: webhookSecret,
		products:      cache.New(time.Hour, 10*time.Minute),
		log:           log.Named("stripe"),
	}
	c.breaker = newBreaker(breakerCfg, c.log)
	return c
}

func newBreaker(cfg BreakerConfig, log *logger.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// request errors are the caller's fault, not a sign of provider trouble
		IsSuccessful: func(err error) bool {
			return err == nil || isRequestError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func isRequestError(err error) bool {
	var serr *stripeapi.Error
	if !ierr.As(err, &serr) {
		return false
	}
	return serr.HTTPStatusCode >= 400 && serr.HTTPStatusCode < 500 && serr.HTTPStatusCode != 429
}

// execute runs fn through the circuit breaker and classifies failures.
func execute[T any](c *Client, op string, fn func() (T, error)) (T, error) {
	var zero T

	res, err := c.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, classify(op, err)
	}

	out, ok := res.(T)
	if !ok {
		return zero, ierr.NewError("stripe: unexpected result type").WithMessage(op).Mark(ierr.ErrSystem)
	}
	return out, nil
}

func classify(op string, err error) error {
	if ierr.Is(err, gobreaker.ErrOpenState) || ierr.Is(err, gobreaker.ErrTooManyRequests) {
		return ierr.WithError(err).
			WithMessage("stripe: "+op).
			WithHint("The billing provider is temporarily unavailable. Please try again shortly.").
			Mark(ierr.ErrHTTPClient)
	}

	var serr *stripeapi.Error
	if ierr.As(err, &serr) && serr.HTTPStatusCode == 404 {
		return ierr.WithError(err).
			WithMessage("stripe: "+op).
			WithHint("Subscription not found at billing provider").
			Mark(ierr.ErrNotFound)
	}

	return ierr.WithError(err).WithMessage("stripe: " + op).Mark(ierr.ErrHTTPClient)
}

// GetSubscription fetches a live subscription with line items and products expanded.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*models.BillingSubscription, error) {
	params := &stripeapi.SubscriptionRetrieveParams{
		Expand: []*string{stripeapi.String(expandProduct)},
	}

	sub, err := execute(c, "retrieve subscription", func() (*stripeapi.Subscription, error) {
		return c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}

	return toSubscription(sub), nil
}

// ChangePrice swaps the price on a subscription item. With prorate the provider bills the
// delta on the next invoice; otherwise the switch is not prorated. Any pending cancellation
// is cleared and a schedule governing the subscription is released first.
func (c *Client) ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string, prorate bool) (*models.BillingSubscription, error) {
	if err := c.detachSchedule(ctx, subscriptionID); err != nil {
		return nil, err
	}

	proration := "none"
	if prorate {
		proration = "create_prorations"
	}

	params := &stripeapi.SubscriptionUpdateParams{
		Items: []*stripeapi.SubscriptionUpdateItemParams{
			{
				ID:    stripeapi.String(itemID),
				Price: stripeapi.String(priceID),
			},
		},
		ProrationBehavior: stripeapi.String(proration),
		CancelAtPeriodEnd: stripeapi.Bool(false),
	}
	params.AddExpand(expandProduct)

	sub, err := execute(c, "update subscription price", func() (*stripeapi.Subscription, error) {
		return c.api.V1Subscriptions.Update(ctx, subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}

	c.log.Infow("subscription price changed", "subscription_id", subscriptionID, "price_id", priceID, "proration", proration)
	return toSubscription(sub), nil
}

// SetCancelAtPeriodEnd toggles auto-renewal off (true) or back on (false). A schedule
// governing the subscription is released first.
func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*models.BillingSubscription, error) {
	if err := c.detachSchedule(ctx, subscriptionID); err != nil {
		return nil, err
	}

	params := &stripeapi.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripeapi.Bool(cancel),
	}
	params.AddExpand(expandProduct)

	sub, err := execute(c, "update cancel_at_period_end", func() (*stripeapi.Subscription, error) {
		return c.api.V1Subscriptions.Update(ctx, subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}

	c.log.Infow("subscription renewal updated", "subscription_id", subscriptionID, "cancel_at_period_end", cancel)
	return toSubscription(sub), nil
}

// detachSchedule releases the schedule attached to a subscription, if any. Stripe refuses
// direct cancellation and item updates on schedule-managed subscriptions.
func (c *Client) detachSchedule(ctx context.Context, subscriptionID string) error {
	sub, err := execute(c, "retrieve subscription", func() (*stripeapi.Subscription, error) {
		return c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	})
	if err != nil {
		return err
	}
	if sub.Schedule == nil || sub.Schedule.ID == "" {
		return nil
	}
	return c.ReleaseSchedule(ctx, sub.Schedule.ID)
}

// ProductName resolves a product's display name, cached for an hour.
func (c *Client) ProductName(ctx context.Context, productID string) (string, error) {
	if name, ok := c.products.Get(productID); ok {
		return name.(string), nil
	}

	product, err := execute(c, "retrieve product", func() (*stripeapi.Product, error) {
		return c.api.V1Products.Retrieve(ctx, productID, nil)
	})
	if err != nil {
		return "", err
	}

	c.products.Set(productID, product.Name, cache.DefaultExpiration)
	return product.Name, nil
}

func toSubscription(sub *stripeapi.Subscription) *models.BillingSubscription {
	if sub == nil {
		return nil
	}

	out := &models.BillingSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Created:           unixTime(sub.Created),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := unixTime(sub.CanceledAt)
		out.CanceledAt = &t
	}

	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			out.Items = append(out.Items, toItem(item))
		}
		// billing periods live on items since the 2025-03-31 API version
		if len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
			out.CurrentPeriodStart = unixTime(sub.Items.Data[0].CurrentPeriodStart)
			out.CurrentPeriodEnd = unixTime(sub.Items.Data[0].CurrentPeriodEnd)
		}
	}

	return out
}

func toItem(item *stripeapi.SubscriptionItem) models.BillingItem {
	out := models.BillingItem{ID: item.ID}

	price := item.Price
	if price == nil {
		return out
	}
	out.PriceID = price.ID
	out.UnitAmount = price.UnitAmount
	out.Currency = string(price.Currency)
	if price.Recurring != nil {
		out.Interval = string(price.Recurring.Interval)
	}
	if price.Product != nil {
		out.ProductID = price.Product.ID
		out.ProductName = price.Product.Name
	}

	return out
}

func unixTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
