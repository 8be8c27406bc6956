// Package subscription implements plan changes, renewal actions, and webhook reconciliation
// for tiered subscriptions billed through an external provider.
package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/catalog"
	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

// IdentityStore resolves callers to known users.
type IdentityStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// ProfileStore persists the cached subscription view. Get and Find methods return nil when
// nothing matches. UpdateSubscription fails with ErrVersionConflict on a stale version.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	FindByCustomerID(ctx context.Context, customerID string) (*models.Profile, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error)
	UpdateSubscription(ctx context.Context, userID string, expectedVersion int64, rec models.SubscriptionRecord) (int64, error)
	ListPendingScheduledChanges(ctx context.Context, limit int) ([]models.Profile, error)
}

// BillingProvider is the authoritative subscription service. ChangePrice and
// SetCancelAtPeriodEnd detach any schedule governing the subscription.
type BillingProvider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*models.BillingSubscription, error)
	ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string, prorate bool) (*models.BillingSubscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*models.BillingSubscription, error)
	CreateDowngradeSchedule(ctx context.Context, req models.ScheduleRequest) (string, error)
	ReleaseSchedule(ctx context.Context, scheduleID string) error
	ProductName(ctx context.Context, productID string) (string, error)
}

// JobQueue accepts background reconciliation work.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

const (
	unknownPlanName  = "Unknown Plan"
	periodFallback   = 30 * 24 * time.Hour
	maxWriteAttempts = 5
	jobMaxAttempts   = 8
	sweepBatchSize   = 100
)

// Service coordinates the billing provider and the profile store.
type Service struct {
	users     IdentityStore
	profiles  ProfileStore
	billing   BillingProvider
	catalog   *catalog.Catalog
	downgrade DowngradePolicy
	jobs      JobQueue
	now       func() time.Time
	backOff   func() backoff.BackOff
	verifyExc map[string]struct{}
	log       *logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithDowngradePolicy selects how moves to a lower tier are handled.
func WithDowngradePolicy(p DowngradePolicy) Option {
	return func(s *Service) { s.downgrade = p }
}

// WithJobQueue enables background follow-up for deferred provider work.
func WithJobQueue(q JobQueue) Option {
	return func(s *Service) { s.jobs = q }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWriteBackOff overrides the retry policy for conflicting profile writes.
func WithWriteBackOff(f func() backoff.BackOff) Option {
	return func(s *Service) { s.backOff = f }
}

// WithEmailVerificationExceptions lets the listed addresses pass the access gate unverified.
func WithEmailVerificationExceptions(emails []string) Option {
	return func(s *Service) {
		for _, e := range emails {
			s.verifyExc[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
		}
	}
}

// New builds a Service. The catalog is used read-only.
func New(users IdentityStore, profiles ProfileStore, billing BillingProvider, cat *catalog.Catalog, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		users:     users,
		profiles:  profiles,
		billing:   billing,
		catalog:   cat,
		downgrade: ScheduleDowngrades,
		now:       time.Now,
		backOff:   defaultBackOff,
		verifyExc: make(map[string]struct{}),
		log:       log.Named("subscription"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 5 * time.Second
	return b
}

// EffectivePeriodEnd returns the end of the current billing period. When the provider
// omitted it, the fallback is creation time plus 30 days, or now plus 30 days.
func EffectivePeriodEnd(sub *models.BillingSubscription, now time.Time) time.Time {
	if sub != nil && !sub.CurrentPeriodEnd.IsZero() {
		return sub.CurrentPeriodEnd
	}
	if sub != nil && !sub.Created.IsZero() {
		return sub.Created.Add(periodFallback)
	}
	return now.UTC().Add(periodFallback)
}

// loadProfile checks the caller resolves to a user with a profile.
func (s *Service) loadProfile(ctx context.Context, userID string) (*models.Profile, error) {
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
	if profile == nil {
		return nil, profileNotFound()
	}

	return profile, nil
}

// loadSubscribed additionally requires the profile to be linked to a subscription.
func (s *Service) loadSubscribed(ctx context.Context, userID string) (*models.Profile, error) {
	profile, err := s.loadProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !profile.Subscription.HasSubscription() {
		return nil, noSubscription()
	}
	return profile, nil
}

// updateRecord applies mutate to the profile's subscription record and writes it with a
// version check. On conflict the profile is re-read and mutate re-applied, so mutate must
// only overwrite fields. A mutation that changes nothing is not written.
func (s *Service) updateRecord(ctx context.Context, profile *models.Profile, mutate func(*models.SubscriptionRecord)) (*models.Profile, error) {
	current := profile

	op := func() error {
		rec := current.Subscription
		mutate(&rec)
		if sameRecord(current.Subscription, rec) {
			return nil
		}
		rec.UpdatedAt = s.now().UTC()

		version, err := s.profiles.UpdateSubscription(ctx, current.UserID, current.Version, rec)
		if err == nil {
			current = &models.Profile{UserID: current.UserID, Subscription: rec, Version: version}
			return nil
		}
		if !ierr.IsVersionConflict(err) {
			return backoff.Permanent(err)
		}

		s.log.Infow("profile changed concurrently, retrying write", "user_id", current.UserID, "version", current.Version)
		fresh, gerr := s.profiles.GetProfile(ctx, current.UserID)
		if gerr != nil {
			return backoff.Permanent(gerr)
		}
		if fresh == nil {
			return backoff.Permanent(profileNotFound())
		}
		current = fresh
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.backOff(), maxWriteAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ierr.IsVersionConflict(err) {
			return nil, ierr.WithError(err).
				WithHint("Your subscription was updated at the same time by another request. Please retry.").
				Mark(ierr.ErrVersionConflict)
		}
		return nil, err
	}

	return current, nil
}

func sameRecord(a, b models.SubscriptionRecord) bool {
	return a.SubscriptionID == b.SubscriptionID &&
		a.CustomerID == b.CustomerID &&
		a.Plan == b.Plan &&
		a.Status == b.Status &&
		a.CancelAtPeriodEnd == b.CancelAtPeriodEnd &&
		sameTime(a.CanceledAt, b.CanceledAt) &&
		sameChange(a.ScheduledPlanChange, b.ScheduledPlanChange)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameChange(a, b *models.ScheduledPlanChange) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.NewPlan == b.NewPlan &&
		a.NewPriceID == b.NewPriceID &&
		a.EffectiveDate.Equal(b.EffectiveDate) &&
		scheduleIDOf(a) == scheduleIDOf(b)
}

func scheduleIDOf(c *models.ScheduledPlanChange) string {
	if c == nil || c.ScheduleID == nil {
		return ""
	}
	return *c.ScheduleID
}

// enqueue hands work to the job queue. Failures are logged; the reconcile sweep finds any
// pending change that was not queued.
func (s *Service) enqueue(ctx context.Context, job *models.Job) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		s.log.Warnw("failed to enqueue reconciliation job", "job_type", job.JobType, "payload", job.Payload, "error", err)
	}
}

func (s *Service) enqueueScheduleDowngrade(ctx context.Context, userID string) {
	s.enqueue(ctx, models.NewJob(
		models.JobTypeScheduleDowngrade,
		fmt.Sprintf("%s:%s", models.JobTypeScheduleDowngrade, userID),
		models.JSONB{models.JobPayloadUserID: userID},
		jobMaxAttempts,
	))
}

// enqueueRelease schedules the provider schedule behind a cleared change for release.
func (s *Service) enqueueRelease(ctx context.Context, cleared *models.ScheduledPlanChange) {
	id := scheduleIDOf(cleared)
	if id == "" {
		return
	}
	s.enqueue(ctx, models.NewJob(
		models.JobTypeReleaseSchedule,
		fmt.Sprintf("%s:%s", models.JobTypeReleaseSchedule, id),
		models.JSONB{models.JobPayloadScheduleID: id},
		jobMaxAttempts,
	))
}
