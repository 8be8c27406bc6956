package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/catalog"
	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	starterID   = "price_starter"
	plusID      = "price_plus"
	familyProID = "price_family_pro"

	testUserID     = "user-1"
	testSubID      = "sub_123"
	testCustomerID = "cus_123"
	testItemID     = "si_1"
)

var (
	testNow       = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	testPeriodEnd = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
)

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*models.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

type fakeProfiles struct {
	mu        sync.Mutex
	profiles  map[string]*models.Profile
	writes    int
	conflicts int
}

func (f *fakeProfiles) copyOf(p *models.Profile) *models.Profile {
	cp := *p
	if c := p.Subscription.ScheduledPlanChange; c != nil {
		change := *c
		cp.Subscription.ScheduledPlanChange = &change
	}
	return &cp
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	return f.copyOf(p), nil
}

func (f *fakeProfiles) find(match func(*models.Profile) bool) *models.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if match(p) {
			return f.copyOf(p)
		}
	}
	return nil
}

func (f *fakeProfiles) FindByCustomerID(_ context.Context, customerID string) (*models.Profile, error) {
	return f.find(func(p *models.Profile) bool { return p.Subscription.CustomerID == customerID }), nil
}

func (f *fakeProfiles) FindBySubscriptionID(_ context.Context, subscriptionID string) (*models.Profile, error) {
	return f.find(func(p *models.Profile) bool { return p.Subscription.SubscriptionID == subscriptionID }), nil
}

func (f *fakeProfiles) UpdateSubscription(_ context.Context, userID string, expectedVersion int64, rec models.SubscriptionRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return 0, ierr.NewError("no profile").Mark(ierr.ErrNotFound)
	}
	if f.conflicts > 0 {
		// simulate a concurrent writer winning the race
		f.conflicts--
		p.Version++
	}
	if p.Version != expectedVersion {
		return 0, ierr.NewError("stale profile version").Mark(ierr.ErrVersionConflict)
	}
	p.Subscription = rec
	p.Version++
	f.writes++
	return p.Version, nil
}

func (f *fakeProfiles) ListPendingScheduledChanges(_ context.Context, limit int) ([]models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Profile
	for _, p := range f.profiles {
		if p.Subscription.ScheduledPlanChange.PendingReconciliation() && len(out) < limit {
			out = append(out, *f.copyOf(p))
		}
	}
	return out, nil
}

func (f *fakeProfiles) get(t *testing.T, userID string) models.Profile {
	t.Helper()
	p, err := f.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return *p
}

type priceChange struct {
	SubscriptionID string
	ItemID         string
	PriceID        string
	Prorate        bool
}

type fakeBilling struct {
	sub         *models.BillingSubscription
	getErr      error
	changeErr   error
	cancelErr   error
	scheduleErr error
	releaseErr  error
	scheduleID  string
	products    map[string]string

	changes   []priceChange
	cancels   []bool
	schedules []models.ScheduleRequest
	released  []string
}

func (f *fakeBilling) GetSubscription(_ context.Context, subscriptionID string) (*models.BillingSubscription, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.sub == nil || f.sub.ID != subscriptionID {
		return nil, ierr.NewError("no such subscription").Mark(ierr.ErrNotFound)
	}
	cp := *f.sub
	cp.Items = append([]models.BillingItem(nil), f.sub.Items...)
	return &cp, nil
}

func (f *fakeBilling) ChangePrice(_ context.Context, subscriptionID, itemID, priceID string, prorate bool) (*models.BillingSubscription, error) {
	if f.changeErr != nil {
		return nil, f.changeErr
	}
	f.changes = append(f.changes, priceChange{subscriptionID, itemID, priceID, prorate})
	f.sub.Items[0].PriceID = priceID
	f.sub.CancelAtPeriodEnd = false
	f.sub.Status = "active"
	return f.GetSubscription(context.Background(), subscriptionID)
}

func (f *fakeBilling) SetCancelAtPeriodEnd(_ context.Context, subscriptionID string, cancel bool) (*models.BillingSubscription, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancels = append(f.cancels, cancel)
	f.sub.CancelAtPeriodEnd = cancel
	return f.GetSubscription(context.Background(), subscriptionID)
}

func (f *fakeBilling) CreateDowngradeSchedule(_ context.Context, req models.ScheduleRequest) (string, error) {
	if f.scheduleErr != nil {
		return "", f.scheduleErr
	}
	f.schedules = append(f.schedules, req)
	return f.scheduleID, nil
}

func (f *fakeBilling) ReleaseSchedule(_ context.Context, scheduleID string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = append(f.released, scheduleID)
	return nil
}

func (f *fakeBilling) ProductName(_ context.Context, productID string) (string, error) {
	name, ok := f.products[productID]
	if !ok {
		return "", errors.New("product lookup failed")
	}
	return name, nil
}

type fakeQueue struct {
	jobs []*models.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job *models.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) types() []string {
	out := make([]string, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.JobType)
	}
	return out
}

type harness struct {
	svc      *Service
	users    *fakeUsers
	profiles *fakeProfiles
	billing  *fakeBilling
	queue    *fakeQueue
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		catalog.PlanDescriptor{PlanID: starterID, Name: "Starter", Level: 1, Price: decimal.RequireFromString("4.99")},
		catalog.PlanDescriptor{PlanID: plusID, Name: "Plus", Level: 2, Price: decimal.RequireFromString("6.99")},
		catalog.PlanDescriptor{PlanID: familyProID, Name: "Family Pro", Level: 3, Price: decimal.RequireFromString("14.99")},
	)
	require.NoError(t, err)
	return cat
}

func liveSubscription(priceID string) *models.BillingSubscription {
	return &models.BillingSubscription{
		ID:                 testSubID,
		CustomerID:         testCustomerID,
		Status:             "active",
		Created:            time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		CurrentPeriodEnd:   testPeriodEnd,
		Items: []models.BillingItem{{
			ID:         testItemID,
			PriceID:    priceID,
			ProductID:  "prod_" + priceID,
			UnitAmount: 699,
			Currency:   "usd",
			Interval:   "month",
		}},
	}
}

func subscribedProfile(plan string) *models.Profile {
	return &models.Profile{
		UserID: testUserID,
		Subscription: models.SubscriptionRecord{
			SubscriptionID: testSubID,
			CustomerID:     testCustomerID,
			Plan:           plan,
			Status:         "active",
		},
		Version: 1,
	}
}

// newHarness wires a Service with one verified user subscribed on priceID.
func newHarness(t *testing.T, priceID, planName string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		users: &fakeUsers{users: map[string]*models.User{
			testUserID: {ID: testUserID, Email: "user@example.com", EmailVerified: true},
		}},
		profiles: &fakeProfiles{profiles: map[string]*models.Profile{
			testUserID: subscribedProfile(planName),
		}},
		billing: &fakeBilling{sub: liveSubscription(priceID), scheduleID: "sub_sched_1", products: map[string]string{}},
		queue:   &fakeQueue{},
	}

	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithJobQueue(h.queue),
		WithWriteBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}
	h.svc = New(h.users, h.profiles, h.billing, testCatalog(t), logger.NewNop(), append(base, opts...)...)
	return h
}

func (h *harness) setChange(change *models.ScheduledPlanChange) {
	h.profiles.profiles[testUserID].Subscription.ScheduledPlanChange = change
}

func strPtr(s string) *string { return &s }
