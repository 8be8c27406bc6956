package models

import "time"

// EventKind is the closed set of billing events the reconciler understands.
type EventKind string

const (
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventScheduleUpdated     EventKind = "schedule_updated"
	EventScheduleCompleted   EventKind = "schedule_completed"
	EventUnknown             EventKind = "unknown"
)

// BillingSubscription is a provider-neutral snapshot of a live subscription.
// Zero times mean the provider omitted the value.
type BillingSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Created            time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	Items              []BillingItem
}

// BillingItem is one line item of a subscription.
type BillingItem struct {
	ID          string
	PriceID     string
	ProductID   string
	ProductName string
	UnitAmount  int64
	Currency    string
	Interval    string
}

// PrimaryItem returns the first line item, which carries the plan price.
func (s *BillingSubscription) PrimaryItem() (BillingItem, bool) {
	if s == nil || len(s.Items) == 0 {
		return BillingItem{}, false
	}
	return s.Items[0], true
}

// BillingSchedule is a provider-neutral snapshot of a subscription schedule.
type BillingSchedule struct {
	ID             string
	SubscriptionID string
	Status         string
}

// BillingEvent is a verified webhook event normalized for reconciliation.
type BillingEvent struct {
	ID           string
	Type         string
	Kind         EventKind
	Subscription *BillingSubscription
	Schedule     *BillingSchedule
}

// ScheduleRequest describes a deferred plan change to be applied by the provider.
type ScheduleRequest struct {
	SubscriptionID string
	CurrentPriceID string
	NewPriceID     string
	EffectiveDate  time.Time
}
