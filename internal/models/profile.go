package models

import "time"

// Profile is the per-user record holding the cached subscription view.
// Version increments on every write and guards concurrent updates.
type Profile struct {
	UserID       string             `json:"user_id"`
	Subscription SubscriptionRecord `json:"subscription"`
	Version      int64              `json:"version"`
}

// SubscriptionRecord caches the provider's subscription state for one user.
type SubscriptionRecord struct {
	SubscriptionID      string               `json:"subscriptionId,omitempty"`
	CustomerID          string               `json:"customerId,omitempty"`
	Plan                string               `json:"plan,omitempty"`
	Status              string               `json:"status,omitempty"`
	CancelAtPeriodEnd   bool                 `json:"cancelAtPeriodEnd"`
	CanceledAt          *time.Time           `json:"canceledAt,omitempty"`
	ScheduledPlanChange *ScheduledPlanChange `json:"scheduledPlanChange,omitempty"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// HasSubscription reports whether the record is linked to a provider subscription.
func (r SubscriptionRecord) HasSubscription() bool {
	return r.SubscriptionID != ""
}

// ScheduledPlanChange records a downgrade that takes effect at EffectiveDate.
// A nil ScheduleID marks a change still waiting for a provider schedule.
type ScheduledPlanChange struct {
	NewPlan       string    `json:"new_plan"`
	NewPriceID    string    `json:"new_price_id"`
	EffectiveDate time.Time `json:"effective_date"`
	ScheduleID    *string   `json:"stripe_schedule_id"`
}

// PendingReconciliation reports whether the change still needs a provider schedule.
func (c *ScheduledPlanChange) PendingReconciliation() bool {
	return c != nil && (c.ScheduleID == nil || *c.ScheduleID == "")
}

// HasSchedule reports whether the change is backed by the given provider schedule.
func (c *ScheduledPlanChange) HasSchedule(scheduleID string) bool {
	return c != nil && c.ScheduleID != nil && scheduleID != "" && *c.ScheduleID == scheduleID
}
