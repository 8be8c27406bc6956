package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

const defaultPageSize = 200

const profileColumns = `
  user_id,
  COALESCE(subscription_id, ''),
  COALESCE(customer_id, ''),
  COALESCE(plan, ''),
  COALESCE(status, ''),
  cancel_at_period_end,
  canceled_at,
  scheduled_new_plan,
  scheduled_new_price_id,
  scheduled_effective_date,
  scheduled_schedule_id,
  version,
  updated_at`

// Store provides database-backed accessors for users and their subscription profiles.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// GetUser returns the user with the given id, or nil when none exists.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	const query = `
SELECT id, email, email_verified, created_at, updated_at
FROM users
WHERE id = $1
`

	var u models.User
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Email, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get user", err)
	}

	return &u, nil
}

// GetProfile returns the profile for a user, or nil when none exists.
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	query := `SELECT` + profileColumns + `
FROM profiles
WHERE user_id = $1
`

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("get profile", err)
	}

	return p, nil
}

// FindByCustomerID returns the first profile linked to a billing customer, or nil.
func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	return s.findOne(ctx, "customer_id", customerID)
}

// FindBySubscriptionID returns the first profile linked to a billing subscription, or nil.
func (s *Store) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error) {
	return s.findOne(ctx, "subscription_id", subscriptionID)
}

// column is always one of the two indexed identifiers above
func (s *Store) findOne(ctx context.Context, column, value string) (*models.Profile, error) {
	if value == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT`+profileColumns+`
FROM profiles
WHERE %s = $1
ORDER BY updated_at ASC
LIMIT 1
`, column)

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("find profile by "+column, err)
	}

	return p, nil
}

// UpdateSubscription overwrites the subscription fields of a profile if its version still
// equals expectedVersion, and returns the new version. A stale version yields an error
// marked ErrVersionConflict.
func (s *Store) UpdateSubscription(ctx context.Context, userID string, expectedVersion int64, rec models.SubscriptionRecord) (int64, error) {
	const query = `
UPDATE profiles
SET subscription_id = NULLIF($3, ''),
    customer_id = NULLIF($4, ''),
    plan = NULLIF($5, ''),
    status = NULLIF($6, ''),
    cancel_at_period_end = $7,
    canceled_at = $8,
    scheduled_new_plan = $9,
    scheduled_new_price_id = $10,
    scheduled_effective_date = $11,
    scheduled_schedule_id = $12,
    updated_at = $13,
    version = version + 1
WHERE user_id = $1 AND version = $2
RETURNING version
`

	var (
		newPlan, newPriceID, scheduleID sql.NullString
		effectiveDate                   sql.NullTime
		canceledAt                      sql.NullTime
	)
	if rec.CanceledAt != nil {
		canceledAt = sql.NullTime{Time: *rec.CanceledAt, Valid: true}
	}
	if change := rec.ScheduledPlanChange; change != nil {
		newPlan = sql.NullString{String: change.NewPlan, Valid: true}
		newPriceID = sql.NullString{String: change.NewPriceID, Valid: true}
		effectiveDate = sql.NullTime{Time: change.EffectiveDate, Valid: true}
		if change.ScheduleID != nil && *change.ScheduleID != "" {
			scheduleID = sql.NullString{String: *change.ScheduleID, Valid: true}
		}
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	var version int64
	err := s.db.QueryRowContext(ctx, query,
		userID,
		expectedVersion,
		rec.SubscriptionID,
		rec.CustomerID,
		rec.Plan,
		rec.Status,
		rec.CancelAtPeriodEnd,
		canceledAt,
		newPlan,
		newPriceID,
		effectiveDate,
		scheduleID,
		updatedAt,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ierr.NewError("store: update subscription: stale profile version").
			WithReportableDetails(map[string]any{"userId": userID, "expectedVersion": expectedVersion}).
			Mark(ierr.ErrVersionConflict)
	}
	if err != nil {
		return 0, dbError("update subscription", err)
	}

	return version, nil
}

// ListPendingScheduledChanges returns profiles holding a scheduled change that has no
// provider schedule yet, oldest effective date first.
func (s *Store) ListPendingScheduledChanges(ctx context.Context, limit int) ([]models.Profile, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	query := `SELECT` + profileColumns + `
FROM profiles
WHERE scheduled_new_price_id IS NOT NULL
  AND scheduled_schedule_id IS NULL
ORDER BY scheduled_effective_date ASC
LIMIT $1
`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, dbError("list pending scheduled changes", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, dbError("scan profile", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate profiles", err)
	}

	return profiles, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p                               models.Profile
		canceledAt, effectiveDate       sql.NullTime
		newPlan, newPriceID, scheduleID sql.NullString
	)

	err := row.Scan(
		&p.UserID,
		&p.Subscription.SubscriptionID,
		&p.Subscription.CustomerID,
		&p.Subscription.Plan,
		&p.Subscription.Status,
		&p.Subscription.CancelAtPeriodEnd,
		&canceledAt,
		&newPlan,
		&newPriceID,
		&effectiveDate,
		&scheduleID,
		&p.Version,
		&p.Subscription.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if canceledAt.Valid {
		t := canceledAt.Time
		p.Subscription.CanceledAt = &t
	}
	if newPriceID.Valid {
		change := &models.ScheduledPlanChange{
			NewPlan:       newPlan.String,
			NewPriceID:    newPriceID.String,
			EffectiveDate: effectiveDate.Time,
		}
		if scheduleID.Valid && scheduleID.String != "" {
			id := scheduleID.String
			change.ScheduleID = &id
		}
		p.Subscription.ScheduledPlanChange = change
	}

	return &p, nil
}

func dbError(op string, err error) error {
	return ierr.WithError(fmt.Errorf("store: %s: %w", op, err)).Mark(ierr.ErrDatabase)
}
