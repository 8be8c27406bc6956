package subscription

import (
	"errors"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
)

// Domain errors. Every error returned by Service wraps one of these, carries a user-facing
// hint, and is marked with an error class from internal/errors for status mapping.
var (
	ErrMissingField             = errors.New("missing required field")
	ErrUserNotFound             = errors.New("user not found")
	ErrProfileNotFound          = errors.New("profile not found")
	ErrNoSubscription           = errors.New("no subscription on profile")
	ErrNoCurrentPlan            = errors.New("current plan could not be determined")
	ErrAlreadyOnPlan            = errors.New("already on requested plan")
	ErrInvalidPlanConfiguration = errors.New("plan id missing from catalog")
	ErrInvalidAction            = errors.New("unsupported subscription action")
	ErrDowngradeNotAllowed      = errors.New("downgrades disabled")
)

const downgradeRejectedMessage = "Downgrades are not available. To switch to a lower plan, please cancel your current subscription and resubscribe after it expires."

func missingField(hint string) error {
	return ierr.WithError(ErrMissingField).WithHint(hint).Mark(ierr.ErrValidation)
}

func userNotFound() error {
	return ierr.WithError(ErrUserNotFound).WithHint("User not found").Mark(ierr.ErrNotFound)
}

func profileNotFound() error {
	return ierr.WithError(ErrProfileNotFound).WithHint("User profile not found").Mark(ierr.ErrNotFound)
}

func noSubscription() error {
	return ierr.WithError(ErrNoSubscription).WithHint("No active subscription found").Mark(ierr.ErrNotFound)
}

func noCurrentPlan() error {
	return ierr.WithError(ErrNoCurrentPlan).WithHint("Could not determine current plan").Mark(ierr.ErrNotFound)
}

func alreadyOnPlan() error {
	return ierr.WithError(ErrAlreadyOnPlan).WithHint("You are already on this plan").Mark(ierr.ErrInvalidOperation)
}

func invalidAction() error {
	return ierr.WithError(ErrInvalidAction).
		WithHint(`Invalid action. Use "cancel" or "reactivate"`).
		Mark(ierr.ErrInvalidOperation)
}

func downgradeRejected() error {
	return ierr.WithError(ErrDowngradeNotAllowed).WithHint(downgradeRejectedMessage).Mark(ierr.ErrInvalidOperation)
}
