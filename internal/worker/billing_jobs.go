package worker

import (
	"context"
	"fmt"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

// Reconciler performs the deferred billing work behind each job type.
type Reconciler interface {
	ReconcileScheduledChange(ctx context.Context, userID string) error
	ReleaseSchedule(ctx context.Context, scheduleID string) error
	SweepPendingChanges(ctx context.Context) (int, error)
}

// RegisterBillingJobs registers the plan-change reconciliation handlers.
func RegisterBillingJobs(w *Worker, r Reconciler) {
	w.RegisterHandler(models.JobTypeScheduleDowngrade, scheduleDowngradeHandler(r))
	w.RegisterHandler(models.JobTypeReleaseSchedule, releaseScheduleHandler(r))
	w.RegisterHandler(models.JobTypeReconcileSweep, reconcileSweepHandler(r))

	w.log.Infow("registered billing job handlers",
		"types", []string{models.JobTypeScheduleDowngrade, models.JobTypeReleaseSchedule, models.JobTypeReconcileSweep})
}

// scheduleDowngradeHandler retries provider schedule creation for a recorded downgrade
func scheduleDowngradeHandler(r Reconciler) Handler {
	return func(ctx context.Context, job *models.Job) error {
		userID, ok := job.Payload.String(models.JobPayloadUserID)
		if !ok {
			return fmt.Errorf("missing %s in payload", models.JobPayloadUserID)
		}
		return r.ReconcileScheduledChange(ctx, userID)
	}
}

// releaseScheduleHandler detaches a provider schedule left behind by a cleared change
func releaseScheduleHandler(r Reconciler) Handler {
	return func(ctx context.Context, job *models.Job) error {
		scheduleID, ok := job.Payload.String(models.JobPayloadScheduleID)
		if !ok {
			return fmt.Errorf("missing %s in payload", models.JobPayloadScheduleID)
		}
		return r.ReleaseSchedule(ctx, scheduleID)
	}
}

// reconcileSweepHandler queues follow-up for every downgrade still missing a schedule
func reconcileSweepHandler(r Reconciler) Handler {
	return func(ctx context.Context, job *models.Job) error {
		_, err := r.SweepPendingChanges(ctx)
		return err
	}
}
