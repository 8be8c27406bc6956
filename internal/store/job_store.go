package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
)

var (
	// ErrJobNotFound is returned when a job is not found in the database
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when a live job with the same dedupe key already exists
	ErrDuplicateJob = errors.New("job with dedupe key already queued")
)

const jobColumns = `id, job_type, payload, dedupe_key, status, priority, attempts, max_attempts,
		created_at, updated_at, last_error, retry_after, processed_at, completed_at, worker_id`

// JobStore persists the reconciliation job queue.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore instance
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &JobStore{db: db}, nil
}

// Enqueue inserts a pending job. When another pending or processing job carries the same
// dedupe key nothing is inserted and ErrDuplicateJob is returned.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	const query = `
		INSERT INTO jobs (job_type, payload, dedupe_key, status, priority, max_attempts)
		VALUES ($1, $2, $3, 'pending', $4, $5)
		ON CONFLICT (dedupe_key)
			WHERE dedupe_key IS NOT NULL AND status IN ('pending', 'processing')
			DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		job.JobType,
		job.Payload,
		job.DedupeKey,
		job.Priority,
		job.MaxAttempts,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateJob
	}
	if err != nil {
		return fmt.Errorf("store: enqueue job: %w", err)
	}

	job.Status = models.JobStatusPending
	return nil
}

// GetByID retrieves a job by its ID
func (s *JobStore) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}

	return job, nil
}

// ClaimNextJob atomically claims the next runnable job for a worker. It returns nil when
// the queue is empty.
func (s *JobStore) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'processing',
		    worker_id = $1,
		    processed_at = NOW(),
		    updated_at = NOW(),
		    attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND (retry_after IS NULL OR retry_after <= NOW())
			ORDER BY
				CASE priority WHEN 'high' THEN 3 WHEN 'normal' THEN 2 ELSE 1 END DESC,
				created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, workerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim next job: %w", err)
	}

	return job, nil
}

// MarkCompleted marks a job as successfully completed
func (s *JobStore) MarkCompleted(ctx context.Context, id int64) error {
	return s.transition(ctx, "mark job completed", `
		UPDATE jobs
		SET status = 'completed', completed_at = NOW(), updated_at = NOW(), worker_id = NULL
		WHERE id = $1
	`, id)
}

// MarkFailed marks a job as permanently failed
func (s *JobStore) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	return s.transition(ctx, "mark job failed", `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = NOW(), worker_id = NULL
		WHERE id = $1
	`, id, errorMsg)
}

// ScheduleRetry returns a job to the queue, runnable again after retryAfter
func (s *JobStore) ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error {
	return s.transition(ctx, "schedule job retry", `
		UPDATE jobs
		SET status = 'pending', last_error = $2, retry_after = $3, updated_at = NOW(), worker_id = NULL
		WHERE id = $1
	`, id, errorMsg, retryAfter)
}

// ReleaseJob puts a processing job back to pending without counting the attempt
func (s *JobStore) ReleaseJob(ctx context.Context, id int64) error {
	return s.transition(ctx, "release job", `
		UPDATE jobs
		SET status = 'pending', worker_id = NULL, attempts = GREATEST(attempts - 1, 0), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id)
}

func (s *JobStore) transition(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: %s: %w", op, err)
	}
	return nil
}

// GetStats returns counts of jobs per status
func (s *JobStore) GetStats(ctx context.Context) (*models.JobStats, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*)
		FROM jobs
	`

	stats := &models.JobStats{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Completed,
		&stats.Failed,
		&stats.Cancelled,
		&stats.Total,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get job stats: %w", err)
	}

	return stats, nil
}

// ListPendingJobs returns pending jobs ordered by priority and creation time
func (s *JobStore) ListPendingJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending'
		ORDER BY
			CASE priority WHEN 'high' THEN 3 WHEN 'normal' THEN 2 ELSE 1 END DESC,
			created_at ASC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate jobs: %w", err)
	}

	return jobs, nil
}

// CleanupOldJobs removes finished jobs last touched before olderThan ago
func (s *JobStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < NOW() - INTERVAL '1 second' * $1
	`

	result, err := s.db.ExecContext(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("store: cleanup old jobs: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	job := &models.Job{}
	err := row.Scan(
		&job.ID,
		&job.JobType,
		&job.Payload,
		&job.DedupeKey,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.LastError,
		&job.RetryAfter,
		&job.ProcessedAt,
		&job.CompletedAt,
		&job.WorkerID,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}
