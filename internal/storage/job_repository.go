package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custody-ledger/internal/models"
	"github.com/custody-ledger/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobRepository handles background job persistence and the claim protocol.
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, job_type, payload, status, attempts, max_attempts, last_error, scheduled_at, created_at, updated_at`

// Enqueue inserts a new pending job and returns its id.
func (r *JobRepository) Enqueue(ctx context.Context, jobType types.JobType, payload json.RawMessage, scheduledAt time.Time, maxAttempts int) (string, error) {
	if !jobType.Valid() {
		return "", fmt.Errorf("invalid job type: %s", jobType)
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	id := uuid.New().String()
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO jobs (id, job_type, payload, status, attempts, max_attempts, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $5, NOW(), NOW())
	`, id, jobType, payload, maxAttempts, scheduledAt)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return id, nil
}

// ClaimBatch atomically claims up to n due pending jobs, transitioning them
// to processing and incrementing attempts. The FOR UPDATE SKIP LOCKED
// subselect guarantees two concurrent workers never receive overlapping
// jobs; selection is oldest due first.
func (r *JobRepository) ClaimBatch(ctx context.Context, n int) ([]*models.Job, error) {
	rows, err := r.db.Pool().Query(ctx, `
		UPDATE jobs
		SET status = 'processing', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND scheduled_at <= NOW()
			  AND attempts < max_attempts
			ORDER BY scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		n)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// MarkCompleted transitions a processing job to completed. A non-nil note
// is retained in last_error for operator inspection (e.g. a partial-success
// import report).
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string, note *string) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs
		SET status = 'completed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID, note)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not in processing state: %s", jobID)
	}

	return nil
}

// MarkFailed transitions a job to the terminal failed state, retaining the
// triggering error. A failed job is never claimed again.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID, errMsg)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not in processing state: %s", jobID)
	}

	return nil
}

// Requeue returns a processing job to pending with a delayed eligibility
// time, retaining the error that caused the retry.
func (r *JobRepository) Requeue(ctx context.Context, jobID, errMsg string, runAt time.Time) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', last_error = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, jobID, errMsg, runAt)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("job not in processing state: %s", jobID)
	}

	return nil
}

// SweepStale requeues processing jobs whose last update is older than the
// threshold. A crash mid-run must never leave a job permanently unclaimable;
// the claim-time attempts increment keeps retry accounting intact.
func (r *JobRepository) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE jobs
		SET status = 'pending', updated_at = NOW()
		WHERE status = 'processing'
		  AND updated_at < NOW() - $1::interval
	`, threshold.String())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}

	return result.RowsAffected(), nil
}

// GetByID retrieves a job by id.
func (r *JobRepository) GetByID(ctx context.Context, jobID string) (*models.Job, error) {
	row := r.db.Pool().QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListByStatus retrieves jobs in a given status, oldest scheduled first.
func (r *JobRepository) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.Job, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Payload,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.LastError,
		&job.ScheduledAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}
