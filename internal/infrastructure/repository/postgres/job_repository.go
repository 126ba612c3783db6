package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, job_type, payload, customer_id, priority, status, created_by, created_at, started_at, completed_at, result, error_message`

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (id, job_type, payload, customer_id, priority, status, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, job.ID, job.JobType, []byte(job.Payload), nullString(job.CustomerID), string(job.Priority), string(job.Status), job.CreatedBy, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get job", fmt.Errorf("job %s", id))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'processing', started_at = $2
WHERE id = $1 AND status = 'pending'
`, id, startedAt)
	return r.checkTransition(ctx, result, err, id, domain.JobProcessing)
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id string, resultDoc json.RawMessage, completedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'completed', result = $2, completed_at = $3
WHERE id = $1 AND status IN ('pending', 'processing')
`, id, jsonColumn(resultDoc), completedAt)
	return r.checkTransition(ctx, result, err, id, domain.JobCompleted)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, errMessage string, completedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'failed', error_message = $2, completed_at = $3
WHERE id = $1 AND status IN ('pending', 'processing')
`, id, errMessage, completedAt)
	return r.checkTransition(ctx, result, err, id, domain.JobFailed)
}

// checkTransition turns a conditional update that matched no row into
// ErrNotFound or ErrConflict.
func (r *JobRepository) checkTransition(ctx context.Context, result sql.Result, execErr error, id string, next domain.JobStatus) error {
	op := "set job status=" + string(next)
	if execErr != nil {
		return fmt.Errorf("%s: %w", op, execErr)
	}
	updated, err := affectedOne(result, op)
	if err != nil || updated {
		return err
	}
	current, err := statusOf(ctx, r.db, "jobs", id, op)
	if err != nil {
		return err
	}
	return domain.WrapError(domain.ErrConflict, op, fmt.Errorf("job %s is %s", id, current))
}

// TenantActivity counts the tenant's active jobs and its submissions in the
// trailing minute and hour in one scan.
func (r *JobRepository) TenantActivity(ctx context.Context, customerID string, now time.Time) (domain.TenantActivity, error) {
	var activity domain.TenantActivity
	err := r.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) FILTER (WHERE status IN ('pending', 'processing')),
	COUNT(*) FILTER (WHERE created_at >= $2),
	COUNT(*) FILTER (WHERE created_at >= $3)
FROM jobs
WHERE customer_id = $1
`, customerID, now.Add(-time.Minute), now.Add(-time.Hour)).Scan(&activity.Active, &activity.LastMinute, &activity.LastHour)
	if err != nil {
		return domain.TenantActivity{}, fmt.Errorf("count tenant activity: %w", err)
	}
	return activity, nil
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job          domain.Job
		payload      []byte
		customerID   sql.NullString
		priority     string
		status       string
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		result       []byte
		errorMessage sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.JobType,
		&payload,
		&customerID,
		&priority,
		&status,
		&job.CreatedBy,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&result,
		&errorMessage,
	)
	if err != nil {
		return domain.Job{}, err
	}
	job.Payload = json.RawMessage(payload)
	job.CustomerID = customerID.String
	job.Priority = domain.JobPriority(priority)
	job.Status = domain.JobStatus(status)
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	job.ErrorMessage = errorMessage.String
	return job, nil
}

type TenantLimitsRepository struct {
	db *sql.DB
}

func NewTenantLimitsRepository(db *sql.DB) *TenantLimitsRepository {
	return &TenantLimitsRepository{db: db}
}

// GetLimits returns nil when the tenant has no limits record.
func (r *TenantLimitsRepository) GetLimits(ctx context.Context, customerID string) (*domain.TenantLimits, error) {
	var perConcurrent, perMinute, perHour sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
SELECT max_concurrent_jobs, max_jobs_per_minute, max_jobs_per_hour
FROM tenant_limits
WHERE customer_id = $1
`, customerID).Scan(&perConcurrent, &perMinute, &perHour)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant limits: %w", err)
	}
	return &domain.TenantLimits{
		CustomerID:        customerID,
		MaxConcurrentJobs: intPtr(perConcurrent),
		MaxJobsPerMinute:  intPtr(perMinute),
		MaxJobsPerHour:    intPtr(perHour),
	}, nil
}
