package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, name, status, total_documents, processed_documents, validated_documents, error_count, priority, created_at, started_at, completed_at, export_started_at`

func (r *BatchRepository) Create(ctx context.Context, batch *domain.Batch) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO batches (id, name, status, priority, created_at)
VALUES ($1,$2,$3,$4,$5)
`, batch.ID, batch.Name, string(batch.Status), batch.Priority, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get batch", fmt.Errorf("batch %s", id))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return &batch, nil
}

// ApplyDelta increments the counters in a single statement. Processed and
// validated are clamped to [0, total].
func (r *BatchRepository) ApplyDelta(ctx context.Context, id string, delta domain.BatchDelta) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE batches
SET total_documents = GREATEST(total_documents + $2, 0),
	processed_documents = LEAST(GREATEST(processed_documents + $3, 0), GREATEST(total_documents + $2, 0)),
	validated_documents = LEAST(GREATEST(validated_documents + $4, 0), GREATEST(total_documents + $2, 0)),
	error_count = GREATEST(error_count + $5, 0)
WHERE id = $1
RETURNING `+batchColumns, id, delta.Total, delta.Processed, delta.Validated, delta.Errors)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "apply batch delta", fmt.Errorf("batch %s", id))
		}
		return nil, fmt.Errorf("apply batch delta: %w", err)
	}
	return &batch, nil
}

// UpdateStatus moves the batch to next only while its status is one of
// from, and reports whether it did.
func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, from []domain.BatchStatus, next domain.BatchStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	var startedAt, completedAt sql.NullTime
	if next == domain.BatchScanning {
		startedAt = sql.NullTime{Time: at, Valid: true}
	}
	if next.Terminal() {
		completedAt = sql.NullTime{Time: at, Valid: true}
	}

	args := []any{id, string(next), startedAt, completedAt}
	placeholders := make([]string, 0, len(from))
	for _, status := range from {
		args = append(args, string(status))
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE batches
SET status = $2, started_at = COALESCE(started_at, $3), completed_at = COALESCE($4, completed_at)
WHERE id = $1 AND status IN (`+strings.Join(placeholders, ", ")+`)
`, args...)
	if err != nil {
		return false, fmt.Errorf("update batch status: %w", err)
	}
	return affectedOne(result, "update batch status")
}

func (r *BatchRepository) SetExportStarted(ctx context.Context, id string, startedAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE batches SET export_started_at = $2 WHERE id = $1`, id, nullTime(startedAt))
	if err != nil {
		return fmt.Errorf("set export marker: %w", err)
	}
	return r.requireRow(result, id, "set export marker")
}

func (r *BatchRepository) UpdatePriority(ctx context.Context, id string, priority int) error {
	result, err := r.db.ExecContext(ctx, `UPDATE batches SET priority = $2 WHERE id = $1`, id, priority)
	if err != nil {
		return fmt.Errorf("update batch priority: %w", err)
	}
	return r.requireRow(result, id, "update batch priority")
}

// DeleteNew removes a batch that was never dispatched.
func (r *BatchRepository) DeleteNew(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM batches WHERE id = $1 AND status = 'new'`, id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	deleted, err := affectedOne(result, "delete batch")
	if err != nil || deleted {
		return err
	}
	status, err := statusOf(ctx, r.db, "batches", id, "delete batch")
	if err != nil {
		return err
	}
	return domain.WrapError(domain.ErrConflict, "delete batch", fmt.Errorf("batch %s is %s", id, status))
}

func (r *BatchRepository) requireRow(result sql.Result, id, op string) error {
	updated, err := affectedOne(result, op)
	if err != nil {
		return err
	}
	if !updated {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("batch %s", id))
	}
	return nil
}

func scanBatch(row rowScanner) (domain.Batch, error) {
	var (
		batch           domain.Batch
		status          string
		startedAt       sql.NullTime
		completedAt     sql.NullTime
		exportStartedAt sql.NullTime
	)
	err := row.Scan(
		&batch.ID,
		&batch.Name,
		&status,
		&batch.TotalDocuments,
		&batch.ProcessedDocuments,
		&batch.ValidatedDocuments,
		&batch.ErrorCount,
		&batch.Priority,
		&batch.CreatedAt,
		&startedAt,
		&completedAt,
		&exportStartedAt,
	)
	if err != nil {
		return domain.Batch{}, err
	}
	batch.Status = domain.BatchStatus(status)
	batch.StartedAt = timePtr(startedAt)
	batch.CompletedAt = timePtr(completedAt)
	batch.ExportStartedAt = timePtr(exportStartedAt)
	return batch, nil
}
