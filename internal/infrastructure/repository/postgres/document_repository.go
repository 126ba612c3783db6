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

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, batch_id, file_type, confidence_score, extracted_metadata, processing_priority, validated_at, created_at, failed_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	var confidence sql.NullFloat64
	if doc.ConfidenceScore != nil {
		confidence = sql.NullFloat64{Float64: *doc.ConfidenceScore, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (id, batch_id, file_type, confidence_score, extracted_metadata, processing_priority, validated_at, created_at, failed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, doc.ID, doc.BatchID, doc.FileType, confidence, jsonColumn(doc.ExtractedMetadata), doc.ProcessingPriority, nullTime(doc.ValidatedAt), doc.CreatedAt, nullTime(doc.FailedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

// ListForDispatch returns the batch's documents by processing priority,
// highest first. unfinishedOnly drops documents that already carry both a
// confidence score and metadata.
func (r *DocumentRepository) ListForDispatch(ctx context.Context, batchID string, unfinishedOnly bool) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE batch_id = $1
`
	if unfinishedOnly {
		query += "AND (confidence_score IS NULL OR extracted_metadata IS NULL)\n"
	}
	query += "ORDER BY processing_priority DESC, created_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// SaveExtraction writes the result under a row lock so that concurrent
// deliveries of the same completion agree on which one finished the document.
func (r *DocumentRepository) SaveExtraction(ctx context.Context, id string, result domain.ExtractionResult) (domain.SaveOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.SaveOutcome{}, fmt.Errorf("begin extraction tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var wasUnfinished, wasFailed bool
	err = tx.QueryRowContext(ctx, `
SELECT confidence_score IS NULL OR extracted_metadata IS NULL, failed_at IS NOT NULL
FROM documents
WHERE id = $1
FOR UPDATE
`, id).Scan(&wasUnfinished, &wasFailed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SaveOutcome{}, domain.WrapError(domain.ErrNotFound, "save extraction", fmt.Errorf("document %s", id))
		}
		return domain.SaveOutcome{}, fmt.Errorf("lock document: %w", err)
	}

	metadata := jsonColumn(result.Metadata)
	if _, err := tx.ExecContext(ctx, `
UPDATE documents
SET confidence_score = $2,
	extracted_metadata = $3,
	failed_at = CASE WHEN $4 THEN NULL ELSE failed_at END
WHERE id = $1
`, id, result.Confidence, metadata, metadata != nil); err != nil {
		return domain.SaveOutcome{}, fmt.Errorf("save extraction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.SaveOutcome{}, fmt.Errorf("commit extraction tx: %w", err)
	}
	finished := wasUnfinished && metadata != nil
	return domain.SaveOutcome{Finished: finished, ClearedFailure: finished && wasFailed}, nil
}

// MarkFailed sets failed_at once per failure streak; finished documents are
// never marked.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET failed_at = $2
WHERE id = $1
	AND failed_at IS NULL
	AND (confidence_score IS NULL OR extracted_metadata IS NULL)
`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark document failed: %w", err)
	}
	marked, err := affectedOne(result, "mark document failed")
	if err != nil || marked {
		return marked, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *DocumentRepository) MarkValidated(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET validated_at = $2
WHERE id = $1 AND validated_at IS NULL
`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark document validated: %w", err)
	}
	updated, err := affectedOne(result, "mark document validated")
	if err != nil || updated {
		return updated, err
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *DocumentRepository) UpdatePriority(ctx context.Context, id string, priority int) error {
	result, err := r.db.ExecContext(ctx, `UPDATE documents SET processing_priority = $2 WHERE id = $1`, id, priority)
	if err != nil {
		return fmt.Errorf("update document priority: %w", err)
	}
	updated, err := affectedOne(result, "update document priority")
	if err != nil {
		return err
	}
	if !updated {
		return domain.WrapError(domain.ErrNotFound, "update document priority", fmt.Errorf("document %s", id))
	}
	return nil
}

// Delete removes the document and returns it as it was.
func (r *DocumentRepository) Delete(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `DELETE FROM documents WHERE id = $1 RETURNING `+documentColumns, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "delete document", fmt.Errorf("document %s", id))
		}
		return nil, fmt.Errorf("delete document: %w", err)
	}
	return &doc, nil
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc         domain.Document
		confidence  sql.NullFloat64
		metadata    []byte
		validatedAt sql.NullTime
		failedAt    sql.NullTime
	)
	err := row.Scan(
		&doc.ID,
		&doc.BatchID,
		&doc.FileType,
		&confidence,
		&metadata,
		&doc.ProcessingPriority,
		&validatedAt,
		&doc.CreatedAt,
		&failedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	if confidence.Valid {
		v := confidence.Float64
		doc.ConfidenceScore = &v
	}
	if len(metadata) > 0 {
		doc.ExtractedMetadata = json.RawMessage(metadata)
	}
	doc.ValidatedAt = timePtr(validatedAt)
	doc.FailedAt = timePtr(failedAt)
	return doc, nil
}
