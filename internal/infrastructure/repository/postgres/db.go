package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	job_type TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	customer_id TEXT,
	priority TEXT NOT NULL DEFAULT 'normal',
	status TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	result JSONB,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_customer_created ON jobs(customer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_customer_status ON jobs(customer_id, status);

CREATE TABLE IF NOT EXISTS tenant_limits (
	customer_id TEXT PRIMARY KEY,
	max_concurrent_jobs INTEGER,
	max_jobs_per_minute INTEGER,
	max_jobs_per_hour INTEGER
);

CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	total_documents INTEGER NOT NULL DEFAULT 0 CHECK (total_documents >= 0),
	processed_documents INTEGER NOT NULL DEFAULT 0 CHECK (processed_documents >= 0),
	validated_documents INTEGER NOT NULL DEFAULT 0 CHECK (validated_documents >= 0),
	error_count INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	export_started_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	file_type TEXT NOT NULL,
	confidence_score DOUBLE PRECISION,
	extracted_metadata JSONB,
	processing_priority INTEGER NOT NULL DEFAULT 0,
	validated_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	failed_at TIMESTAMPTZ
);

ALTER TABLE documents ADD COLUMN IF NOT EXISTS failed_at TIMESTAMPTZ;

CREATE INDEX IF NOT EXISTS idx_documents_batch_priority ON documents(batch_id, processing_priority DESC);
`

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026031701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func affectedOne(result sql.Result, op string) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return rows > 0, nil
}

// statusOf reads the status column of one row, mapping a missing row to
// domain.ErrNotFound. Used to explain a conditional update that matched
// nothing.
func statusOf(ctx context.Context, db *sql.DB, table, id, op string) (string, error) {
	var status string
	err := db.QueryRowContext(ctx, `SELECT status FROM `+table+` WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("%s %s", table, id))
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return status, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// jsonColumn maps empty or JSON null documents to SQL NULL.
func jsonColumn(raw []byte) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}
