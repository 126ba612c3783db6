// Package sqlite keeps the client-resident offline action queue.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

const actionsDDL = `
CREATE TABLE IF NOT EXISTS queued_actions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	target_entity TEXT NOT NULL,
	data TEXT NOT NULL,
	timestamp_ns INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
`

// Open opens (or creates) the local queue database at path. Use ":memory:"
// for an ephemeral store.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	// One connection serialises writers and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, actionsDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create queued_actions: %w", err)
	}
	return db, nil
}

type ActionStore struct {
	db *sql.DB
}

func NewActionStore(db *sql.DB) *ActionStore {
	return &ActionStore{db: db}
}

func (s *ActionStore) Append(ctx context.Context, action domain.QueuedAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queued_actions (id, kind, target_entity, data, timestamp_ns, retry_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`, action.ID, string(action.Kind), action.TargetEntity, string(action.Data), action.Timestamp.UnixNano(), action.RetryCount)
	if err != nil {
		return fmt.Errorf("insert queued action: %w", err)
	}
	return nil
}

// List returns queued actions in the order they were captured.
func (s *ActionStore) List(ctx context.Context) ([]domain.QueuedAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, target_entity, data, timestamp_ns, retry_count
		FROM queued_actions
		ORDER BY timestamp_ns ASC, seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query queued actions: %w", err)
	}
	defer rows.Close()

	var out []domain.QueuedAction
	for rows.Next() {
		var (
			action domain.QueuedAction
			kind   string
			data   string
			tsNano int64
		)
		if err := rows.Scan(&action.ID, &kind, &action.TargetEntity, &data, &tsNano, &action.RetryCount); err != nil {
			return nil, fmt.Errorf("scan queued action: %w", err)
		}
		action.Kind = domain.ActionKind(kind)
		action.Data = []byte(data)
		action.Timestamp = time.Unix(0, tsNano).UTC()
		out = append(out, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued actions: %w", err)
	}
	return out, nil
}

func (s *ActionStore) UpdateRetryCount(ctx context.Context, id string, retryCount int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE queued_actions SET retry_count = ? WHERE id = ?`, retryCount, id)
	if err != nil {
		return fmt.Errorf("update retry count: %w", err)
	}
	return requireRow(res, "update retry count", id)
}

func (s *ActionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queued_actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete queued action: %w", err)
	}
	return requireRow(res, "delete queued action", id)
}

func requireRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("queued action %s", id))
	}
	return nil
}
