package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/veridian-labs/claimgate/pkg/outbox"
)

// SQLOutboxStore implements outbox.Store. The intent id is the idempotency
// key: re-enqueueing an existing intent is a no-op via ON CONFLICT DO NOTHING,
// which both Postgres and SQLite support.
type SQLOutboxStore struct {
	db *sql.DB
}

// NewSQLOutboxStore wraps an open database.
func NewSQLOutboxStore(db *sql.DB) *SQLOutboxStore {
	return &SQLOutboxStore{db: db}
}

func (s *SQLOutboxStore) Enqueue(ctx context.Context, intents ...outbox.Intent) error {
	query := `
		INSERT INTO outbox_intents (id, kind, claim_id, commit_id, payload, status, attempts, next_attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	for _, in := range intents {
		status := in.Status
		if status == "" {
			status = outbox.StatusPending
		}
		_, err := s.db.ExecContext(ctx, query,
			in.ID, in.Kind, in.ClaimID, in.CommitID, []byte(in.Payload), status,
			in.Attempts, in.NextAttempt, in.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("store: enqueue intent %s: %w", in.ID, err)
		}
	}
	return nil
}

func (s *SQLOutboxStore) Due(ctx context.Context, now time.Time, limit int) ([]outbox.Intent, error) {
	query := `
		SELECT id, kind, claim_id, commit_id, payload, status, attempts, next_attempt, created_at, last_error
		FROM outbox_intents
		WHERE status = $1 AND next_attempt <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, outbox.StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query due intents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var due []outbox.Intent
	for rows.Next() {
		var in outbox.Intent
		var payload []byte
		var commitID, lastError sql.NullString
		if err := rows.Scan(&in.ID, &in.Kind, &in.ClaimID, &commitID, &payload,
			&in.Status, &in.Attempts, &in.NextAttempt, &in.CreatedAt, &lastError); err != nil {
			return nil, err
		}
		in.CommitID = commitID.String
		in.LastError = lastError.String
		in.Payload = payload
		due = append(due, in)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return due, nil
}

func (s *SQLOutboxStore) MarkDone(ctx context.Context, id string) error {
	query := `UPDATE outbox_intents SET status = $1 WHERE id = $2`
	_, err := s.db.ExecContext(ctx, query, outbox.StatusDone, id)
	return err
}

func (s *SQLOutboxStore) MarkRetry(ctx context.Context, id string, attempts int, lastErr string, next time.Time) error {
	query := `UPDATE outbox_intents SET attempts = $1, last_error = $2, next_attempt = $3 WHERE id = $4`
	_, err := s.db.ExecContext(ctx, query, attempts, lastErr, next, id)
	return err
}

func (s *SQLOutboxStore) MarkFailed(ctx context.Context, id string, lastErr string) error {
	query := `UPDATE outbox_intents SET status = $1, last_error = $2 WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, outbox.StatusFailed, lastErr, id)
	return err
}
