// Package store provides the SQL persistence layer: the durable commit log
// behind the in-memory ledger, and the durable outbox. It supports both
// Postgres and SQLite via standard database/sql drivers.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver, cgo-free
)

const schema = `
CREATE TABLE IF NOT EXISTS commits (
	seq BIGINT PRIMARY KEY,
	id TEXT UNIQUE NOT NULL,
	commit_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_intents (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	claim_id TEXT NOT NULL,
	commit_id TEXT,
	payload TEXT,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	next_attempt TIMESTAMP,
	created_at TIMESTAMP,
	last_error TEXT
);
`

// Open connects to the database and ensures the schema exists.
// Driver is "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	if err := Init(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Init creates the schema.
func Init(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}
