package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/veridian-labs/claimgate/pkg/ledger"
)

// SQLCommitStore implements ledger.Store. Commits are stored as JSON blobs
// keyed by sequence number: the ledger replays them at startup and the hash
// chain detects any tampering or gap.
type SQLCommitStore struct {
	db *sql.DB
}

// NewSQLCommitStore wraps an open database.
func NewSQLCommitStore(db *sql.DB) *SQLCommitStore {
	return &SQLCommitStore{db: db}
}

func (s *SQLCommitStore) AppendCommit(ctx context.Context, c *ledger.Commit) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: encode commit %d: %w", c.Seq, err)
	}
	query := `INSERT INTO commits (seq, id, commit_json) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, c.Seq, c.ID, payload); err != nil {
		return fmt.Errorf("store: append commit %d: %w", c.Seq, err)
	}
	return nil
}

func (s *SQLCommitStore) LoadCommits(ctx context.Context) ([]ledger.Commit, error) {
	query := `SELECT commit_json FROM commits ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: load commits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var commits []ledger.Commit
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c ledger.Commit
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("store: corrupt commit JSON: %w", err)
		}
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return commits, nil
}
