// Package review holds the pending-claim queue consumed by the human review
// surface. The ledger remains the truth about claim status; the queue is a
// work list, and losing an entry only delays a review, never a decision.
package review

import (
	"context"
	"sync"
	"time"
)

// Item is one pending claim awaiting review.
type Item struct {
	ClaimID    string    `json:"claim_id"`
	CommitID   string    `json:"commit_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the review work list. Enqueue is idempotent per claim id.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error

	// Next pops the oldest item, or returns nil when the queue is empty.
	Next(ctx context.Context) (*Item, error)

	Len(ctx context.Context) (int, error)
}

// Memory is the in-process Queue.
type Memory struct {
	mu    sync.Mutex
	items []Item
	seen  map[string]struct{}
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

func (m *Memory) Enqueue(_ context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[item.ClaimID]; ok {
		return nil
	}
	m.seen[item.ClaimID] = struct{}{}
	m.items = append(m.items, item)
	return nil
}

func (m *Memory) Next(context.Context) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil, nil
	}
	item := m.items[0]
	m.items = m.items[1:]
	delete(m.seen, item.ClaimID)
	return &item, nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}
