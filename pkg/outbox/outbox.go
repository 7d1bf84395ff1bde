// Package outbox decouples ledger commits from collaborator side effects.
// A commit enqueues intents; a worker drains them with retries. Engine
// correctness never depends on collaborator availability: the ledger is the
// truth and materialization lag is a recoverable symptom.
package outbox

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Kind identifies the side effect an intent requests.
type Kind string

const (
	KindMaterialize  Kind = "materialize_edges"
	KindRetract      Kind = "retract_edges"
	KindIndexSnippet Kind = "index_snippet"
	KindReembed      Kind = "reembed"
	KindReview       Kind = "review_enqueue"
)

// Status of an intent.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	// StatusFailed is terminal: the intent exhausted its attempts and needs
	// operator attention.
	StatusFailed Status = "failed"
)

// Intent is one queued side effect. The ID doubles as the idempotency key:
// enqueueing the same intent twice is a no-op.
type Intent struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	ClaimID     string          `json:"claim_id"`
	CommitID    string          `json:"commit_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	NextAttempt time.Time       `json:"next_attempt"`
	CreatedAt   time.Time       `json:"created_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// IntentID builds the canonical idempotency key for a claim-scoped effect.
func IntentID(claimID string, kind Kind) string {
	return claimID + ":" + string(kind)
}

// ScopedIntentID keys an effect to a specific commit. Compensating effects
// from undo and promotion use this so they never collide with the claim's
// original materialization intent.
func ScopedIntentID(claimID string, kind Kind, commitID string) string {
	return claimID + ":" + string(kind) + ":" + commitID
}

// Store persists intents.
type Store interface {
	// Enqueue inserts intents, ignoring ids that already exist.
	Enqueue(ctx context.Context, intents ...Intent) error

	// Due returns pending intents whose next attempt is not after now,
	// oldest first, up to limit.
	Due(ctx context.Context, now time.Time, limit int) ([]Intent, error)

	// MarkDone marks an intent delivered.
	MarkDone(ctx context.Context, id string) error

	// MarkRetry schedules the next attempt after a delivery failure.
	MarkRetry(ctx context.Context, id string, attempts int, lastErr string, next time.Time) error

	// MarkFailed parks an intent that exhausted its attempts.
	MarkFailed(ctx context.Context, id string, lastErr string) error
}

// MemoryStore is the in-process Store used in tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	intents map[string]*Intent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*Intent)}
}

func (s *MemoryStore) Enqueue(_ context.Context, intents ...Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range intents {
		if _, exists := s.intents[in.ID]; exists {
			continue
		}
		cp := in
		if cp.Status == "" {
			cp.Status = StatusPending
		}
		s.intents[in.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Intent
	for _, in := range s.intents {
		if in.Status == StatusPending && !in.NextAttempt.After(now) {
			due = append(due, *in)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) MarkDone(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.intents[id]; ok {
		in.Status = StatusDone
	}
	return nil
}

func (s *MemoryStore) MarkRetry(_ context.Context, id string, attempts int, lastErr string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.intents[id]; ok {
		in.Attempts = attempts
		in.LastError = lastErr
		in.NextAttempt = next
	}
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.intents[id]; ok {
		in.Status = StatusFailed
		in.LastError = lastErr
	}
	return nil
}

// Get returns an intent by id (test helper).
func (s *MemoryStore) Get(id string) (Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return Intent{}, false
	}
	return *in, true
}
