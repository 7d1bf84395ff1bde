package engine

import (
	"sync"
	"time"
)

// sessionIdleTTL bounds memory: sessions idle this long are forgotten.
const sessionIdleTTL = 24 * time.Hour

// SessionBudget counts committed edges per agent session and enforces the
// per-session write budget from the policy snapshot.
type SessionBudget struct {
	mu     sync.Mutex
	counts map[string]*sessionCount
	clock  func() time.Time
}

type sessionCount struct {
	n    int
	last time.Time
}

// NewSessionBudget creates an empty budget tracker.
func NewSessionBudget() *SessionBudget {
	return &SessionBudget{
		counts: make(map[string]*sessionCount),
		clock:  time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (b *SessionBudget) WithClock(clock func() time.Time) *SessionBudget {
	b.clock = clock
	return b
}

// Check reports whether the session still has budget for one more edge.
// A limit of zero or less means unlimited.
func (b *SessionBudget) Check(sessionID string, limit int) bool {
	if sessionID == "" || limit <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purge()
	c, ok := b.counts[sessionID]
	if !ok {
		return true
	}
	return c.n < limit
}

// Commit records one committed edge against the session.
func (b *SessionBudget) Commit(sessionID string) {
	if sessionID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counts[sessionID]
	if !ok {
		c = &sessionCount{}
		b.counts[sessionID] = c
	}
	c.n++
	c.last = b.clock()
}

// Count returns the committed edge count for a session.
func (b *SessionBudget) Count(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.counts[sessionID]; ok {
		return c.n
	}
	return 0
}

// purge drops idle sessions. Caller holds mu.
func (b *SessionBudget) purge() {
	cutoff := b.clock().Add(-sessionIdleTTL)
	for id, c := range b.counts {
		if c.last.Before(cutoff) && c.n > 0 {
			delete(b.counts, id)
		}
	}
}
