package policy

import (
	"sync"
	"sync/atomic"
)

// Table holds the active policy snapshot. Snapshot() is wait-free; Swap
// publishes a new immutable snapshot without ever mutating the live one,
// so in-flight decisions keep reading the snapshot they pinned.
type Table struct {
	cur atomic.Pointer[Snapshot]

	mu       sync.Mutex
	onReload []func(*Snapshot)
}

// NewTable creates a table with an initial snapshot.
func NewTable(snap *Snapshot) *Table {
	t := &Table{}
	t.cur.Store(snap)
	return t
}

// Snapshot returns the active snapshot. Callers pin it for the lifetime of
// one decision and never re-read mid-flight.
func (t *Table) Snapshot() *Snapshot {
	return t.cur.Load()
}

// Swap atomically publishes a new snapshot and fires reload callbacks.
func (t *Table) Swap(snap *Snapshot) {
	t.cur.Store(snap)

	t.mu.Lock()
	callbacks := append([]func(*Snapshot){}, t.onReload...)
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn(snap)
	}
}

// OnReload registers a callback invoked after each snapshot swap.
// Used by the rate limiter to rebuild per-source buckets.
func (t *Table) OnReload(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReload = append(t.onReload, fn)
}
