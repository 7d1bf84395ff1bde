package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridian-labs/claimgate/pkg/canonicalize"
	"github.com/veridian-labs/claimgate/pkg/claims"
)

const genesisHash = "genesis"

// Store persists commits durably. The in-memory view is rebuilt by replay;
// a commit must be durable before the ledger publishes it to readers.
type Store interface {
	AppendCommit(ctx context.Context, c *Commit) error
	LoadCommits(ctx context.Context) ([]Commit, error)
}

// Ledger is the append-only commit log plus the materialized claim view.
//
// The view (claim id → current row, key → competing claims) is derivable by
// replaying commits; commit records themselves are never mutated in place.
type Ledger struct {
	mu       sync.RWMutex
	commits  []Commit
	headHash string
	byID     map[string]uint64 // commit id → seq

	view     map[string]*claims.Claim   // claim id → current row
	evidence map[string]claims.Evidence // evidence id → record
	byKey    map[string][]string        // (subject, predicate) key → claim ids
	undone   map[string]string          // undone commit id → undo commit id

	store Store
	clock func() time.Time
}

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		headHash: genesisHash,
		byID:     make(map[string]uint64),
		view:     make(map[string]*claims.Claim),
		evidence: make(map[string]claims.Evidence),
		byKey:    make(map[string][]string),
		undone:   make(map[string]string),
		clock:    time.Now,
	}
}

// WithStore attaches a durable commit store.
func (l *Ledger) WithStore(store Store) *Ledger {
	l.store = store
	return l
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Load replays all commits from the attached store into the view.
// Called once at startup, before the ledger serves requests.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	commits, err := l.store.LoadCommits(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load commits: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range commits {
		c := &commits[i]
		if c.PrevHash != l.headHash {
			return fmt.Errorf("ledger: replay chain broken at seq %d", c.Seq)
		}
		l.apply(c)
	}
	return nil
}

// Append writes one commit: durable store write first, then the in-memory
// view. Returns the completed commit with its chain position.
func (l *Ledger) Append(ctx context.Context, c Commit) (*Commit, error) {
	if len(c.Deltas) == 0 {
		return nil, fmt.Errorf("ledger: commit with no deltas")
	}
	for _, d := range c.Deltas {
		if d.Prior == nil && d.New == nil {
			return nil, fmt.Errorf("ledger: delta for %s has neither prior nor new row", d.ClaimID)
		}
		// Undo commits legitimately walk status backwards; everything else
		// must follow the one-way lifecycle.
		if c.Kind != KindUndo && d.Prior != nil && d.New != nil && d.Prior.Status != d.New.Status {
			if !claims.CanTransition(d.Prior.Status, d.New.Status) {
				return nil, fmt.Errorf("ledger: illegal status transition %s → %s for claim %s",
					d.Prior.Status, d.New.Status, d.ClaimID)
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c.Seq = uint64(len(l.commits)) + 1
	c.ID = uuid.New().String()
	c.Timestamp = l.clock().UTC()
	c.PrevHash = l.headHash

	hash, err := contentHash(&c)
	if err != nil {
		return nil, err
	}
	c.ContentHash = hash

	if l.store != nil {
		if err := l.store.AppendCommit(ctx, &c); err != nil {
			return nil, fmt.Errorf("ledger: persist commit: %w", err)
		}
	}

	l.apply(&c)
	out := l.commits[len(l.commits)-1]
	return &out, nil
}

// apply publishes the commit to the log and view. Caller holds mu.
func (l *Ledger) apply(c *Commit) {
	l.commits = append(l.commits, *c)
	l.headHash = c.ContentHash
	l.byID[c.ID] = c.Seq
	if c.Undoes != "" {
		l.undone[c.Undoes] = c.ID
	}

	for _, e := range c.Evidence {
		l.evidence[e.ID] = e
	}
	for _, d := range c.Deltas {
		if d.New == nil {
			// Reverted creation: the row leaves the view.
			if cur, ok := l.view[d.ClaimID]; ok {
				l.removeKey(cur.Key(), d.ClaimID)
				delete(l.view, d.ClaimID)
			}
			continue
		}
		row := d.New.Clone()
		row.CommitID = c.ID
		if _, ok := l.view[d.ClaimID]; !ok {
			key := row.Key()
			l.byKey[key] = append(l.byKey[key], d.ClaimID)
		}
		l.view[d.ClaimID] = row
	}
}

func (l *Ledger) removeKey(key, claimID string) {
	ids := l.byKey[key]
	for i, id := range ids {
		if id == claimID {
			l.byKey[key] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func contentHash(c *Commit) (string, error) {
	hashInput := struct {
		Seq       uint64              `json:"seq"`
		ID        string              `json:"id"`
		Kind      Kind                `json:"kind"`
		Actor     string              `json:"actor"`
		Timestamp time.Time           `json:"ts"`
		Deltas    []Delta             `json:"deltas"`
		Evidence  []claims.Evidence   `json:"evidence"`
		Trace     *claims.PolicyTrace `json:"trace"`
		Undoes    string              `json:"undoes"`
		PrevHash  string              `json:"prev"`
	}{c.Seq, c.ID, c.Kind, c.Actor, c.Timestamp, c.Deltas, c.Evidence, c.Trace, c.Undoes, c.PrevHash}

	hash, err := canonicalize.CanonicalHash(hashInput)
	if err != nil {
		return "", fmt.Errorf("ledger: hash commit: %w", err)
	}
	return hash, nil
}

// Head returns the current chain head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Len returns the number of commits.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.commits)
}

// Get retrieves a commit by sequence number.
func (l *Ledger) Get(seq uint64) (*Commit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.commits)) {
		return nil, fmt.Errorf("%w: commit seq %d", claims.ErrNotFound, seq)
	}
	c := l.commits[seq-1]
	return &c, nil
}

// ByID retrieves a commit by id.
func (l *Ledger) ByID(commitID string) (*Commit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seq, ok := l.byID[commitID]
	if !ok {
		return nil, fmt.Errorf("%w: commit %s", claims.ErrNotFound, commitID)
	}
	c := l.commits[seq-1]
	return &c, nil
}

// Last returns the most recent n commits, newest last.
func (l *Ledger) Last(n int) []Commit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.commits) {
		n = len(l.commits)
	}
	out := make([]Commit, n)
	copy(out, l.commits[len(l.commits)-n:])
	return out
}

// Since returns every commit with a sequence number strictly greater than
// seq, oldest first. It feeds the incremental changes endpoint.
func (l *Ledger) Since(seq uint64) []Commit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq >= uint64(len(l.commits)) {
		return nil
	}
	out := make([]Commit, uint64(len(l.commits))-seq)
	copy(out, l.commits[seq:])
	return out
}

// Verify checks the integrity of the entire chain.
func (l *Ledger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := genesisHash
	for i := range l.commits {
		c := &l.commits[i]
		if c.PrevHash != prev {
			return fmt.Errorf("ledger: chain broken at seq %d: expected prev %s, got %s", c.Seq, prev, c.PrevHash)
		}
		computed, err := contentHash(c)
		if err != nil {
			return err
		}
		if computed != c.ContentHash {
			return fmt.Errorf("ledger: hash mismatch at seq %d", c.Seq)
		}
		prev = c.ContentHash
	}
	return nil
}
