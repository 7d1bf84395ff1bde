package ledger

import (
	"fmt"
	"time"

	"github.com/veridian-labs/claimgate/pkg/claims"
)

// Claim returns the current row for a claim id.
func (l *Ledger) Claim(claimID string) (*claims.Claim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.view[claimID]
	if !ok {
		return nil, fmt.Errorf("%w: claim %s", claims.ErrNotFound, claimID)
	}
	return c.Clone(), nil
}

// Evidence returns an evidence record by id.
func (l *Ledger) Evidence(evidenceID string) (claims.Evidence, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.evidence[evidenceID]
	if !ok {
		return claims.Evidence{}, fmt.Errorf("%w: evidence %s", claims.ErrNotFound, evidenceID)
	}
	return e, nil
}

// Incumbent returns the single active claim for a (subject, predicate) key:
// approved, open-ended, non-shadow. Nil when no incumbent exists.
func (l *Ledger) Incumbent(subjectID, predicate string) *claims.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.byKey[subjectID+"\x1f"+predicate] {
		if c := l.view[id]; c != nil && c.Active() {
			return c.Clone()
		}
	}
	return nil
}

// FindTriple returns an existing active claim with the identical
// (subject, predicate, object) triple, for idempotent set-valued proposals.
func (l *Ledger) FindTriple(subjectID, predicate, objectValue string) *claims.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.byKey[subjectID+"\x1f"+predicate] {
		if c := l.view[id]; c != nil && c.Active() && c.ObjectValue == objectValue {
			return c.Clone()
		}
	}
	return nil
}

// ClaimsForKey returns all current claims competing on a key, in creation
// order.
func (l *Ledger) ClaimsForKey(subjectID, predicate string) []*claims.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byKey[subjectID+"\x1f"+predicate]
	out := make([]*claims.Claim, 0, len(ids))
	for _, id := range ids {
		if c := l.view[id]; c != nil {
			out = append(out, c.Clone())
		}
	}
	return out
}

// ShadowOlderThan returns shadow claims written before the cutoff,
// candidates for promotion.
func (l *Ledger) ShadowOlderThan(cutoff time.Time) []*claims.Claim {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*claims.Claim
	for _, c := range l.view {
		if c.Shadow && c.Status == claims.StatusApproved && c.ValidTo == nil && c.ValidFrom.Before(cutoff) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// CommitsSince returns summaries of all commits with seq > since, oldest
// first. This is the changes feed.
func (l *Ledger) CommitsSince(since uint64) []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if since >= uint64(len(l.commits)) {
		return nil
	}
	out := make([]Summary, 0, uint64(len(l.commits))-since)
	for i := since; i < uint64(len(l.commits)); i++ {
		out = append(out, l.commits[i].Summarize())
	}
	return out
}

// DependentsAfter returns the commits after seq that touch any of the given
// claim ids. A non-empty result blocks undo of the commit at seq.
func (l *Ledger) DependentsAfter(seq uint64, claimIDs []string) []Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Summary
	for i := seq; i < uint64(len(l.commits)); i++ {
		c := &l.commits[i]
		for _, id := range claimIDs {
			if c.Touches(id) {
				out = append(out, c.Summarize())
				break
			}
		}
	}
	return out
}

// UndoneBy reports whether the commit has already been compensated, and by
// which undo commit.
func (l *Ledger) UndoneBy(commitID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.undone[commitID]
	return id, ok
}
