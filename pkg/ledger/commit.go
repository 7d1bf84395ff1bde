// Package ledger implements the append-only, hash-chained claim ledger.
// Commits are the source of truth; claim rows are a materialized view
// derived by replaying commits. Commits are never deleted or rewritten;
// undo appends a compensating commit.
package ledger

import (
	"time"

	"github.com/veridian-labs/claimgate/pkg/claims"
)

// Kind categorizes a commit.
type Kind string

const (
	// KindProposal records the outcome of a claim proposal.
	KindProposal Kind = "proposal"
	// KindReview records an external approve/reject decision.
	KindReview Kind = "review"
	// KindUndo is a compensating commit reverting an earlier one.
	KindUndo Kind = "undo"
	// KindPromotion records a shadow claim promotion or demotion.
	KindPromotion Kind = "promotion"
)

// Delta records one claim's state transition: the full prior row and the
// full new row. Prior is nil when the commit creates the claim; New is nil
// when a compensating commit reverts a creation.
type Delta struct {
	ClaimID string        `json:"claim_id"`
	Prior   *claims.Claim `json:"prior,omitempty"`
	New     *claims.Claim `json:"new,omitempty"`
}

// Commit is an immutable ledger entry. Each commit is hash-chained to its
// predecessor; Verify recomputes the full chain.
type Commit struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Deltas   []Delta             `json:"deltas"`
	Evidence []claims.Evidence   `json:"evidence,omitempty"`
	Trace    *claims.PolicyTrace `json:"trace,omitempty"`

	// Undoes names the commit this compensates (undo commits only).
	Undoes string `json:"undoes,omitempty"`

	PrevHash    string `json:"prev_hash"`
	ContentHash string `json:"content_hash"`
}

// ClaimIDs returns the ids of all claims touched by the commit.
func (c *Commit) ClaimIDs() []string {
	ids := make([]string, 0, len(c.Deltas))
	for _, d := range c.Deltas {
		ids = append(ids, d.ClaimID)
	}
	return ids
}

// Touches reports whether the commit touches the given claim id.
func (c *Commit) Touches(claimID string) bool {
	for _, d := range c.Deltas {
		if d.ClaimID == claimID {
			return true
		}
	}
	return false
}

// Summary is the compact commit view returned by the changes feed.
type Summary struct {
	Seq       uint64    `json:"seq"`
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ClaimIDs  []string  `json:"claim_ids"`
	Outcome   string    `json:"outcome,omitempty"`
	Undoes    string    `json:"undoes,omitempty"`
}

// Summarize builds the changes-feed view of the commit.
func (c *Commit) Summarize() Summary {
	s := Summary{
		Seq:       c.Seq,
		ID:        c.ID,
		Kind:      c.Kind,
		Actor:     c.Actor,
		Timestamp: c.Timestamp,
		ClaimIDs:  c.ClaimIDs(),
		Undoes:    c.Undoes,
	}
	if c.Trace != nil {
		s.Outcome = string(c.Trace.Outcome)
	}
	return s
}
