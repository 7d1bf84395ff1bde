// Package revert implements the undo/promotion controller: transactional
// compensation of ledger commits and promotion of shadow claims to
// authoritative status.
//
// Undo never rewrites history. It appends a compensating commit that restores
// every touched claim row to its exact pre-commit field values, and enqueues
// the materialization corrections the restoration implies.
package revert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridian-labs/claimgate/pkg/audit"
	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/graph"
	"github.com/veridian-labs/claimgate/pkg/ledger"
	"github.com/veridian-labs/claimgate/pkg/outbox"
	"github.com/veridian-labs/claimgate/pkg/policy"
	"github.com/veridian-labs/claimgate/pkg/resolver"
)

// Controller reverts commits and promotes shadow claims.
type Controller struct {
	ledger *ledger.Ledger
	table  *policy.Table
	outbox outbox.Store
	locks  *ledger.KeyLocks
	audit  audit.Logger
	logger *slog.Logger
	clock  func() time.Time
}

// New wires a controller. The lock set must be shared with the decision
// engine so undo and proposals serialize on the same keys.
func New(led *ledger.Ledger, table *policy.Table, ob outbox.Store, locks *ledger.KeyLocks) *Controller {
	return &Controller{
		ledger: led,
		table:  table,
		outbox: ob,
		locks:  locks,
		audit:  audit.Nop{},
		logger: slog.Default(),
		clock:  time.Now,
	}
}

// WithAudit attaches an audit logger.
func (c *Controller) WithAudit(a audit.Logger) *Controller {
	c.audit = a
	return c
}

// WithLogger overrides the structured logger.
func (c *Controller) WithLogger(l *slog.Logger) *Controller {
	c.logger = l
	return c
}

// WithClock overrides the clock for deterministic tests.
func (c *Controller) WithClock(clock func() time.Time) *Controller {
	c.clock = clock
	return c
}

// Undo appends a compensating commit reverting every delta of the target
// commit, in reverse order. It fails when the commit was already undone, or
// when later commits touched the same claims: those must be undone first.
func (c *Controller) Undo(ctx context.Context, commitID, actor string) (*ledger.Commit, error) {
	target, err := c.ledger.ByID(commitID)
	if err != nil {
		return nil, err
	}
	if target.Kind == ledger.KindUndo {
		return nil, fmt.Errorf("%w: commit %s is itself an undo", claims.ErrUndoConflict, commitID)
	}
	if undoID, done := c.ledger.UndoneBy(commitID); done {
		return nil, fmt.Errorf("%w: commit %s already undone by %s", claims.ErrAlreadyUndone, commitID, undoID)
	}

	// Every delta in one commit shares the (subject, predicate) key, so one
	// key lock covers the whole compensation.
	unlock := c.locks.Lock(commitKey(target))
	defer unlock()

	if undoID, done := c.ledger.UndoneBy(commitID); done {
		return nil, fmt.Errorf("%w: commit %s already undone by %s", claims.ErrAlreadyUndone, commitID, undoID)
	}
	// Later commits touching the same claims block the undo, unless they
	// are compensations themselves or have already been compensated.
	blocking := 0
	for _, dep := range c.ledger.DependentsAfter(target.Seq, target.ClaimIDs()) {
		if dep.Kind == ledger.KindUndo {
			continue
		}
		if _, done := c.ledger.UndoneBy(dep.ID); done {
			continue
		}
		blocking++
	}
	if blocking > 0 {
		return nil, fmt.Errorf("%w: %d later commit(s) touch the same claims, undo those first",
			claims.ErrUndoConflict, blocking)
	}

	deltas := make([]ledger.Delta, 0, len(target.Deltas))
	for i := len(target.Deltas) - 1; i >= 0; i-- {
		d := target.Deltas[i]
		deltas = append(deltas, ledger.Delta{
			ClaimID: d.ClaimID,
			Prior:   d.New.Clone(),
			New:     d.Prior.Clone(),
		})
	}

	undo, err := c.ledger.Append(ctx, ledger.Commit{
		Kind:   ledger.KindUndo,
		Actor:  actor,
		Undoes: commitID,
		Deltas: deltas,
	})
	if err != nil {
		return nil, err
	}

	if err := c.outbox.Enqueue(ctx, compensationIntents(undo)...); err != nil {
		c.logger.ErrorContext(ctx, "outbox enqueue failed", "commit", undo.ID, "error", err)
	}

	c.logger.InfoContext(ctx, "commit undone", "target", commitID, "undo", undo.ID, "actor", actor)
	_ = c.audit.Record(ctx, audit.EventUndo, actor, "undo", "commit:"+commitID, map[string]interface{}{
		"undo_commit_id": undo.ID,
		"claims":         target.ClaimIDs(),
	})
	return undo, nil
}

// UndoLast reverts the newest n undoable commits, newest first. Undo commits
// and already-compensated commits are skipped, not counted.
func (c *Controller) UndoLast(ctx context.Context, n int, actor string) ([]*ledger.Commit, error) {
	if n <= 0 {
		return nil, fmt.Errorf("undo: n must be positive, got %d", n)
	}
	var out []*ledger.Commit
	for seq := uint64(c.ledger.Len()); seq >= 1 && len(out) < n; seq-- {
		target, err := c.ledger.Get(seq)
		if err != nil {
			return out, err
		}
		if target.Kind == ledger.KindUndo {
			continue
		}
		if _, done := c.ledger.UndoneBy(target.ID); done {
			continue
		}
		undo, err := c.Undo(ctx, target.ID, actor)
		if err != nil {
			return out, err
		}
		out = append(out, undo)
	}
	return out, nil
}

// PromoteShadow re-resolves shadow claims written before the cutoff against
// the current incumbent and the current policy, and returns how many were
// promoted to authoritative status. Facts may have changed since the shadow
// write; a shadow claim that no longer wins is closed instead.
func (c *Controller) PromoteShadow(ctx context.Context, olderThan time.Time, actor string) (int, error) {
	// Promotion judges the claim as an authoritative write regardless of the
	// gateway's current mode.
	snap := *c.table.Snapshot()
	snap.Mode = policy.ModeAuto

	promoted := 0
	for _, candidate := range c.ledger.ShadowOlderThan(olderThan) {
		ok, err := c.promoteOne(ctx, &snap, candidate, actor)
		if err != nil {
			c.logger.ErrorContext(ctx, "shadow promotion failed", "claim", candidate.ID, "error", err)
			continue
		}
		if ok {
			promoted++
		}
	}
	return promoted, nil
}

func (c *Controller) promoteOne(ctx context.Context, snap *policy.Snapshot, candidate *claims.Claim, actor string) (bool, error) {
	unlock := c.locks.Lock(candidate.Key())
	defer unlock()

	// Re-read under the lock; a concurrent sweep may have resolved it.
	current, err := c.ledger.Claim(candidate.ID)
	if err != nil {
		return false, err
	}
	if !current.Shadow || current.Status != claims.StatusApproved || current.ValidTo != nil {
		return false, nil
	}

	evidence := make([]claims.Evidence, 0, len(current.EvidenceIDs))
	for _, id := range current.EvidenceIDs {
		e, err := c.ledger.Evidence(id)
		if err != nil {
			return false, err
		}
		evidence = append(evidence, e)
	}

	incumbent := c.ledger.Incumbent(current.SubjectID, current.Predicate)
	duplicate := c.ledger.FindTriple(current.SubjectID, current.Predicate, current.ObjectValue)

	res, err := resolver.Resolve(resolver.Input{
		Proposal: &claims.Proposal{
			SubjectID:   current.SubjectID,
			Predicate:   current.Predicate,
			ObjectKind:  current.ObjectKind,
			ObjectValue: current.ObjectValue,
			ModelConf:   current.ModelConf,
			Evidence:    evidence,
		},
		Trust:     current.Trust,
		ValidFrom: current.ValidFrom,
		Snapshot:  snap,
		Incumbent: incumbent,
		Duplicate: duplicate,
	})
	if err != nil {
		return false, err
	}

	now := c.clock().UTC()
	wins := res.Decision.Outcome == claims.OutcomeAdmit || res.Decision.Outcome == claims.OutcomeSupersede
	redundant := res.Decision.Reason == claims.ReasonDuplicate

	var deltas []ledger.Delta
	if wins && !redundant {
		next := current.Clone()
		next.Shadow = false
		deltas = append(deltas, ledger.Delta{ClaimID: current.ID, Prior: current, New: next})
		if res.Decision.Outcome == claims.OutcomeSupersede && incumbent != nil {
			closed := incumbent.Clone()
			closed.Status = claims.StatusSuperseded
			closed.ValidTo = &now
			deltas = append(deltas, ledger.Delta{ClaimID: incumbent.ID, Prior: incumbent, New: closed})
		}
	} else {
		// The shadow claim lost to the current facts, or restates them:
		// close it out.
		closed := current.Clone()
		closed.Status = claims.StatusSuperseded
		closed.ValidTo = &now
		deltas = append(deltas, ledger.Delta{ClaimID: current.ID, Prior: current, New: closed})
	}

	commit, err := c.ledger.Append(ctx, ledger.Commit{
		Kind:   ledger.KindPromotion,
		Actor:  actor,
		Deltas: deltas,
	})
	if err != nil {
		return false, err
	}

	if err := c.outbox.Enqueue(ctx, compensationIntents(commit)...); err != nil {
		c.logger.ErrorContext(ctx, "outbox enqueue failed", "commit", commit.ID, "error", err)
	}

	_ = c.audit.Record(ctx, audit.EventPromotion, actor, string(res.Decision.Outcome), "claim:"+current.ID,
		map[string]interface{}{"commit_id": commit.ID, "promoted": wins && !redundant})
	return wins && !redundant, nil
}

// compensationIntents derives the materialization corrections a commit's
// deltas imply: rows that became active get their edge, rows that stopped
// being active lose it.
func compensationIntents(commit *ledger.Commit) []outbox.Intent {
	var intents []outbox.Intent
	for _, d := range commit.Deltas {
		wasActive := d.Prior != nil && d.Prior.Active()
		isActive := d.New != nil && d.New.Active()
		switch {
		case isActive && !wasActive:
			payload, _ := json.Marshal(graph.EdgeFromClaim(d.New))
			intents = append(intents, outbox.Intent{
				ID:        outbox.ScopedIntentID(d.ClaimID, outbox.KindMaterialize, commit.ID),
				Kind:      outbox.KindMaterialize,
				ClaimID:   d.ClaimID,
				CommitID:  commit.ID,
				Payload:   payload,
				CreatedAt: commit.Timestamp,
			})
		case wasActive && !isActive:
			payload, _ := json.Marshal(graph.EdgeFromClaim(d.Prior))
			intents = append(intents, outbox.Intent{
				ID:        outbox.ScopedIntentID(d.ClaimID, outbox.KindRetract, commit.ID),
				Kind:      outbox.KindRetract,
				ClaimID:   d.ClaimID,
				CommitID:  commit.ID,
				Payload:   payload,
				CreatedAt: commit.Timestamp,
			})
		}
	}
	return intents
}

func commitKey(c *ledger.Commit) string {
	for _, d := range c.Deltas {
		if d.New != nil {
			return d.New.Key()
		}
		if d.Prior != nil {
			return d.Prior.Key()
		}
	}
	return ""
}
