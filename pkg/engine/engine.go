// Package engine is the policy decision point of the write gateway. It takes
// claim proposals through validation, trust scoring, conflict resolution, and
// the ledger commit, and enqueues the side effects the decision implies.
//
// Nothing reaches the knowledge graph except through this package.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/veridian-labs/claimgate/pkg/audit"
	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/graph"
	"github.com/veridian-labs/claimgate/pkg/ledger"
	"github.com/veridian-labs/claimgate/pkg/observability"
	"github.com/veridian-labs/claimgate/pkg/outbox"
	"github.com/veridian-labs/claimgate/pkg/policy"
	"github.com/veridian-labs/claimgate/pkg/resolver"
	"github.com/veridian-labs/claimgate/pkg/trust"
)

// Engine adjudicates claim proposals against the active policy snapshot and
// the ledger state.
type Engine struct {
	table    *policy.Table
	ledger   *ledger.Ledger
	locks    *ledger.KeyLocks
	trust    *trust.Calculator
	outbox   outbox.Store
	limiter  LimiterStore
	sessions *SessionBudget
	audit    audit.Logger
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *observability.Provider
	clock    func() time.Time
}

// New wires an engine to its policy table, ledger, and outbox.
func New(table *policy.Table, led *ledger.Ledger, ob outbox.Store) *Engine {
	return &Engine{
		table:    table,
		ledger:   led,
		locks:    ledger.NewKeyLocks(),
		trust:    trust.New(),
		outbox:   ob,
		sessions: NewSessionBudget(),
		audit:    audit.Nop{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("claimgate/engine"),
		clock:    time.Now,
	}
}

// WithLimiter attaches a per-source rate limiter.
func (e *Engine) WithLimiter(l LimiterStore) *Engine {
	e.limiter = l
	return e
}

// WithMetrics attaches the gateway's metric instruments.
func (e *Engine) WithMetrics(p *observability.Provider) *Engine {
	e.metrics = p
	return e
}

// WithAudit attaches an audit logger.
func (e *Engine) WithAudit(a audit.Logger) *Engine {
	e.audit = a
	return e
}

// WithLogger overrides the structured logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// WithClock overrides the clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	if e.sessions != nil {
		e.sessions.WithClock(clock)
	}
	return e
}

// Sessions exposes the session budget tracker.
func (e *Engine) Sessions() *SessionBudget { return e.sessions }

// Locks exposes the per-key lock set so the undo/promotion controller can
// serialize with in-flight proposals on the same keys.
func (e *Engine) Locks() *ledger.KeyLocks { return e.locks }

// Propose runs one proposal through the full decision pipeline. The policy
// snapshot is pinned once at entry; a concurrent reload never changes the
// rules mid-decision.
func (e *Engine) Propose(ctx context.Context, p *claims.Proposal) (*claims.Result, error) {
	start := time.Now()
	res, err := e.propose(ctx, p)
	if e.metrics != nil {
		e.metrics.RecordDecisionDuration(ctx, time.Since(start))
		if err != nil {
			e.metrics.RecordError(ctx, err)
		} else {
			e.metrics.RecordProposal(ctx, string(res.Decision.Outcome))
		}
	}
	return res, err
}

func (e *Engine) propose(ctx context.Context, p *claims.Proposal) (*claims.Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Propose")
	defer span.End()

	snap := e.table.Snapshot()
	now := e.clock().UTC()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	// The predicate allowlist is the set of configured predicates.
	if _, err := snap.Predicate(p.Predicate); err != nil {
		return nil, err
	}
	if err := snap.CheckEvidence(now, p.Evidence); err != nil {
		return nil, err
	}
	if err := e.checkRateLimits(ctx, snap, p); err != nil {
		return nil, err
	}
	if !e.sessions.Check(p.SessionID, snap.Limits.PerSessionEdges) {
		return nil, fmt.Errorf("%w: session %s", claims.ErrSessionLimitExceeded, p.SessionID)
	}

	score, err := e.trust.Compute(p.Evidence, p.ModelConf, p.Predicate, snap)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("claim.predicate", p.Predicate),
		attribute.Float64("claim.trust", score),
	)

	// Serialize incumbent read through commit per (subject, predicate) key.
	unlock := e.locks.Lock(ledger.LockKey(p.SubjectID, p.Predicate))
	defer unlock()

	incumbent := e.ledger.Incumbent(p.SubjectID, p.Predicate)
	duplicate := e.ledger.FindTriple(p.SubjectID, p.Predicate, p.ObjectValue)

	res, err := resolver.Resolve(resolver.Input{
		Proposal:  p,
		Trust:     score,
		ValidFrom: now,
		Snapshot:  snap,
		Incumbent: incumbent,
		Duplicate: duplicate,
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("claim.outcome", string(res.Decision.Outcome)))

	decisionTrace := &claims.PolicyTrace{
		TrustScore:    score,
		Tier:          string(res.Tier),
		Threshold:     res.Threshold,
		Outcome:       res.Decision.Outcome,
		Reason:        res.Decision.Reason,
		Mode:          string(snap.Mode),
		PolicyVersion: snap.Version,
		PolicyHash:    snap.Hash,
		IncumbentID:   res.Decision.IncumbentID,
		Shadow:        res.Decision.Shadow,
	}
	if incumbent != nil {
		decisionTrace.IncumbentTrust = incumbent.Trust
	}

	// Idempotent re-proposal: the triple is already an active claim. No new
	// row, no commit.
	if res.Decision.Reason == claims.ReasonDuplicate {
		return &claims.Result{
			Decision: res.Decision,
			Status:   claims.StatusApproved,
			Trust:    score,
			ClaimID:  res.Decision.IncumbentID,
		}, nil
	}

	status := statusFor(res.Decision)

	// Dry-run evaluates everything and commits nothing.
	if snap.Mode == policy.ModeDryRun {
		e.logger.InfoContext(ctx, "dry-run decision",
			"predicate", p.Predicate, "outcome", res.Decision.Outcome, "trust", score)
		return &claims.Result{Decision: res.Decision, Status: status, Trust: score}, nil
	}

	claim, evidence := e.buildClaim(p, status, score, now, res.Decision, decisionTrace)

	deltas := []ledger.Delta{{ClaimID: claim.ID, New: claim}}
	var conflicts []string
	switch res.Decision.Outcome {
	case claims.OutcomeSupersede:
		if !res.Decision.Shadow {
			closed := incumbent.Clone()
			closed.Status = claims.StatusSuperseded
			closed.ValidTo = &now
			deltas = append(deltas, ledger.Delta{ClaimID: incumbent.ID, Prior: incumbent, New: closed})
		}
	case claims.OutcomeCoexist:
		conflicts = append(conflicts, incumbent.ID)
		if !res.Decision.Shadow && !incumbent.Conflict {
			flagged := incumbent.Clone()
			flagged.Conflict = true
			deltas = append(deltas, ledger.Delta{ClaimID: incumbent.ID, Prior: incumbent, New: flagged})
		}
	}

	commit, err := e.ledger.Append(ctx, ledger.Commit{
		Kind:     ledger.KindProposal,
		Actor:    p.Provenance.Who,
		Deltas:   deltas,
		Evidence: evidence,
		Trace:    decisionTrace,
	})
	if err != nil {
		return nil, err
	}
	e.sessions.Commit(p.SessionID)

	// Commit happens-before enqueue: an intent always refers to a durable
	// commit. Enqueue failures are logged, not surfaced; the sweep in the
	// scheduler re-derives missing intents from the ledger.
	if err := e.outbox.Enqueue(ctx, e.intentsFor(claim, incumbent, res.Decision, commit, now)...); err != nil {
		e.logger.ErrorContext(ctx, "outbox enqueue failed", "commit", commit.ID, "error", err)
	}

	e.recordDecision(ctx, p, claim, commit, decisionTrace)

	return &claims.Result{
		Decision:  res.Decision,
		Status:    status,
		Trust:     score,
		ClaimID:   claim.ID,
		CommitID:  commit.ID,
		Conflicts: conflicts,
	}, nil
}

// ApplyReview resolves a pending claim with a human verdict. Approval wins
// over any standing incumbent: the reviewer's call supersedes it regardless
// of trust.
func (e *Engine) ApplyReview(ctx context.Context, claimID string, approve bool, reviewer string, humanConf *float64) (*claims.Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.ApplyReview")
	defer span.End()

	snap := e.table.Snapshot()
	now := e.clock().UTC()

	pending, err := e.ledger.Claim(claimID)
	if err != nil {
		return nil, err
	}
	if pending.Status != claims.StatusPending {
		return nil, fmt.Errorf("%w: claim %s is %s, only pending claims can be reviewed",
			claims.ErrPolicyViolation, claimID, pending.Status)
	}

	unlock := e.locks.Lock(pending.Key())
	defer unlock()

	// Re-read under the lock; a concurrent review may have resolved it.
	pending, err = e.ledger.Claim(claimID)
	if err != nil {
		return nil, err
	}
	if pending.Status != claims.StatusPending {
		return nil, fmt.Errorf("%w: claim %s is %s, only pending claims can be reviewed",
			claims.ErrPolicyViolation, claimID, pending.Status)
	}

	next := pending.Clone()
	next.HumanConf = humanConf
	if approve {
		next.Status = claims.StatusApproved
	} else {
		next.Status = claims.StatusRejected
	}

	deltas := []ledger.Delta{{ClaimID: pending.ID, Prior: pending, New: next}}
	var incumbent *claims.Claim
	if approve && !next.Shadow {
		if card, cerr := snap.Cardinality(pending.Predicate); cerr == nil && card == policy.CardinalityFunctional {
			incumbent = e.ledger.Incumbent(pending.SubjectID, pending.Predicate)
			if incumbent != nil && incumbent.ID != pending.ID {
				closed := incumbent.Clone()
				closed.Status = claims.StatusSuperseded
				closed.ValidTo = &now
				deltas = append(deltas, ledger.Delta{ClaimID: incumbent.ID, Prior: incumbent, New: closed})
			}
		}
	}

	commit, err := e.ledger.Append(ctx, ledger.Commit{
		Kind:   ledger.KindReview,
		Actor:  reviewer,
		Deltas: deltas,
	})
	if err != nil {
		return nil, err
	}

	if approve && !next.Shadow {
		intents := []outbox.Intent{materializeIntent(next, commit, now)}
		if incumbent != nil && incumbent.ID != pending.ID {
			intents = append(intents, retractIntent(incumbent, commit, now))
		}
		if err := e.outbox.Enqueue(ctx, intents...); err != nil {
			e.logger.ErrorContext(ctx, "outbox enqueue failed", "commit", commit.ID, "error", err)
		}
	}

	action := "reject"
	if approve {
		action = "approve"
	}
	_ = e.audit.Record(ctx, audit.EventReview, reviewer, action, "claim:"+claimID, map[string]interface{}{
		"commit_id": commit.ID,
	})

	decision := claims.Decision{Outcome: claims.OutcomeReject}
	if approve {
		decision = claims.Decision{Outcome: claims.OutcomeAdmit}
	}
	return &claims.Result{
		Decision: decision,
		Status:   next.Status,
		Trust:    next.Trust,
		ClaimID:  next.ID,
		CommitID: commit.ID,
	}, nil
}

func (e *Engine) checkRateLimits(ctx context.Context, snap *policy.Snapshot, p *claims.Proposal) error {
	if e.limiter == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(p.Evidence))
	for i := range p.Evidence {
		st := p.Evidence[i].SourceType
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		sp, err := snap.Source(st)
		if err != nil {
			return err
		}
		if sp.RatePerMin <= 0 {
			continue
		}
		ok, err := e.limiter.Allow(ctx, "source:"+st, sp.RatePerMin)
		if err != nil {
			// Fail closed: an unreachable limiter store must not open the
			// write path.
			return fmt.Errorf("rate limiter unavailable: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: source %s", claims.ErrRateLimited, st)
		}
	}
	return nil
}

func (e *Engine) buildClaim(p *claims.Proposal, status claims.Status, score float64, now time.Time, d claims.Decision, tr *claims.PolicyTrace) (*claims.Claim, []claims.Evidence) {
	evidence := make([]claims.Evidence, len(p.Evidence))
	evidenceIDs := make([]string, len(p.Evidence))
	for i, ev := range p.Evidence {
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		evidence[i] = ev
		evidenceIDs[i] = ev.ID
	}

	prov := p.Provenance
	if prov.When.IsZero() {
		prov.When = now
	}

	return &claims.Claim{
		ID:          uuid.New().String(),
		SubjectID:   p.SubjectID,
		Predicate:   p.Predicate,
		ObjectKind:  p.ObjectKind,
		ObjectValue: p.ObjectValue,
		Status:      status,
		ModelConf:   p.ModelConf,
		HumanConf:   p.HumanConf,
		ValidFrom:   now,
		Trust:       score,
		Conflict:    d.Outcome == claims.OutcomeCoexist,
		Shadow:      d.Shadow,
		EvidenceIDs: evidenceIDs,
		Provenance:  prov,
		Decision:    tr,
	}, evidence
}

func (e *Engine) intentsFor(claim *claims.Claim, incumbent *claims.Claim, d claims.Decision, commit *ledger.Commit, now time.Time) []outbox.Intent {
	var intents []outbox.Intent
	switch {
	case claim.Status == claims.StatusApproved && !claim.Shadow:
		intents = append(intents, materializeIntent(claim, commit, now))
		if d.Outcome == claims.OutcomeSupersede && incumbent != nil {
			intents = append(intents, retractIntent(incumbent, commit, now))
		}
		intents = append(intents, snippetIntents(claim, commit, now)...)
	case claim.Status == claims.StatusPending && !claim.Shadow:
		intents = append(intents, outbox.Intent{
			ID:        outbox.IntentID(claim.ID, outbox.KindReview),
			Kind:      outbox.KindReview,
			ClaimID:   claim.ID,
			CommitID:  commit.ID,
			CreatedAt: now,
		})
	}
	return intents
}

func edgePayload(c *claims.Claim) json.RawMessage {
	b, _ := json.Marshal(graph.EdgeFromClaim(c))
	return b
}

func materializeIntent(c *claims.Claim, commit *ledger.Commit, now time.Time) outbox.Intent {
	return outbox.Intent{
		ID:        outbox.IntentID(c.ID, outbox.KindMaterialize),
		Kind:      outbox.KindMaterialize,
		ClaimID:   c.ID,
		CommitID:  commit.ID,
		Payload:   edgePayload(c),
		CreatedAt: now,
	}
}

func retractIntent(c *claims.Claim, commit *ledger.Commit, now time.Time) outbox.Intent {
	return outbox.Intent{
		ID:        outbox.IntentID(c.ID, outbox.KindRetract),
		Kind:      outbox.KindRetract,
		ClaimID:   c.ID,
		CommitID:  commit.ID,
		Payload:   edgePayload(c),
		CreatedAt: now,
	}
}

func snippetIntents(c *claims.Claim, commit *ledger.Commit, now time.Time) []outbox.Intent {
	if len(c.EvidenceIDs) == 0 {
		return nil
	}
	return []outbox.Intent{{
		ID:        outbox.IntentID(c.ID, outbox.KindIndexSnippet),
		Kind:      outbox.KindIndexSnippet,
		ClaimID:   c.ID,
		CommitID:  commit.ID,
		CreatedAt: now,
	}}
}

func statusFor(d claims.Decision) claims.Status {
	switch d.Outcome {
	case claims.OutcomeReject:
		// Below-threshold and review-mode claims are parked for a human, not
		// discarded; only hard vetoes reject outright.
		if d.Reason == claims.ReasonRequiresReview || d.Reason == claims.ReasonBelowThreshold {
			return claims.StatusPending
		}
		return claims.StatusRejected
	case claims.OutcomeCoexist:
		// Both claims are kept and flagged, but the incumbent remains the one
		// authoritative fact; the challenger waits for adjudication. A
		// functional key never carries two active claims.
		return claims.StatusPending
	default:
		return claims.StatusApproved
	}
}

func (e *Engine) recordDecision(ctx context.Context, p *claims.Proposal, claim *claims.Claim, commit *ledger.Commit, tr *claims.PolicyTrace) {
	e.logger.InfoContext(ctx, "claim decided",
		"claim", claim.ID,
		"predicate", p.Predicate,
		"outcome", tr.Outcome,
		"reason", tr.Reason,
		"trust", tr.TrustScore,
		"tier", tr.Tier,
		"shadow", tr.Shadow,
		"commit", commit.ID,
	)
	_ = e.audit.Record(ctx, audit.EventDecision, p.Provenance.Who, string(tr.Outcome), "claim:"+claim.ID,
		map[string]interface{}{
			"predicate":      p.Predicate,
			"trust":          tr.TrustScore,
			"tier":           tr.Tier,
			"threshold":      tr.Threshold,
			"reason":         tr.Reason,
			"policy_version": tr.PolicyVersion,
			"commit_id":      commit.ID,
		})
}
