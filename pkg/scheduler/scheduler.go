// Package scheduler runs the gateway's background loops: the shadow
// promotion sweep and the knowledge-gap scan. Both go through the decision
// engine; the scheduler never writes to the ledger or the graph itself.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/engine"
	"github.com/veridian-labs/claimgate/pkg/graph"
	"github.com/veridian-labs/claimgate/pkg/policy"
	"github.com/veridian-labs/claimgate/pkg/revert"
)

// Placeholder gap claims carry deliberately low confidence so they land in
// the review queue instead of auto-merging.
const gapModelConf = 0.25

// Scheduler owns the periodic background work.
type Scheduler struct {
	engine *engine.Engine
	revert *revert.Controller
	graph  graph.Store
	table  *policy.Table
	logger *slog.Logger
	clock  func() time.Time

	promoteInterval time.Duration
	gapInterval     time.Duration
	gapCriteria     graph.GapCriteria
	gapSource       string
	actor           string
}

// New wires a scheduler with default intervals.
func New(eng *engine.Engine, rev *revert.Controller, g graph.Store, table *policy.Table) *Scheduler {
	return &Scheduler{
		engine:          eng,
		revert:          rev,
		graph:           g,
		table:           table,
		logger:          slog.Default().With("component", "scheduler"),
		clock:           time.Now,
		promoteInterval: time.Minute,
		gapInterval:     10 * time.Minute,
		gapCriteria:     graph.GapCriteria{Limit: 32},
		gapSource:       "gap_scan",
		actor:           "scheduler",
	}
}

// WithIntervals overrides the sweep intervals.
func (s *Scheduler) WithIntervals(promote, gap time.Duration) *Scheduler {
	s.promoteInterval = promote
	s.gapInterval = gap
	return s
}

// WithGapCriteria overrides the gap query filter.
func (s *Scheduler) WithGapCriteria(c graph.GapCriteria) *Scheduler {
	s.gapCriteria = c
	return s
}

// WithGapSource overrides the evidence source type of gap proposals. The
// source must be configured in policy or every gap proposal is rejected.
func (s *Scheduler) WithGapSource(source string) *Scheduler {
	s.gapSource = source
	return s
}

// WithLogger overrides the structured logger.
func (s *Scheduler) WithLogger(l *slog.Logger) *Scheduler {
	s.logger = l
	return s
}

// WithClock overrides the clock for deterministic tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run loops until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	promote := time.NewTicker(s.promoteInterval)
	defer promote.Stop()
	gaps := time.NewTicker(s.gapInterval)
	defer gaps.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			if _, err := s.PromoteOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "shadow promotion sweep failed", "error", err)
			}
		case <-gaps.C:
			if _, err := s.ScanGapsOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "gap scan failed", "error", err)
			}
		}
	}
}

// PromoteOnce promotes shadow claims older than the policy's promote-after
// window. Returns the number of claims promoted or demoted.
func (s *Scheduler) PromoteOnce(ctx context.Context) (int, error) {
	snap := s.table.Snapshot()
	if !snap.Shadow.Enabled && snap.Mode != policy.ModeShadow {
		return 0, nil
	}
	cutoff := s.clock().UTC().Add(-snap.Shadow.PromoteAfter)
	n, err := s.revert.PromoteShadow(ctx, cutoff, s.actor)
	if n > 0 {
		s.logger.InfoContext(ctx, "shadow promotion sweep", "resolved", n, "cutoff", cutoff)
	}
	return n, err
}

// ScanGapsOnce queries the graph for missing edges and proposes a placeholder
// claim for each candidate. Rejections are expected and logged at debug:
// policy decides what a gap proposal is worth, not the scheduler.
func (s *Scheduler) ScanGapsOnce(ctx context.Context) (int, error) {
	gaps, err := s.graph.GapQuery(ctx, s.gapCriteria)
	if err != nil {
		return 0, fmt.Errorf("scheduler: gap query: %w", err)
	}

	proposed := 0
	for _, g := range gaps {
		if g.ObjectValue == "" {
			continue
		}
		p := &claims.Proposal{
			SubjectID:   g.SubjectID,
			Predicate:   g.Predicate,
			ObjectKind:  claims.ObjectKind(g.ObjectKind),
			ObjectValue: g.ObjectValue,
			ModelConf:   gapModelConf,
			Evidence: []claims.Evidence{{
				URIOrBlobRef: fmt.Sprintf("gap://%s/%s", g.SubjectID, g.Predicate),
				SourceType:   s.gapSource,
				QualityScore: 0.5,
				Snippet:      "gap scan candidate",
			}},
			Provenance: claims.Provenance{Who: s.actor},
			SessionID:  s.actor,
		}
		res, err := s.engine.Propose(ctx, p)
		if err != nil {
			s.logger.DebugContext(ctx, "gap proposal not admitted",
				"subject", g.SubjectID, "predicate", g.Predicate, "error", err)
			continue
		}
		proposed++
		s.logger.InfoContext(ctx, "gap claim proposed",
			"claim", res.ClaimID, "status", res.Status, "predicate", g.Predicate)
	}
	return proposed, nil
}
