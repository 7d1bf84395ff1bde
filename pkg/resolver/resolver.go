// Package resolver decides what happens when a scored claim meets the
// ledger's current state for its (subject, predicate) key: admit, supersede
// the incumbent, coexist flagged as conflicting, or reject.
//
// Resolve is a pure function over its inputs. The engine performs all ledger
// reads under the per-key lock and hands the results in, so the resolver
// itself never does I/O.
package resolver

import (
	"time"

	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/policy"
)

// Input carries everything a resolution needs.
type Input struct {
	Proposal *claims.Proposal
	Trust    float64

	// ValidFrom is the proposal's effective time (commit time).
	ValidFrom time.Time

	// Snapshot is the policy pinned for this decision.
	Snapshot *policy.Snapshot

	// Incumbent is the active claim for the key, nil if none. Only
	// meaningful for functional predicates.
	Incumbent *claims.Claim

	// Duplicate is an existing active claim with the identical
	// (subject, predicate, object) triple, nil if none.
	Duplicate *claims.Claim
}

// Resolution is the verdict plus the trace inputs that produced it.
type Resolution struct {
	Decision  claims.Decision
	Tier      policy.Tier
	Threshold float64
}

// Resolve runs the decision algorithm against the pinned snapshot.
func Resolve(in Input) (Resolution, error) {
	snap := in.Snapshot
	p := in.Proposal

	pp, err := snap.Predicate(p.Predicate)
	if err != nil {
		return Resolution{}, err
	}

	tier, err := snap.ClaimTier(p.Evidence)
	if err != nil {
		return Resolution{}, err
	}
	threshold, err := snap.Threshold(p.Predicate, tier)
	if err != nil {
		return Resolution{}, err
	}
	res := Resolution{Tier: tier, Threshold: threshold}

	// Review mode routes everything to a human regardless of trust. The
	// pending claim is still written; only auto-merge is off the table.
	// Dry-run is NOT handled here: it evaluates the real decision and the
	// engine withholds the commit.
	if snap.Mode == policy.ModeReview {
		res.Decision = claims.Decision{Outcome: claims.OutcomeReject, Reason: claims.ReasonRequiresReview}
		return res, nil
	}

	if in.Trust < threshold {
		res.Decision = claims.Decision{Outcome: claims.OutcomeReject, Reason: claims.ReasonBelowThreshold}
		return res, nil
	}

	if !pp.GuardAllows(policy.GuardInput{
		Subject:   p.SubjectID,
		Predicate: p.Predicate,
		Object:    p.ObjectValue,
		Trust:     in.Trust,
		Tier:      string(tier),
		ModelConf: p.ModelConf,
	}) {
		res.Decision = claims.Decision{Outcome: claims.OutcomeReject, Reason: claims.ReasonGuardVeto}
		return res, nil
	}

	switch pp.Cardinality {
	case policy.CardinalitySet:
		if in.Duplicate != nil {
			// Idempotent re-proposal: admit, pointing at the existing claim.
			res.Decision = claims.Decision{
				Outcome:     claims.OutcomeAdmit,
				Reason:      claims.ReasonDuplicate,
				IncumbentID: in.Duplicate.ID,
			}
		} else {
			res.Decision = claims.Decision{Outcome: claims.OutcomeAdmit}
		}

	case policy.CardinalityFunctional:
		res.Decision = resolveFunctional(in, pp)
	}

	// Shadow mode rewrites authoritative writes into shadow writes; the
	// incumbent stays untouched until promotion re-resolves. Coexist keeps
	// its normal pending path so reviewers still see the conflict.
	if snap.Mode == policy.ModeShadow {
		switch res.Decision.Outcome {
		case claims.OutcomeAdmit, claims.OutcomeSupersede:
			res.Decision.Shadow = true
		}
	}

	return res, nil
}

func resolveFunctional(in Input, pp *policy.PredicatePolicy) claims.Decision {
	inc := in.Incumbent
	if inc == nil {
		return claims.Decision{Outcome: claims.OutcomeAdmit}
	}
	if inc.ObjectValue == in.Proposal.ObjectValue && inc.ObjectKind == in.Proposal.ObjectKind {
		// Same fact restated: idempotent admit, no new row.
		return claims.Decision{
			Outcome:     claims.OutcomeAdmit,
			Reason:      claims.ReasonDuplicate,
			IncumbentID: inc.ID,
		}
	}

	switch pp.Overwrite {
	case policy.OverwriteForbid:
		return claims.Decision{
			Outcome:     claims.OutcomeReject,
			Reason:      claims.ReasonFunctionalConflict,
			IncumbentID: inc.ID,
		}
	case policy.OverwriteCoexist:
		return claims.Decision{Outcome: claims.OutcomeCoexist, IncumbentID: inc.ID}
	default:
		// Supersede only on strictly greater trust (equal trust must never
		// oscillate on re-proposals) and only if the challenger is not
		// older than the incumbent.
		if in.Trust > inc.Trust && !in.ValidFrom.Before(inc.ValidFrom) {
			return claims.Decision{Outcome: claims.OutcomeSupersede, IncumbentID: inc.ID}
		}
		return claims.Decision{Outcome: claims.OutcomeCoexist, IncumbentID: inc.ID}
	}
}
