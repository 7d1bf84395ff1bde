package claims

import (
	"github.com/veridian-labs/claimgate/pkg/canonicalize"
)

// Outcome is the conflict resolver's verdict for a proposal.
type Outcome string

const (
	OutcomeAdmit     Outcome = "admit"
	OutcomeSupersede Outcome = "supersede"
	OutcomeCoexist   Outcome = "coexist"
	OutcomeReject    Outcome = "reject"
)

// Reason codes attached to reject and coexist outcomes.
type Reason string

const (
	ReasonRequiresReview     Reason = "requires_review"
	ReasonBelowThreshold     Reason = "below_threshold"
	ReasonFunctionalConflict Reason = "functional_conflict"
	ReasonForbidden          Reason = "overwrite_forbidden"
	ReasonGuardVeto          Reason = "guard_veto"
	ReasonDuplicate          Reason = "duplicate"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonSessionLimit       Reason = "session_limit_exceeded"
)

// Decision is the resolver's structured verdict.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  Reason  `json:"reason,omitempty"`

	// IncumbentID names the claim being superseded, or the existing claim
	// a duplicate proposal deduplicates to.
	IncumbentID string `json:"incumbent_id,omitempty"`

	// Shadow marks an Admit/Supersede rewritten as a non-authoritative
	// shadow write pending promotion.
	Shadow bool `json:"shadow,omitempty"`
}

// PolicyTrace is the policy_decision audit trace persisted with the claim:
// what was compared, against which policy, with what result.
type PolicyTrace struct {
	TrustScore     float64 `json:"trust_score"`
	Tier           string  `json:"tier"`
	Threshold      float64 `json:"threshold"`
	Outcome        Outcome `json:"outcome"`
	Reason         Reason  `json:"reason,omitempty"`
	Mode           string  `json:"mode"`
	PolicyVersion  string  `json:"policy_version"`
	PolicyHash     string  `json:"policy_hash"`
	IncumbentID    string  `json:"incumbent_id,omitempty"`
	IncumbentTrust float64 `json:"incumbent_trust,omitempty"`
	Shadow         bool    `json:"shadow,omitempty"`
}

// Hash returns the deterministic content hash of the trace, bound into the
// commit record.
func (t *PolicyTrace) Hash() (string, error) {
	return canonicalize.CanonicalHash(t)
}

// Result is what the proposal API returns to the caller.
type Result struct {
	Decision  Decision `json:"decision"`
	Status    Status   `json:"status"`
	Trust     float64  `json:"trust_score"`
	ClaimID   string   `json:"claim_id"`
	CommitID  string   `json:"commit_id,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}
