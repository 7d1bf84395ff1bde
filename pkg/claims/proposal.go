package claims

import (
	"fmt"
)

// Proposal is the structured claim proposal submitted by an agent.
// The engine never originates facts itself; it only adjudicates these.
type Proposal struct {
	SubjectID   string     `json:"subject_id"`
	Predicate   string     `json:"predicate"`
	ObjectKind  ObjectKind `json:"object_kind"`
	ObjectValue string     `json:"object_value"`
	ModelConf   float64    `json:"model_conf"`
	HumanConf   *float64   `json:"human_conf,omitempty"`
	Evidence    []Evidence `json:"evidence"`
	Provenance  Provenance `json:"provenance,omitempty"`

	// SessionID scopes the per-session edge budget.
	SessionID string `json:"session_id,omitempty"`
}

// Validate checks structural invariants before any policy is consulted.
// Predicate and source-type allowlisting happen against the policy snapshot,
// not here.
func (p *Proposal) Validate() error {
	if p.SubjectID == "" {
		return fmt.Errorf("%w: missing subject_id", ErrInvalidEvidence)
	}
	if p.Predicate == "" {
		return fmt.Errorf("%w: missing predicate", ErrPolicyViolation)
	}
	if p.ObjectKind != ObjectEntity && p.ObjectKind != ObjectLiteral {
		return fmt.Errorf("%w: object_kind must be entity or literal, got %q", ErrInvalidEvidence, p.ObjectKind)
	}
	if p.ObjectValue == "" {
		return fmt.Errorf("%w: missing object_value", ErrInvalidEvidence)
	}
	if p.ModelConf < 0 || p.ModelConf > 1 {
		return fmt.Errorf("%w: model_conf %f out of [0,1]", ErrInvalidEvidence, p.ModelConf)
	}
	return ValidateEvidenceSet(p.Evidence)
}
