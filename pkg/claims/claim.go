// Package claims defines the core data model of the write gateway:
// claims, evidence, provenance, and the structured policy decision trace
// recorded with every ledger commit.
package claims

import (
	"time"
)

// Status is the lifecycle state of a claim.
type Status string

const (
	StatusScratchpad Status = "scratchpad"
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSuperseded Status = "superseded"
)

// CanTransition reports whether a claim may move from one status to another.
// Transitions are one-way: scratchpad → {pending, approved, rejected},
// pending → {approved, rejected}, approved → superseded.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusScratchpad:
		return to == StatusPending || to == StatusApproved || to == StatusRejected
	case StatusPending:
		return to == StatusApproved || to == StatusRejected
	case StatusApproved:
		return to == StatusSuperseded
	default:
		return false
	}
}

// ObjectKind distinguishes entity references from literal values.
type ObjectKind string

const (
	ObjectEntity  ObjectKind = "entity"
	ObjectLiteral ObjectKind = "literal"
)

// Provenance records who and what produced a claim proposal.
type Provenance struct {
	Who          string    `json:"who,omitempty"`
	When         time.Time `json:"when,omitempty"`
	PromptHash   string    `json:"prompt_hash,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
	ContextHash  string    `json:"context_hash,omitempty"`
	GitSHA       string    `json:"git_sha,omitempty"`
	RunID        string    `json:"run_id,omitempty"`
}

// Claim is the central record: a proposed fact awaiting or having received
// a trust/policy decision. Claim rows are a materialized view over the
// commit ledger; they are only ever mutated through commits.
type Claim struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	Predicate   string     `json:"predicate"`
	ObjectKind  ObjectKind `json:"object_kind"`
	ObjectValue string     `json:"object_value"`
	Status      Status     `json:"status"`
	ModelConf   float64    `json:"model_conf"`
	HumanConf   *float64   `json:"human_conf,omitempty"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	CommitID    string     `json:"commit_id,omitempty"`
	Trust       float64    `json:"trust"`
	Conflict    bool       `json:"conflict"`
	Shadow      bool       `json:"shadow"`
	EvidenceIDs []string   `json:"evidence_ids"`
	Provenance  Provenance `json:"provenance"`

	// Decision is the trace of the most recent policy decision applied
	// to this claim.
	Decision *PolicyTrace `json:"policy_decision,omitempty"`
}

// Active reports whether the claim currently holds as an authoritative fact.
func (c *Claim) Active() bool {
	return c.Status == StatusApproved && c.ValidTo == nil && !c.Shadow
}

// Key returns the (subject, predicate) key the claim competes on.
func (c *Claim) Key() string {
	return c.SubjectID + "\x1f" + c.Predicate
}

// Clone returns a deep copy of the claim. Ledger deltas store prior and new
// rows by value; callers must never share pointers into the view.
func (c *Claim) Clone() *Claim {
	if c == nil {
		return nil
	}
	cp := *c
	if c.HumanConf != nil {
		v := *c.HumanConf
		cp.HumanConf = &v
	}
	if c.ValidTo != nil {
		v := *c.ValidTo
		cp.ValidTo = &v
	}
	cp.EvidenceIDs = append([]string(nil), c.EvidenceIDs...)
	if c.Decision != nil {
		d := *c.Decision
		cp.Decision = &d
	}
	return &cp
}
