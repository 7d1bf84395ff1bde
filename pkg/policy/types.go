// Package policy provides the versioned, reloadable policy table: predicate
// cardinality and thresholds, evidence source tiers, rate budgets, and the
// global gateway mode. The active configuration is an immutable snapshot
// behind an atomically swapped reference; readers are wait-free and every
// decision pins the snapshot it used for its full lifetime.
package policy

import (
	"time"
)

// Mode gates whether the decision engine may ever auto-merge.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeReview Mode = "review"
	ModeDryRun Mode = "dry-run"
	ModeShadow Mode = "shadow"
)

// Cardinality of a predicate.
type Cardinality string

const (
	// CardinalityFunctional allows at most one active value per subject.
	CardinalityFunctional Cardinality = "functional"
	// CardinalitySet allows multiple distinct object values per subject.
	CardinalitySet Cardinality = "set"
)

// Overwrite is the strategy for functional predicates with an incumbent.
type Overwrite string

const (
	OverwriteSupersede Overwrite = "supersede"
	OverwriteCoexist   Overwrite = "coexist"
	OverwriteForbid    Overwrite = "forbid"
)

// Tier classifies evidence sources by trustworthiness.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// WeakerThan reports whether t is a strictly weaker tier than other.
func (t Tier) WeakerThan(other Tier) bool {
	return t.rank() > other.rank()
}

func (t Tier) rank() int {
	switch t {
	case TierA:
		return 0
	case TierB:
		return 1
	default:
		return 2
	}
}

// Document is the operator-edited policy file, parsed from YAML.
type Document struct {
	Version    string                  `yaml:"version" json:"version"`
	Mode       string                  `yaml:"mode" json:"mode"`
	Predicates map[string]PredicateDoc `yaml:"predicates" json:"predicates"`
	Sources    map[string]SourceDoc    `yaml:"sources" json:"sources"`
	Shadow     ShadowDoc               `yaml:"shadow" json:"shadow"`
	Limits     LimitsDoc               `yaml:"limits" json:"limits"`
}

// PredicateDoc configures one allowlisted predicate.
type PredicateDoc struct {
	Cardinality string             `yaml:"cardinality" json:"cardinality"`
	Threshold   map[string]float64 `yaml:"threshold" json:"threshold"`
	Overwrite   string             `yaml:"overwrite" json:"overwrite"`

	// Guard is an optional CEL expression that can veto auto-merge.
	Guard string `yaml:"guard,omitempty" json:"guard,omitempty"`
}

// SourceDoc configures one evidence source type.
type SourceDoc struct {
	Tier         string   `yaml:"tier" json:"tier"`
	Bonus        *float64 `yaml:"bonus,omitempty" json:"bonus,omitempty"`
	RatePerMin   int      `yaml:"rate_per_min" json:"rate_per_min"`
	AllowDomains []string `yaml:"allow_domains,omitempty" json:"allow_domains,omitempty"`
	TTLDays      int      `yaml:"ttl_days,omitempty" json:"ttl_days,omitempty"`
}

// ShadowDoc configures shadow writes and their promotion window.
type ShadowDoc struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Label           string `yaml:"label" json:"label"`
	PromoteAfterMin int    `yaml:"promote_after_min" json:"promote_after_min"`
}

// LimitsDoc holds global write budgets.
type LimitsDoc struct {
	PerSessionEdges int `yaml:"per_session_edges" json:"per_session_edges"`
}

// Defaults applied at compile time.
const (
	// DefaultFirstPartyBonus is applied when every evidence source is Tier A
	// and no per-source bonus overrides it.
	DefaultFirstPartyBonus = 0.15

	// UnreachableThreshold denies auto-merge for tiers with no configured
	// threshold. Trust is clamped to [0,1], so this can never be met.
	UnreachableThreshold = 1.01

	// DefaultShadowLabel marks shadow-written claims.
	DefaultShadowLabel = "shadow"

	DefaultPromoteAfter = 30 * time.Minute
)
