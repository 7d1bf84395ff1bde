package policy

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/veridian-labs/claimgate/pkg/canonicalize"
	"github.com/veridian-labs/claimgate/pkg/claims"
)

// PredicatePolicy is the compiled policy for one predicate.
type PredicatePolicy struct {
	Cardinality Cardinality
	Thresholds  map[Tier]float64
	Overwrite   Overwrite
	guard       *guardProgram
}

// SourcePolicy is the compiled policy for one evidence source type.
type SourcePolicy struct {
	Tier         Tier
	Bonus        float64
	RatePerMin   int
	AllowDomains map[string]struct{}
	TTL          time.Duration
}

// ShadowPolicy controls shadow writes.
type ShadowPolicy struct {
	Enabled      bool
	Label        string
	PromoteAfter time.Duration
}

// Limits holds global write budgets.
type Limits struct {
	PerSessionEdges int
}

// Snapshot is one immutable, fully-compiled policy configuration. All reads
// go through value receivers on an already-published snapshot; nothing here
// is ever mutated after Compile returns.
type Snapshot struct {
	Version  string
	Hash     string
	Mode     Mode
	Shadow   ShadowPolicy
	Limits   Limits
	LoadedAt time.Time

	predicates map[string]*PredicatePolicy
	sources    map[string]*SourcePolicy
}

// Compile validates a parsed document and produces an immutable snapshot.
// CEL guards are compiled here, once, so decision-path evaluation never
// pays compilation cost.
func Compile(doc *Document) (*Snapshot, error) {
	if doc == nil {
		return nil, fmt.Errorf("policy: nil document")
	}

	mode := Mode(doc.Mode)
	switch mode {
	case ModeAuto, ModeReview, ModeDryRun, ModeShadow:
	case "":
		mode = ModeReview
	default:
		return nil, fmt.Errorf("policy: unknown mode %q", doc.Mode)
	}

	hash, err := canonicalize.CanonicalHash(doc)
	if err != nil {
		return nil, fmt.Errorf("policy: hash document: %w", err)
	}

	snap := &Snapshot{
		Version:    doc.Version,
		Hash:       hash,
		Mode:       mode,
		LoadedAt:   time.Now().UTC(),
		predicates: make(map[string]*PredicatePolicy, len(doc.Predicates)),
		sources:    make(map[string]*SourcePolicy, len(doc.Sources)),
	}

	for name, pd := range doc.Predicates {
		pp := &PredicatePolicy{
			Cardinality: Cardinality(pd.Cardinality),
			Overwrite:   Overwrite(pd.Overwrite),
			Thresholds:  make(map[Tier]float64, len(pd.Threshold)),
		}
		switch pp.Cardinality {
		case CardinalityFunctional, CardinalitySet:
		default:
			return nil, fmt.Errorf("policy: predicate %s: unknown cardinality %q", name, pd.Cardinality)
		}
		switch pp.Overwrite {
		case OverwriteSupersede, OverwriteCoexist, OverwriteForbid:
		case "":
			pp.Overwrite = OverwriteSupersede
		default:
			return nil, fmt.Errorf("policy: predicate %s: unknown overwrite %q", name, pd.Overwrite)
		}
		for tier, v := range pd.Threshold {
			switch Tier(tier) {
			case TierA, TierB, TierC:
			default:
				return nil, fmt.Errorf("policy: predicate %s: unknown tier %q", name, tier)
			}
			if v < 0 || v > 1 {
				return nil, fmt.Errorf("policy: predicate %s: threshold %f out of [0,1]", name, v)
			}
			pp.Thresholds[Tier(tier)] = v
		}
		if pd.Guard != "" {
			g, err := compileGuard(pd.Guard)
			if err != nil {
				return nil, fmt.Errorf("policy: predicate %s: %w", name, err)
			}
			pp.guard = g
		}
		snap.predicates[name] = pp
	}

	for name, sd := range doc.Sources {
		sp := &SourcePolicy{
			Tier:       Tier(sd.Tier),
			RatePerMin: sd.RatePerMin,
			TTL:        time.Duration(sd.TTLDays) * 24 * time.Hour,
		}
		switch sp.Tier {
		case TierA, TierB, TierC:
		default:
			return nil, fmt.Errorf("policy: source %s: unknown tier %q", name, sd.Tier)
		}
		if sd.Bonus != nil {
			sp.Bonus = *sd.Bonus
		} else if sp.Tier == TierA {
			sp.Bonus = DefaultFirstPartyBonus
		}
		if len(sd.AllowDomains) > 0 {
			sp.AllowDomains = make(map[string]struct{}, len(sd.AllowDomains))
			for _, d := range sd.AllowDomains {
				sp.AllowDomains[strings.ToLower(d)] = struct{}{}
			}
		}
		snap.sources[name] = sp
	}

	snap.Shadow = ShadowPolicy{
		Enabled:      doc.Shadow.Enabled,
		Label:        doc.Shadow.Label,
		PromoteAfter: time.Duration(doc.Shadow.PromoteAfterMin) * time.Minute,
	}
	if snap.Shadow.Label == "" {
		snap.Shadow.Label = DefaultShadowLabel
	}
	if snap.Shadow.PromoteAfter <= 0 {
		snap.Shadow.PromoteAfter = DefaultPromoteAfter
	}
	snap.Limits = Limits{PerSessionEdges: doc.Limits.PerSessionEdges}

	return snap, nil
}

// Predicate returns the compiled policy for a predicate. Unknown predicates
// are a policy violation: the allowlist is the set of configured predicates.
func (s *Snapshot) Predicate(name string) (*PredicatePolicy, error) {
	pp, ok := s.predicates[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown predicate %q", claims.ErrPolicyViolation, name)
	}
	return pp, nil
}

// Cardinality returns the cardinality of a predicate.
func (s *Snapshot) Cardinality(predicate string) (Cardinality, error) {
	pp, err := s.Predicate(predicate)
	if err != nil {
		return "", err
	}
	return pp.Cardinality, nil
}

// Threshold returns the trust threshold for a predicate at a tier.
// Tiers with no configured threshold get UnreachableThreshold: they can
// never auto-merge.
func (s *Snapshot) Threshold(predicate string, tier Tier) (float64, error) {
	pp, err := s.Predicate(predicate)
	if err != nil {
		return 0, err
	}
	v, ok := pp.Thresholds[tier]
	if !ok {
		return UnreachableThreshold, nil
	}
	return v, nil
}

// OverwriteStrategy returns the overwrite strategy for a predicate.
func (s *Snapshot) OverwriteStrategy(predicate string) (Overwrite, error) {
	pp, err := s.Predicate(predicate)
	if err != nil {
		return "", err
	}
	return pp.Overwrite, nil
}

// Source returns the compiled policy for an evidence source type.
func (s *Snapshot) Source(sourceType string) (*SourcePolicy, error) {
	sp, ok := s.sources[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", claims.ErrPolicyViolation, sourceType)
	}
	return sp, nil
}

// Tier returns the trust tier of an evidence source type.
func (s *Snapshot) Tier(sourceType string) (Tier, error) {
	sp, err := s.Source(sourceType)
	if err != nil {
		return "", err
	}
	return sp.Tier, nil
}

// ClaimTier returns the governing tier for an evidence set: the weakest
// tier present. Mixed-tier evidence is judged by its weakest link.
func (s *Snapshot) ClaimTier(evidence []claims.Evidence) (Tier, error) {
	tier := TierA
	for i := range evidence {
		t, err := s.Tier(evidence[i].SourceType)
		if err != nil {
			return "", err
		}
		if t.WeakerThan(tier) {
			tier = t
		}
	}
	return tier, nil
}

// CheckEvidence enforces per-source domain allowlists and evidence TTLs.
func (s *Snapshot) CheckEvidence(now time.Time, evidence []claims.Evidence) error {
	for i := range evidence {
		e := &evidence[i]
		sp, err := s.Source(e.SourceType)
		if err != nil {
			return err
		}
		if len(sp.AllowDomains) > 0 {
			host := hostOf(e.URIOrBlobRef)
			if _, ok := sp.AllowDomains[host]; !ok {
				return fmt.Errorf("%w: source %s does not allow domain %q",
					claims.ErrInvalidEvidence, e.SourceType, host)
			}
		}
		if sp.TTL > 0 && !e.Timestamp.IsZero() && now.Sub(e.Timestamp) > sp.TTL {
			return fmt.Errorf("%w: evidence %s expired (older than %s)",
				claims.ErrInvalidEvidence, e.URIOrBlobRef, sp.TTL)
		}
	}
	return nil
}

func hostOf(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return strings.ToLower(ref)
	}
	return strings.ToLower(u.Hostname())
}
