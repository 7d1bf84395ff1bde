// Package trust computes the scalar trust score for a claim proposal.
// The calculator is a pure function over the evidence set, the model
// confidence, and the pinned policy snapshot: no side effects, no I/O.
package trust

import (
	"fmt"

	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/policy"
)

// Aggregate selects how per-evidence quality scores combine.
type Aggregate string

const (
	// AggregateMin is the conservative default: the claim is only as good
	// as its worst evidence.
	AggregateMin  Aggregate = "min"
	AggregateMax  Aggregate = "max"
	AggregateMean Aggregate = "mean"
)

// Score weights. trust = 0.5*quality + 0.4*model_conf + first_party_bonus,
// clamped to [0,1].
const (
	qualityWeight   = 0.5
	modelConfWeight = 0.4
)

// Calculator computes trust scores.
type Calculator struct {
	aggregate Aggregate
}

// New creates a calculator with the conservative min aggregate.
func New() *Calculator {
	return &Calculator{aggregate: AggregateMin}
}

// WithAggregate overrides the quality aggregate.
func (c *Calculator) WithAggregate(agg Aggregate) *Calculator {
	c.aggregate = agg
	return c
}

// Compute maps an evidence set and model confidence to a trust score in
// [0,1]. The predicate is part of the contract for per-predicate weighting;
// the current formula weighs all predicates identically. An empty evidence
// set fails with ErrInvalidEvidence.
func (c *Calculator) Compute(evidence []claims.Evidence, modelConf float64, predicate string, snap *policy.Snapshot) (float64, error) {
	_ = predicate

	if err := claims.ValidateEvidenceSet(evidence); err != nil {
		return 0, err
	}
	if modelConf < 0 || modelConf > 1 {
		return 0, fmt.Errorf("%w: model_conf %f out of [0,1]", claims.ErrInvalidEvidence, modelConf)
	}

	quality := c.aggregateQuality(evidence)

	bonus, err := firstPartyBonus(evidence, snap)
	if err != nil {
		return 0, err
	}

	return clamp01(qualityWeight*quality + modelConfWeight*modelConf + bonus), nil
}

func (c *Calculator) aggregateQuality(evidence []claims.Evidence) float64 {
	switch c.aggregate {
	case AggregateMax:
		v := evidence[0].QualityScore
		for _, e := range evidence[1:] {
			if e.QualityScore > v {
				v = e.QualityScore
			}
		}
		return v
	case AggregateMean:
		var sum float64
		for _, e := range evidence {
			sum += e.QualityScore
		}
		return sum / float64(len(evidence))
	default:
		v := evidence[0].QualityScore
		for _, e := range evidence[1:] {
			if e.QualityScore < v {
				v = e.QualityScore
			}
		}
		return v
	}
}

// firstPartyBonus applies only when every evidence source is Tier A.
// With per-source bonus overrides in play, the smallest bonus among the
// sources governs.
func firstPartyBonus(evidence []claims.Evidence, snap *policy.Snapshot) (float64, error) {
	bonus := -1.0
	for i := range evidence {
		sp, err := snap.Source(evidence[i].SourceType)
		if err != nil {
			return 0, err
		}
		if sp.Tier != policy.TierA {
			return 0, nil
		}
		if bonus < 0 || sp.Bonus < bonus {
			bonus = sp.Bonus
		}
	}
	if bonus < 0 {
		return 0, nil
	}
	return bonus, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
