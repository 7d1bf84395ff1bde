package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/policy"
)

const testDoc = `
mode: auto
predicates:
  USES:
    cardinality: set
    threshold: {A: 0.80, B: 0.90}
sources:
  first_party_log: {tier: A, rate_per_min: 60}
  run_artifact: {tier: A, rate_per_min: 60, bonus: 0.05}
  web: {tier: B, rate_per_min: 10}
`

func snapshot(t *testing.T) *policy.Snapshot {
	t.Helper()
	doc, err := policy.Parse([]byte(testDoc))
	require.NoError(t, err)
	snap, err := policy.Compile(doc)
	require.NoError(t, err)
	return snap
}

func ev(source string, quality float64) claims.Evidence {
	return claims.Evidence{URIOrBlobRef: "ref://" + source, SourceType: source, QualityScore: quality}
}

func TestCompute_FirstPartyScenario(t *testing.T) {
	// 0.5*0.95 + 0.4*0.95 + 0.15 = 1.005, clamped to 1.0.
	got, err := New().Compute([]claims.Evidence{ev("first_party_log", 0.95)}, 0.95, "USES", snapshot(t))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestCompute_WebScenario(t *testing.T) {
	// 0.5*0.6 + 0.4*0.5 + 0 = 0.5, no bonus for tier B evidence.
	got, err := New().Compute([]claims.Evidence{ev("web", 0.6)}, 0.5, "USES", snapshot(t))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestCompute_MixedTierDropsBonus(t *testing.T) {
	got, err := New().Compute([]claims.Evidence{
		ev("first_party_log", 0.9),
		ev("web", 0.9),
	}, 0.9, "USES", snapshot(t))
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.9+0.4*0.9, got, 1e-9)
}

func TestCompute_MinAggregateIsDefault(t *testing.T) {
	evidence := []claims.Evidence{
		ev("first_party_log", 0.9),
		ev("first_party_log", 0.4),
	}
	got, err := New().Compute(evidence, 0.0, "USES", snapshot(t))
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.4+0.15, got, 1e-9)

	got, err = New().WithAggregate(AggregateMax).Compute(evidence, 0.0, "USES", snapshot(t))
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.9+0.15, got, 1e-9)

	got, err = New().WithAggregate(AggregateMean).Compute(evidence, 0.0, "USES", snapshot(t))
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.65+0.15, got, 1e-9)
}

func TestCompute_PerSourceBonusOverride(t *testing.T) {
	// run_artifact overrides the bonus down to 0.05; the smallest bonus
	// among all-tier-A sources governs.
	got, err := New().Compute([]claims.Evidence{
		ev("first_party_log", 0.8),
		ev("run_artifact", 0.8),
	}, 0.5, "USES", snapshot(t))
	require.NoError(t, err)
	assert.InDelta(t, 0.5*0.8+0.4*0.5+0.05, got, 1e-9)
}

func TestCompute_EmptyEvidenceFails(t *testing.T) {
	_, err := New().Compute(nil, 0.9, "USES", snapshot(t))
	assert.ErrorIs(t, err, claims.ErrInvalidEvidence)
}

func TestCompute_UnknownSourceFails(t *testing.T) {
	_, err := New().Compute([]claims.Evidence{ev("gossip", 0.9)}, 0.9, "USES", snapshot(t))
	assert.ErrorIs(t, err, claims.ErrPolicyViolation)
}

func TestCompute_ClampsToOne(t *testing.T) {
	got, err := New().Compute([]claims.Evidence{ev("first_party_log", 1.0)}, 1.0, "USES", snapshot(t))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}
