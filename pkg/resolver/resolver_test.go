package resolver

import (
	"testing"
	"time"

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
  VERSION_OF:
    cardinality: functional
    threshold: {A: 0.90, B: 0.95}
    overwrite: supersede
  OWNED_BY:
    cardinality: functional
    threshold: {A: 0.80}
    overwrite: forbid
  LOCATED_IN:
    cardinality: functional
    threshold: {A: 0.80}
    overwrite: coexist
  DEPLOYED_TO:
    cardinality: functional
    threshold: {A: 0.50}
    guard: 'object != "Entity:prod"'
sources:
  first_party_log: {tier: A, rate_per_min: 60}
  web: {tier: B, rate_per_min: 10}
`

func snapWithMode(t *testing.T, mode string) *policy.Snapshot {
	t.Helper()
	doc, err := policy.Parse([]byte(testDoc))
	require.NoError(t, err)
	doc.Mode = mode
	snap, err := policy.Compile(doc)
	require.NoError(t, err)
	return snap
}

func proposal(predicate, object string) *claims.Proposal {
	return &claims.Proposal{
		SubjectID:   "Entity:svc",
		Predicate:   predicate,
		ObjectKind:  claims.ObjectEntity,
		ObjectValue: object,
		ModelConf:   0.9,
		Evidence: []claims.Evidence{{
			URIOrBlobRef: "log://svc",
			SourceType:   claims.SourceFirstPartyLog,
			QualityScore: 0.95,
		}},
	}
}

func incumbent(id string, trust float64, validFrom time.Time) *claims.Claim {
	return &claims.Claim{
		ID:          id,
		SubjectID:   "Entity:svc",
		Predicate:   "VERSION_OF",
		ObjectKind:  claims.ObjectLiteral,
		ObjectValue: "1.0",
		Status:      claims.StatusApproved,
		Trust:       trust,
		ValidFrom:   validFrom,
	}
}

var t0 = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func TestResolve_ReviewModeForcesReview(t *testing.T) {
	res, err := Resolve(Input{
		Proposal: proposal("USES", "Entity:db"),
		Trust:    0.99,
		Snapshot: snapWithMode(t, "review"),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeReject, res.Decision.Outcome)
	assert.Equal(t, claims.ReasonRequiresReview, res.Decision.Reason)
}

func TestResolve_BelowThreshold(t *testing.T) {
	p := proposal("USES", "Entity:db")
	p.Evidence[0].SourceType = claims.SourceWeb
	res, err := Resolve(Input{
		Proposal: p,
		Trust:    0.5,
		Snapshot: snapWithMode(t, "auto"),
	})
	require.NoError(t, err)
	assert.Equal(t, policy.TierB, res.Tier)
	assert.Equal(t, 0.90, res.Threshold)
	assert.Equal(t, claims.ReasonBelowThreshold, res.Decision.Reason)
}

func TestResolve_WeakestTierGoverns(t *testing.T) {
	p := proposal("USES", "Entity:db")
	p.Evidence = append(p.Evidence, claims.Evidence{
		URIOrBlobRef: "https://docs.example.com/x",
		SourceType:   claims.SourceWeb,
		QualityScore: 0.9,
	})
	res, err := Resolve(Input{
		Proposal: p,
		Trust:    0.85, // above tier A threshold, below tier B
		Snapshot: snapWithMode(t, "auto"),
	})
	require.NoError(t, err)
	assert.Equal(t, policy.TierB, res.Tier)
	assert.Equal(t, claims.ReasonBelowThreshold, res.Decision.Reason)
}

func TestResolve_SetAdmitAndIdempotentDuplicate(t *testing.T) {
	snap := snapWithMode(t, "auto")

	res, err := Resolve(Input{
		Proposal: proposal("USES", "Entity:db"),
		Trust:    0.95,
		Snapshot: snap,
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeAdmit, res.Decision.Outcome)
	assert.Empty(t, res.Decision.Reason)

	dup := &claims.Claim{ID: "c-existing", ObjectValue: "Entity:db"}
	res, err = Resolve(Input{
		Proposal:  proposal("USES", "Entity:db"),
		Trust:     0.95,
		Snapshot:  snap,
		Duplicate: dup,
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeAdmit, res.Decision.Outcome)
	assert.Equal(t, claims.ReasonDuplicate, res.Decision.Reason)
	assert.Equal(t, "c-existing", res.Decision.IncumbentID)
}

func TestResolve_FunctionalNoIncumbentAdmits(t *testing.T) {
	res, err := Resolve(Input{
		Proposal:  proposal("VERSION_OF", "2.0"),
		Trust:     0.93,
		ValidFrom: t0,
		Snapshot:  snapWithMode(t, "auto"),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeAdmit, res.Decision.Outcome)
}

func TestResolve_SupersedeStrictlyGreaterTrust(t *testing.T) {
	snap := snapWithMode(t, "auto")
	inc := incumbent("c-old", 0.80, t0.Add(-time.Hour))

	res, err := Resolve(Input{
		Proposal:  proposal("VERSION_OF", "2.0"),
		Trust:     0.93,
		ValidFrom: t0,
		Snapshot:  snap,
		Incumbent: inc,
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeSupersede, res.Decision.Outcome)
	assert.Equal(t, "c-old", res.Decision.IncumbentID)

	// Marginal but strict: 0.91 > 0.90 still supersedes.
	inc = incumbent("c-old", 0.90, t0.Add(-time.Hour))
	res, err = Resolve(Input{
		Proposal:  proposal("VERSION_OF", "2.0"),
		Trust:     0.91,
		ValidFrom: t0,
		Snapshot:  snap,
		Incumbent: inc,
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeSupersede, res.Decision.Outcome)
}

func TestResolve_EqualTrustNeverSupersedes(t *testing.T) {
	res, err := Resolve(Input{
		Proposal:  proposal("VERSION_OF", "2.0"),
		Trust:     0.93,
		ValidFrom: t0,
		Snapshot:  snapWithMode(t, "auto"),
		Incumbent: incumbent("c-old", 0.93, t0.Add(-time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeCoexist, res.Decision.Outcome)
}

func TestResolve_OlderChallengerCoexists(t *testing.T) {
	res, err := Resolve(Input{
		Proposal:  proposal("VERSION_OF", "2.0"),
		Trust:     0.99,
		ValidFrom: t0.Add(-2 * time.Hour), // older than incumbent
		Snapshot:  snapWithMode(t, "auto"),
		Incumbent: incumbent("c-old", 0.80, t0),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeCoexist, res.Decision.Outcome)
}

func TestResolve_SameFactRestatedIsDuplicate(t *testing.T) {
	inc := incumbent("c-old", 0.80, t0.Add(-time.Hour))
	p := proposal("VERSION_OF", "1.0")
	p.ObjectKind = claims.ObjectLiteral
	res, err := Resolve(Input{
		Proposal:  p,
		Trust:     0.95,
		ValidFrom: t0,
		Snapshot:  snapWithMode(t, "auto"),
		Incumbent: inc,
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeAdmit, res.Decision.Outcome)
	assert.Equal(t, claims.ReasonDuplicate, res.Decision.Reason)
}

func TestResolve_ForbidRejects(t *testing.T) {
	inc := incumbent("c-old", 0.5, t0.Add(-time.Hour))
	inc.Predicate = "OWNED_BY"
	res, err := Resolve(Input{
		Proposal:  proposal("OWNED_BY", "Entity:team-b"),
		Trust:     0.99,
		ValidFrom: t0,
		Snapshot:  snapWithMode(t, "auto"),
		Incumbent: inc,
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeReject, res.Decision.Outcome)
	assert.Equal(t, claims.ReasonFunctionalConflict, res.Decision.Reason)
}

func TestResolve_CoexistStrategy(t *testing.T) {
	inc := incumbent("c-old", 0.5, t0.Add(-time.Hour))
	inc.Predicate = "LOCATED_IN"
	res, err := Resolve(Input{
		Proposal:  proposal("LOCATED_IN", "Entity:eu-west"),
		Trust:     0.99,
		ValidFrom: t0,
		Snapshot:  snapWithMode(t, "auto"),
		Incumbent: inc,
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeCoexist, res.Decision.Outcome)
}

func TestResolve_GuardVeto(t *testing.T) {
	res, err := Resolve(Input{
		Proposal: proposal("DEPLOYED_TO", "Entity:prod"),
		Trust:    0.99,
		Snapshot: snapWithMode(t, "auto"),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.ReasonGuardVeto, res.Decision.Reason)

	res, err = Resolve(Input{
		Proposal: proposal("DEPLOYED_TO", "Entity:staging"),
		Trust:    0.99,
		Snapshot: snapWithMode(t, "auto"),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeAdmit, res.Decision.Outcome)
}

func TestResolve_ShadowModeRewritesAdmit(t *testing.T) {
	res, err := Resolve(Input{
		Proposal: proposal("USES", "Entity:db"),
		Trust:    0.95,
		Snapshot: snapWithMode(t, "shadow"),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeAdmit, res.Decision.Outcome)
	assert.True(t, res.Decision.Shadow)

	// Supersede is rewritten too; the incumbent stays untouched.
	res, err = Resolve(Input{
		Proposal:  proposal("VERSION_OF", "2.0"),
		Trust:     0.99,
		ValidFrom: t0,
		Snapshot:  snapWithMode(t, "shadow"),
		Incumbent: incumbent("c-old", 0.5, t0.Add(-time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeSupersede, res.Decision.Outcome)
	assert.True(t, res.Decision.Shadow)
}

func TestResolve_ShadowModeLeavesCoexistPending(t *testing.T) {
	// A losing challenger still coexists as a normal pending conflict in
	// shadow mode. Marking it shadow would hide it from both the review
	// queue and the promotion sweep.
	res, err := Resolve(Input{
		Proposal:  proposal("VERSION_OF", "2.0"),
		Trust:     0.95,
		ValidFrom: t0,
		Snapshot:  snapWithMode(t, "shadow"),
		Incumbent: incumbent("c-old", 0.99, t0.Add(-time.Hour)),
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeCoexist, res.Decision.Outcome)
	assert.False(t, res.Decision.Shadow)

	// Explicit coexist strategy in shadow mode stays authoritative too.
	inc := incumbent("c-old", 0.5, t0.Add(-time.Hour))
	inc.Predicate = "LOCATED_IN"
	res, err = Resolve(Input{
		Proposal:  proposal("LOCATED_IN", "Entity:eu-west"),
		Trust:     0.99,
		ValidFrom: t0,
		Snapshot:  snapWithMode(t, "shadow"),
		Incumbent: inc,
	})
	require.NoError(t, err)
	assert.Equal(t, claims.OutcomeCoexist, res.Decision.Outcome)
	assert.False(t, res.Decision.Shadow)
}

func TestResolve_UnknownPredicate(t *testing.T) {
	_, err := Resolve(Input{
		Proposal: proposal("INVENTED", "x"),
		Snapshot: snapWithMode(t, "auto"),
	})
	assert.ErrorIs(t, err, claims.ErrPolicyViolation)
}
