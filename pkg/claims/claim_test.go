package claims

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusScratchpad, StatusPending, true},
		{StatusScratchpad, StatusApproved, true},
		{StatusScratchpad, StatusRejected, true},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusApproved, StatusSuperseded, true},
		{StatusApproved, StatusPending, false},
		{StatusSuperseded, StatusApproved, false},
		{StatusRejected, StatusApproved, false},
		{StatusApproved, StatusApproved, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestProposalValidate(t *testing.T) {
	valid := Proposal{
		SubjectID:   "Entity:svc-a",
		Predicate:   "USES",
		ObjectKind:  ObjectEntity,
		ObjectValue: "Entity:svc-b",
		ModelConf:   0.9,
		Evidence: []Evidence{{
			URIOrBlobRef: "log://svc-a",
			SourceType:   SourceFirstPartyLog,
			QualityScore: 0.95,
		}},
	}
	require.NoError(t, valid.Validate())

	noEvidence := valid
	noEvidence.Evidence = nil
	assert.ErrorIs(t, noEvidence.Validate(), ErrInvalidEvidence)

	badKind := valid
	badKind.ObjectKind = "edge"
	assert.ErrorIs(t, badKind.Validate(), ErrInvalidEvidence)

	badConf := valid
	badConf.ModelConf = 1.2
	assert.ErrorIs(t, badConf.Validate(), ErrInvalidEvidence)

	noPredicate := valid
	noPredicate.Predicate = ""
	assert.ErrorIs(t, noPredicate.Validate(), ErrPolicyViolation)
}

func TestEvidenceValidate(t *testing.T) {
	e := Evidence{URIOrBlobRef: "doc://x", SourceType: SourceWeb, QualityScore: 0.5}
	require.NoError(t, e.Validate())

	e.QualityScore = -0.1
	err := e.Validate()
	require.Error(t, err)
	if !errors.Is(err, ErrInvalidEvidence) {
		t.Errorf("want ErrInvalidEvidence, got %v", err)
	}
}

func TestClaimClone_Independent(t *testing.T) {
	now := time.Now()
	hc := 0.8
	c := &Claim{
		ID:          "c1",
		Status:      StatusApproved,
		HumanConf:   &hc,
		ValidTo:     &now,
		EvidenceIDs: []string{"e1"},
		Decision:    &PolicyTrace{TrustScore: 0.9},
	}
	cp := c.Clone()
	*cp.HumanConf = 0.1
	*cp.ValidTo = now.Add(time.Hour)
	cp.EvidenceIDs[0] = "e2"
	cp.Decision.TrustScore = 0.1

	assert.Equal(t, 0.8, *c.HumanConf)
	assert.Equal(t, now, *c.ValidTo)
	assert.Equal(t, "e1", c.EvidenceIDs[0])
	assert.Equal(t, 0.9, c.Decision.TrustScore)
}

func TestClaimActive(t *testing.T) {
	c := &Claim{Status: StatusApproved}
	assert.True(t, c.Active())

	shadow := &Claim{Status: StatusApproved, Shadow: true}
	assert.False(t, shadow.Active())

	now := time.Now()
	closed := &Claim{Status: StatusApproved, ValidTo: &now}
	assert.False(t, closed.Active())
}
