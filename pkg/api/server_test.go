package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/engine"
	"github.com/veridian-labs/claimgate/pkg/ledger"
	"github.com/veridian-labs/claimgate/pkg/outbox"
	"github.com/veridian-labs/claimgate/pkg/policy"
	"github.com/veridian-labs/claimgate/pkg/revert"
	"github.com/veridian-labs/claimgate/pkg/review"
)

const testDoc = `
version: "2026-02-01"
mode: auto
predicates:
  USES:
    cardinality: set
    threshold: {A: 0.80, B: 0.90}
sources:
  first_party_log: {tier: A}
  web: {tier: B}
limits:
  per_session_edges: 10
`

var now = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	server     *Server
	mux        *http.ServeMux
	ledger     *ledger.Ledger
	review     *review.Memory
	policyPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDoc), 0o600))

	doc, err := policy.Parse([]byte(testDoc))
	require.NoError(t, err)
	snap, err := policy.Compile(doc)
	require.NoError(t, err)
	table := policy.NewTable(snap)

	led := ledger.New().WithClock(func() time.Time { return now })
	ob := outbox.NewMemoryStore()
	eng := engine.New(table, led, ob).WithClock(func() time.Time { return now })
	rev := revert.New(led, table, ob, eng.Locks()).WithClock(func() time.Time { return now })
	q := review.NewMemory()

	srv := &Server{
		Engine: eng,
		Revert: rev,
		Ledger: led,
		Table:  table,
		Loader: policy.NewLoader(path, table),
		Review: q,
	}
	return &fixture{server: srv, mux: srv.Routes(), ledger: led, review: q, policyPath: path}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func proposal(quality, modelConf float64) *claims.Proposal {
	return &claims.Proposal{
		SubjectID:   "Entity:svc",
		Predicate:   "USES",
		ObjectKind:  claims.ObjectEntity,
		ObjectValue: "Entity:db",
		ModelConf:   modelConf,
		Evidence: []claims.Evidence{{
			URIOrBlobRef: "log://svc/deploy",
			SourceType:   claims.SourceFirstPartyLog,
			QualityScore: quality,
		}},
		Provenance: claims.Provenance{Who: "agent-7"},
	}
}

func TestPropose_Created(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/claims", proposal(0.95, 0.95))
	require.Equal(t, http.StatusCreated, rec.Code)

	var res claims.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, claims.StatusApproved, res.Status)
	assert.NotEmpty(t, res.ClaimID)
	assert.NotEmpty(t, res.CommitID)
}

func TestPropose_DuplicateReturnsOK(t *testing.T) {
	f := newFixture(t)

	first := f.do(t, http.MethodPost, "/v1/claims", proposal(0.95, 0.95))
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(t, http.MethodPost, "/v1/claims", proposal(0.95, 0.95))
	require.Equal(t, http.StatusOK, second.Code)

	var res claims.Result
	require.NoError(t, json.NewDecoder(second.Body).Decode(&res))
	assert.Empty(t, res.CommitID)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestPropose_BadBody(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/claims", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestPropose_UnknownPredicateIs422(t *testing.T) {
	f := newFixture(t)
	p := proposal(0.95, 0.95)
	p.Predicate = "OWNS"
	rec := f.do(t, http.MethodPost, "/v1/claims", p)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPropose_MissingEvidenceIs400(t *testing.T) {
	f := newFixture(t)
	p := proposal(0.95, 0.95)
	p.Evidence = nil
	rec := f.do(t, http.MethodPost, "/v1/claims", p)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func pendingClaim(t *testing.T, f *fixture) claims.Result {
	t.Helper()
	p := proposal(0.6, 0.5)
	p.Evidence[0].SourceType = claims.SourceWeb
	p.Evidence[0].URIOrBlobRef = "https://example.com/post"
	rec := f.do(t, http.MethodPost, "/v1/claims", p)
	require.Equal(t, http.StatusCreated, rec.Code)
	var res claims.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Equal(t, claims.StatusPending, res.Status)
	return res
}

func TestApprove_PendingClaim(t *testing.T) {
	f := newFixture(t)
	pending := pendingClaim(t, f)

	conf := 0.9
	rec := f.do(t, http.MethodPost, "/v1/claims/"+pending.ClaimID+"/approve",
		reviewRequest{Reviewer: "alice", HumanConf: &conf})
	require.Equal(t, http.StatusOK, rec.Code)

	var res claims.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, claims.StatusApproved, res.Status)

	// Second verdict on a resolved claim is a policy violation.
	rec = f.do(t, http.MethodPost, "/v1/claims/"+pending.ClaimID+"/reject",
		reviewRequest{Reviewer: "bob"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestApprove_Validation(t *testing.T) {
	f := newFixture(t)
	pending := pendingClaim(t, f)

	rec := f.do(t, http.MethodPost, "/v1/claims/"+pending.ClaimID+"/approve", reviewRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := 1.5
	rec = f.do(t, http.MethodPost, "/v1/claims/"+pending.ClaimID+"/approve",
		reviewRequest{Reviewer: "alice", HumanConf: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/claims/nope/approve", reviewRequest{Reviewer: "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetClaim(t *testing.T) {
	f := newFixture(t)
	created := pendingClaim(t, f)

	rec := f.do(t, http.MethodGet, "/v1/claims/"+created.ClaimID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var c claims.Claim
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	assert.Equal(t, "Entity:svc", c.SubjectID)

	rec = f.do(t, http.MethodGet, "/v1/claims/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUndo_CommitAndConflict(t *testing.T) {
	f := newFixture(t)

	var res claims.Result
	rec := f.do(t, http.MethodPost, "/v1/claims", proposal(0.95, 0.95))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))

	rec = f.do(t, http.MethodPost, "/v1/undo", undoRequest{CommitID: res.CommitID, Actor: "ops"})
	require.Equal(t, http.StatusOK, rec.Code)

	var ur undoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ur))
	assert.Equal(t, []string{res.CommitID}, ur.UndoneCommits)

	// The reverted claim is gone from the view.
	_, err := f.ledger.Claim(res.ClaimID)
	assert.ErrorIs(t, err, claims.ErrNotFound)

	// Undoing the same commit again conflicts.
	rec = f.do(t, http.MethodPost, "/v1/undo", undoRequest{CommitID: res.CommitID, Actor: "ops"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUndo_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/undo", undoRequest{CommitID: "c", Actor: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/undo", undoRequest{Actor: "ops"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/undo", undoRequest{CommitID: "c", Last: 2, Actor: "ops"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/undo", undoRequest{CommitID: "missing", Actor: "ops"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChanges_Since(t *testing.T) {
	f := newFixture(t)

	p := proposal(0.95, 0.95)
	rec := f.do(t, http.MethodPost, "/v1/claims", p)
	require.Equal(t, http.StatusCreated, rec.Code)

	p2 := proposal(0.95, 0.95)
	p2.ObjectValue = "Entity:cache"
	rec = f.do(t, http.MethodPost, "/v1/claims", p2)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/changes?since=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cr changesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cr))
	require.Len(t, cr.Commits, 1)
	assert.Equal(t, uint64(2), cr.Commits[0].Seq)
	assert.Equal(t, f.ledger.Head(), cr.Head)

	rec = f.do(t, http.MethodGet, "/v1/changes?since=up", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/ledger/verify", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPolicyReload(t *testing.T) {
	f := newFixture(t)

	updated := strings.Replace(testDoc, `version: "2026-02-01"`, `version: "2026-03-01"`, 1)
	require.NoError(t, os.WriteFile(f.policyPath, []byte(updated), 0o600))

	rec := f.do(t, http.MethodPost, "/v1/policy/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "2026-03-01", body["version"])

	// A rejected document leaves the active snapshot in place.
	require.NoError(t, os.WriteFile(f.policyPath, []byte("mode: sideways"), 0o600))
	rec = f.do(t, http.MethodPost, "/v1/policy/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "2026-03-01", f.server.Table.Snapshot().Version)
}

func TestReviewNext(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/review/next", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	require.NoError(t, f.review.Enqueue(context.Background(), review.Item{ClaimID: "c1", EnqueuedAt: now}))
	rec = f.do(t, http.MethodGet, "/v1/review/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var item review.Item
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&item))
	assert.Equal(t, "c1", item.ClaimID)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
