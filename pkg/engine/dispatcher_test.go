package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/graph"
	"github.com/veridian-labs/claimgate/pkg/outbox"
	"github.com/veridian-labs/claimgate/pkg/review"
	"github.com/veridian-labs/claimgate/pkg/vector"
)

type recordingIndex struct {
	snippets []claims.Evidence
	reembeds [][]string
}

func (r *recordingIndex) IndexSnippet(_ context.Context, e claims.Evidence) error {
	r.snippets = append(r.snippets, e)
	return nil
}

func (r *recordingIndex) Reembed(_ context.Context, ids []string) error {
	r.reembeds = append(r.reembeds, ids)
	return nil
}

func TestRouter_MaterializeUpsertsEntitiesAndEdge(t *testing.T) {
	f := newFixture(t, "auto")
	g := graph.NewMemory()
	router := &Router{Graph: g, Vector: vector.Noop{}, Review: review.NewMemory(), Ledger: f.ledger}

	res, err := f.engine.Propose(context.Background(), firstPartyProposal("USES", "Entity:db", 0.95, 0.95))
	require.NoError(t, err)

	intent, ok := f.outbox.Get(outbox.IntentID(res.ClaimID, outbox.KindMaterialize))
	require.True(t, ok)
	require.NoError(t, router.Dispatch(context.Background(), intent))

	edge, ok := g.Edge(res.ClaimID)
	require.True(t, ok)
	assert.Equal(t, "Entity:svc", edge.SubjectID)
	assert.Equal(t, "USES", edge.Predicate)

	// Redelivery is a no-op.
	require.NoError(t, router.Dispatch(context.Background(), intent))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestRouter_RetractAndReview(t *testing.T) {
	f := newFixture(t, "auto")
	g := graph.NewMemory()
	q := review.NewMemory()
	router := &Router{Graph: g, Vector: vector.Noop{}, Review: q, Ledger: f.ledger}
	ctx := context.Background()

	require.NoError(t, g.MaterializeEdge(ctx, graph.Edge{ClaimID: "c1"}))
	require.NoError(t, router.Dispatch(ctx, outbox.Intent{Kind: outbox.KindRetract, ClaimID: "c1"}))
	assert.Zero(t, g.EdgeCount())

	require.NoError(t, router.Dispatch(ctx, outbox.Intent{
		Kind: outbox.KindReview, ClaimID: "c2", CommitID: "commit-2", CreatedAt: now,
	}))
	item, err := q.Next(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "c2", item.ClaimID)
}

func TestRouter_IndexSnippets(t *testing.T) {
	f := newFixture(t, "auto")
	idx := &recordingIndex{}
	router := &Router{Graph: graph.NewMemory(), Vector: idx, Review: review.NewMemory(), Ledger: f.ledger}
	ctx := context.Background()

	p := firstPartyProposal("USES", "Entity:db", 0.95, 0.95)
	p.Evidence[0].Snippet = "deployed checkout to prod"
	res, err := f.engine.Propose(ctx, p)
	require.NoError(t, err)

	intent, ok := f.outbox.Get(outbox.IntentID(res.ClaimID, outbox.KindIndexSnippet))
	require.True(t, ok)
	require.NoError(t, router.Dispatch(ctx, intent))

	require.Len(t, idx.snippets, 1)
	assert.Equal(t, "deployed checkout to prod", idx.snippets[0].Snippet)

	// Intents for reverted claims are dropped silently.
	require.NoError(t, router.Dispatch(ctx, outbox.Intent{Kind: outbox.KindIndexSnippet, ClaimID: "gone"}))
	assert.Len(t, idx.snippets, 1)
}
