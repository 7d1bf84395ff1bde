package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/veridian-labs/claimgate/pkg/claims"
	"github.com/veridian-labs/claimgate/pkg/graph"
	"github.com/veridian-labs/claimgate/pkg/ledger"
	"github.com/veridian-labs/claimgate/pkg/outbox"
	"github.com/veridian-labs/claimgate/pkg/review"
	"github.com/veridian-labs/claimgate/pkg/vector"
)

// Router dispatches drained outbox intents to their collaborators. All
// downstream operations are idempotent, so redelivery is safe.
type Router struct {
	Graph  graph.Store
	Vector vector.Index
	Review review.Queue
	Ledger *ledger.Ledger
}

// Dispatch implements outbox.Dispatcher.
func (r *Router) Dispatch(ctx context.Context, intent outbox.Intent) error {
	switch intent.Kind {
	case outbox.KindMaterialize:
		return r.materialize(ctx, intent)
	case outbox.KindRetract:
		return r.Graph.RetractEdge(ctx, intent.ClaimID)
	case outbox.KindIndexSnippet:
		return r.indexSnippets(ctx, intent)
	case outbox.KindReembed:
		return r.reembed(ctx, intent)
	case outbox.KindReview:
		return r.Review.Enqueue(ctx, review.Item{
			ClaimID:    intent.ClaimID,
			CommitID:   intent.CommitID,
			EnqueuedAt: intent.CreatedAt,
		})
	default:
		return fmt.Errorf("dispatch: unknown intent kind %q", intent.Kind)
	}
}

func (r *Router) materialize(ctx context.Context, intent outbox.Intent) error {
	var edge graph.Edge
	if err := json.Unmarshal(intent.Payload, &edge); err != nil {
		return fmt.Errorf("dispatch: decode edge for %s: %w", intent.ClaimID, err)
	}

	label, key := splitEntityRef(edge.SubjectID)
	if err := r.Graph.UpsertEntity(ctx, label, key); err != nil {
		return err
	}
	if edge.ObjectKind == string(claims.ObjectEntity) {
		label, key = splitEntityRef(edge.ObjectValue)
		if err := r.Graph.UpsertEntity(ctx, label, key); err != nil {
			return err
		}
	}
	return r.Graph.MaterializeEdge(ctx, edge)
}

func (r *Router) indexSnippets(ctx context.Context, intent outbox.Intent) error {
	claim, err := r.Ledger.Claim(intent.ClaimID)
	if err != nil {
		// The claim was reverted after the intent was enqueued; nothing to
		// index.
		if errors.Is(err, claims.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, id := range claim.EvidenceIDs {
		e, err := r.Ledger.Evidence(id)
		if err != nil {
			return err
		}
		if e.Snippet == "" {
			continue
		}
		if err := r.Vector.IndexSnippet(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) reembed(ctx context.Context, intent outbox.Intent) error {
	var payload struct {
		NodeIDs []string `json:"node_ids"`
	}
	if err := json.Unmarshal(intent.Payload, &payload); err != nil {
		return fmt.Errorf("dispatch: decode reembed payload: %w", err)
	}
	return r.Vector.Reembed(ctx, payload.NodeIDs)
}

// splitEntityRef splits an entity reference like "Service:checkout" into its
// label and key. Unprefixed references get the generic Entity label.
func splitEntityRef(ref string) (label, key string) {
	if i := strings.IndexByte(ref, ':'); i > 0 {
		return ref[:i], ref[i+1:]
	}
	return "Entity", ref
}
