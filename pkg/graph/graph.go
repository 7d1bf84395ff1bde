// Package graph is the boundary to the knowledge-graph storage service.
// The engine owns truth in the ledger; this package only materializes
// approved claims as edges, idempotently keyed by claim id.
package graph

import (
	"context"

	"github.com/veridian-labs/claimgate/pkg/claims"
)

// Edge is the materialized projection of an approved entity claim.
type Edge struct {
	ClaimID     string  `json:"claim_id"`
	SubjectID   string  `json:"subject_id"`
	Predicate   string  `json:"predicate"`
	ObjectKind  string  `json:"object_kind"`
	ObjectValue string  `json:"object_value"`
	Trust       float64 `json:"trust"`
}

// EdgeFromClaim projects a claim into its edge form.
func EdgeFromClaim(c *claims.Claim) Edge {
	return Edge{
		ClaimID:     c.ID,
		SubjectID:   c.SubjectID,
		Predicate:   c.Predicate,
		ObjectKind:  string(c.ObjectKind),
		ObjectValue: c.ObjectValue,
		Trust:       c.Trust,
	}
}

// Gap is a missing edge the graph service suggests backfilling, with the
// candidate object it derived. Gap candidates enter through the normal
// proposal pipeline and carry no authority of their own.
type Gap struct {
	SubjectID   string `json:"subject_id"`
	Predicate   string `json:"predicate"`
	ObjectKind  string `json:"object_kind"`
	ObjectValue string `json:"object_value"`
}

// GapCriteria filters a gap query.
type GapCriteria struct {
	Predicate string `json:"predicate,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Store is the graph service boundary. All operations are idempotent:
// the outbox worker delivers at least once.
type Store interface {
	// UpsertEntity ensures an entity node exists.
	UpsertEntity(ctx context.Context, label, key string) error

	// MaterializeEdge creates the edge for a claim, keyed by claim id.
	// Re-materializing an existing claim id is a no-op.
	MaterializeEdge(ctx context.Context, edge Edge) error

	// RetractEdge removes the edge for a claim id. Retracting a missing
	// edge is a no-op.
	RetractEdge(ctx context.Context, claimID string) error

	// GapQuery returns candidate edges the graph considers missing.
	GapQuery(ctx context.Context, criteria GapCriteria) ([]Gap, error)
}
