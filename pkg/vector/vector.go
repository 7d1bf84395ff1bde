// Package vector is the boundary to the embedding store. Snippet indexing
// and re-embedding are fire-and-forget from the engine's perspective: they
// run after commit through the outbox and never block a decision.
package vector

import (
	"context"

	"github.com/veridian-labs/claimgate/pkg/claims"
)

// Index receives evidence snippets for similarity search and deduplication.
type Index interface {
	// IndexSnippet stores an evidence snippet, keyed by evidence id.
	IndexSnippet(ctx context.Context, evidence claims.Evidence) error

	// Reembed refreshes the embeddings of the given node ids.
	Reembed(ctx context.Context, nodeIDs []string) error
}

// Noop discards all indexing work. Used when no vector store is configured.
type Noop struct{}

func (Noop) IndexSnippet(context.Context, claims.Evidence) error { return nil }
func (Noop) Reembed(context.Context, []string) error             { return nil }
