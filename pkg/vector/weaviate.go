package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/veridian-labs/claimgate/pkg/claims"
)

// SnippetClassName is the Weaviate class holding evidence snippets.
const SnippetClassName = "EvidenceSnippet"

// Weaviate implements Index against a Weaviate instance.
type Weaviate struct {
	client *weaviate.Client
}

// NewWeaviate creates an Index for the Weaviate server at url.
func NewWeaviate(url string) (*Weaviate, error) {
	cfg := weaviate.Config{
		Host:   url,
		Scheme: "http",
	}
	if strings.HasPrefix(url, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		cfg.Host = strings.TrimPrefix(url, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vector: create weaviate client: %w", err)
	}
	return &Weaviate{client: client}, nil
}

// IndexSnippet stores the snippet with the evidence id as object id, so
// redelivery of the same intent is a no-op.
func (w *Weaviate) IndexSnippet(ctx context.Context, evidence claims.Evidence) error {
	if evidence.Snippet == "" {
		return nil
	}
	_, err := w.client.Data().Creator().
		WithClassName(SnippetClassName).
		WithID(evidence.ID).
		WithProperties(map[string]interface{}{
			"uri":          evidence.URIOrBlobRef,
			"snippet":      evidence.Snippet,
			"sourceType":   evidence.SourceType,
			"qualityScore": evidence.QualityScore,
			"contentHash":  evidence.Hash,
		}).
		Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("vector: index snippet %s: %w", evidence.ID, err)
	}
	return nil
}

// Reembed merges a timestamp into each object so the vectorizer recomputes
// its embedding.
func (w *Weaviate) Reembed(ctx context.Context, nodeIDs []string) error {
	stamp := time.Now().UTC().Format(time.RFC3339)
	for _, id := range nodeIDs {
		err := w.client.Data().Updater().
			WithClassName(SnippetClassName).
			WithID(id).
			WithProperties(map[string]interface{}{"reembeddedAt": stamp}).
			WithMerge().
			Do(ctx)
		if err != nil {
			return fmt.Errorf("vector: reembed %s: %w", id, err)
		}
	}
	return nil
}
