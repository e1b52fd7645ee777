// Package embeddings turns graph text into the fixed-dimension vectors the
// rest of the system keys on: entity name+summary embeddings back the
// resolver's cosine-similarity dedup, fact embeddings back the edge rows'
// vector column, and query embeddings drive the hybrid search's kNN leg.
package embeddings

import (
	"context"
)

// EmbeddingDimension is the dimensionality of the graph schema's
// vector(768) columns; every client must produce vectors of exactly this
// size (enforced per client against the configured vector_dim).
const EmbeddingDimension = 768

// Client produces embedding vectors for graph text.
type Client interface {
	// EmbedQuery embeds a single piece of search or resolver input.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// EmbedDocuments embeds graph content (entity summaries, fact texts)
	// in bulk.
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)
}

// NoopClient returns nil embeddings. Used when no embedding provider is
// configured: the resolver falls back to normalized-name dedup and search
// degrades to its lexical leg (a nil vector is the degenerate case every
// vector-search path already guards against).
type NoopClient struct{}

// NewNoopClient creates a new NoopClient
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// EmbedQuery returns nil, nil (no embedding available)
func (c *NoopClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return nil, nil
}

// EmbedDocuments returns nil, nil (no embeddings available)
func (c *NoopClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return nil, nil
}
