// Package llm provides the structured-output language model client used by
// the ingestion orchestrator's two extraction prompt families (entities,
// facts/edges).
package llm

import (
	"context"
)

// Provider generates JSON matching a schema from a prompt. Implementations
// must classify failures so callers can tell a retryable provider hiccup
// (rate limit, transient network error) from a permanently bad request.
type Provider interface {
	// GenerateJSON calls the model with systemPrompt/userPrompt and a
	// response schema, returning the raw JSON text of the model's answer.
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *Schema) (string, error)

	// IsConfigured reports whether the provider has credentials to call out.
	IsConfigured() bool
}
