package llm

import "context"

// gatedProvider wraps a Provider with a channel semaphore so that, across
// every group's extraction calls, at most N requests are ever in flight
// against the upstream model at once -- independent of how many groups the
// episode queue is processing in parallel.
type gatedProvider struct {
	inner Provider
	sem   chan struct{}
}

// WithConcurrency limits concurrent GenerateJSON calls across all callers
// of p to at most n. n <= 0 disables gating (the returned Provider is p
// unchanged).
func WithConcurrency(p Provider, n int) Provider {
	if n <= 0 {
		return p
	}
	return &gatedProvider{inner: p, sem: make(chan struct{}, n)}
}

func (g *gatedProvider) IsConfigured() bool { return g.inner.IsConfigured() }

func (g *gatedProvider) GenerateJSON(ctx context.Context, systemPrompt, userPrompt string, schema *Schema) (string, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-g.sem }()

	return g.inner.GenerateJSON(ctx, systemPrompt, userPrompt, schema)
}
