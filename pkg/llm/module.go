package llm

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/memgraph/internal/config"
)

// Module provides the llm.Provider used by the orchestrator, gated by the
// queue's configured global LLM semaphore (§4.5).
var Module = fx.Module("llm",
	fx.Provide(NewGatedProvider),
)

// NewGatedProvider builds the Vertex/GenAI client and wraps it with the
// concurrency gate sized by QueueConfig.LLMSemaphore.
func NewGatedProvider(cfg *config.Config, log *slog.Logger) (Provider, error) {
	client, err := NewClient(context.Background(), cfg.LLM, log)
	if err != nil {
		return nil, err
	}
	return WithConcurrency(client, cfg.Queue.LLMSemaphore), nil
}
