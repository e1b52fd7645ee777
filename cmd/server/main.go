// Package main provides the entry point for the memgraph service: a
// bi-temporal knowledge-graph API over episode ingestion, entity/edge
// resolution, and hybrid search.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/emergent-company/memgraph/internal/citation"
	"github.com/emergent-company/memgraph/internal/config"
	"github.com/emergent-company/memgraph/internal/database"
	"github.com/emergent-company/memgraph/internal/episodequeue"
	"github.com/emergent-company/memgraph/internal/graphstore"
	"github.com/emergent-company/memgraph/internal/httpapi"
	"github.com/emergent-company/memgraph/internal/metrics"
	"github.com/emergent-company/memgraph/internal/migrate"
	"github.com/emergent-company/memgraph/internal/mutation"
	"github.com/emergent-company/memgraph/internal/ontology"
	"github.com/emergent-company/memgraph/internal/orchestrator"
	"github.com/emergent-company/memgraph/internal/resolver"
	"github.com/emergent-company/memgraph/internal/search"
	"github.com/emergent-company/memgraph/internal/server"
	"github.com/emergent-company/memgraph/internal/tracing"
	"github.com/emergent-company/memgraph/pkg/embeddings"
	"github.com/emergent-company/memgraph/pkg/llm"
	"github.com/emergent-company/memgraph/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local") // Overload ensures local values take precedence

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		fx.Provide(logger.NewLogger),
		config.Module,
		database.Module,
		migrate.Module,
		tracing.Module,

		ontology.Module,
		llm.Module,
		embeddings.Module,

		graphstore.Module,
		resolver.Module,
		mutation.Module,
		orchestrator.Module,
		episodequeue.Module,
		citation.Module,
		search.Module,

		httpapi.Module,
		metrics.Module,
		server.Module,
	).Run()
}
