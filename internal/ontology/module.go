package ontology

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/emergent-company/memgraph/internal/config"
	"github.com/emergent-company/memgraph/pkg/logger"
)

// Module provides the ontology registry to the fx app.
var Module = fx.Module("ontology",
	fx.Provide(NewRegistry),
)

// NewRegistry loads the configured ontology file into a Registry.
func NewRegistry(cfg *config.Config, log *slog.Logger) (*Registry, error) {
	log = log.With(logger.Scope("ontology"))

	r, err := Load(cfg.Ontology.Path)
	if err != nil {
		return nil, err
	}

	log.Info("ontology loaded",
		slog.Int("entity_labels", len(r.EntityLabels())),
		slog.Int("edge_labels", len(r.EdgeLabels())),
		slog.String("path", cfg.Ontology.Path),
	)

	return r, nil
}
