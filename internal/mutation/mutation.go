// Package mutation implements the graph's write path beyond simple
// inserts: soft-updating an edge on an explicit edit (expiring the current
// row and inserting its replacement), and cascading an episode's deletion through the entities/edges it
// touched. Grounded on the teacher's relationship-versioning transaction
// shape (BeginTx -> lock -> fetch head -> branch on existing state).
package mutation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/graphstore"
	"github.com/emergent-company/memgraph/pkg/apperror"
)

// Service applies writes to the graph that need more than a single insert.
type Service struct {
	store *graphstore.Store
}

// New builds a mutation Service over the given graph store.
func New(store *graphstore.Store) *Service {
	return &Service{store: store}
}

// SoftUpdateEdgeParams describes a new fact that supersedes a current edge.
// ValidAt is deliberately absent: per §9's resolution of the spec's open
// question, valid_at is a property of the asserted relation, not of the
// editing event, so a soft-update always carries the current edge's
// ValidAt forward unchanged.
type SoftUpdateEdgeParams struct {
	Current       *graphmodel.RelationEdge
	NewFact       string
	FactEmbedding []float32
	UpdateReason  string
	EpisodeID     uuid.UUID

	// SourceID/TargetID, when non-nil, re-point the replacement edge at
	// different endpoints (an edit correcting who the fact is about). Nil
	// carries the current edge's endpoint forward unchanged.
	SourceID *uuid.UUID
	TargetID *uuid.UUID
}

// SoftUpdateEdge never rewrites an edge row: it expires the current row and
// inserts a fresh one carrying the new fact, inheriting the current row's
// EpisodeIDs plus the episode that triggered the update. original_fact is
// preserved from the current row if already set, else seeded from the
// current row's Fact (the COALESCE behavior the original implementation
// used, kept here since soft-update always creates a fresh row).
func (s *Service) SoftUpdateEdge(ctx context.Context, p SoftUpdateEdgeParams) (*graphmodel.RelationEdge, error) {
	if p.Current == nil {
		return nil, apperror.NewValidation("current edge is required for a soft update")
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	if err := s.store.ExpireEdge(ctx, tx, p.Current.ID, now); err != nil {
		return nil, err
	}

	originalFact := p.Current.Fact
	if p.Current.OriginalFact != nil {
		originalFact = *p.Current.OriginalFact
	}

	episodeIDs := append([]uuid.UUID{}, p.Current.EpisodeIDs...)
	episodeIDs = appendUnique(episodeIDs, p.EpisodeID)

	sourceID := p.Current.SourceID
	if p.SourceID != nil {
		sourceID = *p.SourceID
	}
	targetID := p.Current.TargetID
	if p.TargetID != nil {
		targetID = *p.TargetID
	}

	reason := p.UpdateReason
	replacement := &graphmodel.RelationEdge{
		GroupID:       p.Current.GroupID,
		SourceID:      sourceID,
		TargetID:      targetID,
		Name:          p.Current.Name,
		Fact:          p.NewFact,
		OriginalFact:  &originalFact,
		UpdateReason:  &reason,
		FactEmbedding: vector(p.FactEmbedding),
		ValidAt:       p.Current.ValidAt,
		EpisodeIDs:    episodeIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateEdgeTx(ctx, tx, replacement); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apperror.NewInternal("commit soft update", err)
	}

	return replacement, nil
}

// DeleteEpisode cascades an episode's deletion through the graph: any
// entity or edge whose existence traces back solely to this episode is
// removed, and the episode's id is pruned from the EpisodeIDs of anything
// it shares with other episodes.
func (s *Service) DeleteEpisode(ctx context.Context, episodeID uuid.UUID) error {
	return s.store.DeleteEpisodeCascade(ctx, episodeID)
}

func vector(v []float32) pgvector.Vector {
	return pgvector.NewVector(v)
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
