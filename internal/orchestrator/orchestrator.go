// Package orchestrator runs the per-episode extract -> resolve -> merge ->
// persist transaction: the Ingestion Orchestrator of the design.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/graphstore"
	"github.com/emergent-company/memgraph/internal/metrics"
	"github.com/emergent-company/memgraph/internal/ontology"
	"github.com/emergent-company/memgraph/internal/resolver"
	"github.com/emergent-company/memgraph/internal/tracing"
	"github.com/emergent-company/memgraph/pkg/apperror"
	"github.com/emergent-company/memgraph/pkg/embeddings"
	"github.com/emergent-company/memgraph/pkg/llm"
	"github.com/emergent-company/memgraph/pkg/logger"
)

// candidateLimit bounds the number of likely-related entities fetched as
// extraction context, per the design's 10-20 range.
const candidateLimit = 20

// Orchestrator drives entity/fact extraction and graph persistence for a
// single episode at a time. It holds no per-episode state between calls;
// the episode queue is responsible for sequencing and retries. Edge
// contradiction is resolved in-line against the store (invalidate +
// create); the Mutation Service is reserved for the explicit edge-update
// API path, which has different provenance bookkeeping (§4.8).
type Orchestrator struct {
	store     *graphstore.Store
	resolver  *resolver.Resolver
	llmClient llm.Provider
	embedder  *embeddings.Service
	ontology  *ontology.Registry
	log       *slog.Logger
}

// New builds an Orchestrator from its collaborators.
func New(store *graphstore.Store, res *resolver.Resolver, llmClient llm.Provider, embedder *embeddings.Service, reg *ontology.Registry, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		resolver:  res,
		llmClient: llmClient,
		embedder:  embedder,
		ontology:  reg,
		log:       log.With(logger.Scope("orchestrator")),
	}
}

// Result summarizes what an episode run produced, for the structured log
// line and the queue's status bookkeeping.
type Result struct {
	EntitiesResolved int
	EdgesCreated     int
	EdgesUpdated     int
	EdgesDuplicate   int
	Skipped          int
}

// Run executes the full per-episode transaction against an already-persisted
// episode. The episode itself is inserted by the caller (the queue) before
// Run is invoked, since idempotent persistence of the episode node and
// dispatch-state tracking are the queue's job, not the orchestrator's.
func (o *Orchestrator) Run(ctx context.Context, ep *graphmodel.Episode) (Result, error) {
	ctx, span := tracing.Start(ctx, "orchestrator.run",
		attribute.String("episode.id", ep.ID.String()),
		attribute.String("episode.group_id", ep.GroupID),
	)
	defer span.End()

	var result Result

	candidateVec, err := o.embedder.EmbedQuery(ctx, ep.Content)
	if err != nil {
		return result, err
	}

	candidates, err := o.store.FindEntityCandidates(ctx, ep.GroupID, "", candidateVec, candidateLimit)
	if err != nil {
		o.log.Warn("candidate lookup failed, continuing without context", slog.String("error", err.Error()))
	}

	entityOut, err := o.extractEntities(ctx, ep, candidates)
	if err != nil {
		return result, err
	}

	// Extraction is over; everything from here on resolves the output
	// against the existing graph, then persists it.
	if err := o.store.UpdateEpisodeStatus(ctx, ep.ID, graphmodel.EpisodeResolving, nil); err != nil {
		o.log.Warn("failed to mark episode resolving", slog.String("error", err.Error()))
	}

	resolved := make(map[string]*graphmodel.Entity, len(entityOut.Entities))
	for _, candidate := range entityOut.Entities {
		entity, kind, err := o.resolveAndPersistEntity(ctx, ep, candidate)
		if err != nil {
			o.log.Warn("skipping unresolvable entity", slog.String("name", candidate.Name), slog.String("error", err.Error()))
			result.Skipped++
			continue
		}
		resolved[entity.Name] = entity
		result.EntitiesResolved++

		if err := o.store.CreateMention(ctx, &graphmodel.Mention{EpisodeID: ep.ID, EntityID: &entity.ID, Kind: kind}); err != nil {
			o.log.Warn("failed to record entity mention", slog.String("error", err.Error()))
		}
	}

	factOut, err := o.extractFacts(ctx, ep, resolved)
	if err != nil {
		return result, err
	}

	if err := o.store.UpdateEpisodeStatus(ctx, ep.ID, graphmodel.EpisodePersisting, nil); err != nil {
		o.log.Warn("failed to mark episode persisting", slog.String("error", err.Error()))
	}

	for _, fact := range factOut.Facts {
		source, hasSource := resolved[fact.SourceName]
		target, hasTarget := resolved[fact.TargetName]
		if !hasSource || !hasTarget {
			result.Skipped++
			continue
		}

		if err := o.resolveAndPersistFact(ctx, ep, source, target, fact, &result); err != nil {
			o.log.Warn("skipping fact", slog.String("error", err.Error()))
			result.Skipped++
		}
	}

	o.log.Info("episode processed",
		slog.String("episode_id", ep.ID.String()),
		slog.Int("entities_resolved", result.EntitiesResolved),
		slog.Int("edges_created", result.EdgesCreated),
		slog.Int("edges_updated", result.EdgesUpdated),
		slog.Int("edges_duplicate", result.EdgesDuplicate),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}

func (o *Orchestrator) extractEntities(ctx context.Context, ep *graphmodel.Episode, candidates []graphstore.EntityCandidate) (llm.EntityExtractionOutput, error) {
	ctx, span := tracing.Start(ctx, "orchestrator.extract_entities",
		attribute.Int("candidate_count", len(candidates)))
	defer span.End()

	var out llm.EntityExtractionOutput

	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Entity.Name)
	}

	systemPrompt := "Extract the distinct entities mentioned in the episode text. " +
		"Reuse one of the existing entity names below when it refers to the same concept: " + fmt.Sprint(names)

	raw, err := o.llmClient.GenerateJSON(ctx, systemPrompt, ep.Content, llm.EntityExtractionSchema(o.ontology.EntityLabels()))
	if err != nil {
		metrics.LLMCalls.WithLabelValues("entity_extraction", "error").Inc()
		return out, err
	}
	metrics.LLMCalls.WithLabelValues("entity_extraction", "ok").Inc()

	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, apperror.ErrBadLLMOutput.WithInternal(err)
	}

	valid := out.Entities[:0]
	for _, e := range out.Entities {
		if e.Name == "" || e.Label == "" {
			continue
		}
		// A label outside the declared set is a legitimate novel concept,
		// not malformed output: register it so later episodes (and the
		// extraction schema's enum) know about it. Declared labels get
		// their attribute bag pruned to the schema's declared keys.
		if !o.ontology.HasEntityLabel(e.Label) {
			o.ontology.RegisterEntityLabel(e.Label)
		} else {
			e.Attributes = o.ontology.PruneEntityAttributes(e.Label, e.Attributes)
		}
		valid = append(valid, e)
	}
	out.Entities = valid

	return out, nil
}

func (o *Orchestrator) extractFacts(ctx context.Context, ep *graphmodel.Episode, resolved map[string]*graphmodel.Entity) (llm.FactExtractionOutput, error) {
	ctx, span := tracing.Start(ctx, "orchestrator.extract_facts",
		attribute.Int("entity_count", len(resolved)))
	defer span.End()

	var out llm.FactExtractionOutput

	names := make([]string, 0, len(resolved))
	for name := range resolved {
		names = append(names, name)
	}

	systemPrompt := "Extract facts (relationships) between the resolved entities: " + fmt.Sprint(names)

	raw, err := o.llmClient.GenerateJSON(ctx, systemPrompt, ep.Content, llm.FactExtractionSchema(o.ontology.EdgeLabels()))
	if err != nil {
		metrics.LLMCalls.WithLabelValues("fact_extraction", "error").Inc()
		return out, err
	}
	metrics.LLMCalls.WithLabelValues("fact_extraction", "ok").Inc()

	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, apperror.ErrBadLLMOutput.WithInternal(err)
	}

	valid := out.Facts[:0]
	for _, f := range out.Facts {
		if f.SourceName == "" || f.TargetName == "" || f.Name == "" || f.Fact == "" {
			continue
		}
		if !o.ontology.HasEdgeLabel(f.Name) {
			o.ontology.RegisterEdgeLabel(f.Name)
		}
		valid = append(valid, f)
	}
	out.Facts = valid

	return out, nil
}

func toVector(v []float32) pgvector.Vector {
	return pgvector.NewVector(v)
}

// parseFactTime parses an optional RFC3339 timestamp supplied by the LLM's
// fact-extraction output, reporting ok=false for a nil or unparseable value
// so the caller can fall back to the episode's reference time.
func parseFactTime(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// resolveAndPersistEntity resolves candidate against the existing graph and
// reports which of the three §4.7 mention kinds applies: created (no match,
// a new node), updated (matched, and merging in the new attributes actually
// changed something), or referenced (matched, nothing new learned).
func (o *Orchestrator) resolveAndPersistEntity(ctx context.Context, ep *graphmodel.Episode, candidate llm.EntityExtraction) (*graphmodel.Entity, graphmodel.MentionKind, error) {
	embedding, err := o.embedder.EmbedQuery(ctx, candidate.Name+" "+candidate.Summary)
	if err != nil {
		return nil, "", err
	}

	match, err := o.resolver.ResolveEntity(ctx, ep.GroupID, candidate.Label, candidate.Name, embedding)
	if err != nil {
		return nil, "", err
	}

	if match != nil {
		merged := resolver.MergeAttributes(match.Entity.Attributes, candidate.Attributes)
		changed := !reflect.DeepEqual(match.Entity.Attributes, merged)

		kind := graphmodel.MentionReferenced
		if changed {
			if err := o.store.UpdateEntityAttributes(ctx, match.Entity.ID, merged, candidate.Summary); err != nil {
				return nil, "", err
			}
			match.Entity.Attributes = merged
			if candidate.Summary != "" {
				match.Entity.Summary = candidate.Summary
			}
			kind = graphmodel.MentionUpdated
		}
		if err := o.store.AppendEntityEpisode(ctx, match.Entity.ID, ep.ID); err != nil {
			return nil, "", err
		}
		return match.Entity, kind, nil
	}

	entity := &graphmodel.Entity{
		GroupID:    ep.GroupID,
		Name:       candidate.Name,
		Label:      candidate.Label,
		Summary:    candidate.Summary,
		Attributes: candidate.Attributes,
		Embedding:  toVector(embedding),
		EpisodeIDs: []uuid.UUID{ep.ID},
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := o.store.CreateEntity(ctx, entity); err != nil {
		return nil, "", err
	}
	return entity, graphmodel.MentionCreated, nil
}

func (o *Orchestrator) resolveAndPersistFact(ctx context.Context, ep *graphmodel.Episode, source, target *graphmodel.Entity, fact llm.FactExtraction, result *Result) error {
	// validAt stays nil when the LLM asserted no start time: per spec §3
	// valid_at is optional, and defaulting it to the episode's reference
	// time would conflate "not asserted" with "asserted to be now."
	var validAt *time.Time
	if t, ok := parseFactTime(fact.ValidAt); ok {
		validAt = &t
	}
	invalidAtVal, hasInvalidAt := parseFactTime(fact.InvalidAt)
	var invalidAt *time.Time
	if hasInvalidAt {
		invalidAt = &invalidAtVal
	}

	decision, err := o.resolver.ResolveEdge(ctx, ep.GroupID, fact.Name, source.ID, target.ID, resolver.NewEdgeFact{
		Negates: fact.Negates,
		ValidAt: validAt,
	})
	if err != nil {
		return err
	}

	factEmbedding, err := o.embedder.EmbedQuery(ctx, fact.Fact)
	if err != nil {
		return err
	}

	var mentionEdgeID uuid.UUID
	var mentionKind graphmodel.MentionKind

	switch {
	case decision.Contradicts != nil:
		// §4.3 rule 4: the contradicted edge's relation stopped holding, it
		// was not superseded as an erroneous assertion, so invalid_at is set
		// (not expired_at/original_fact -- those belong to the explicit
		// Mutation Service edit path in internal/mutation) and a fresh edge
		// is created citing only this episode.
		// The old relation stopped holding when the new one began: the
		// cutoff is the new fact's valid_at, falling back to the episode's
		// reference time when the model asserted no start time.
		cutoff := ep.ReferenceAt
		if validAt != nil {
			cutoff = *validAt
		}
		if err := o.store.InvalidateEdge(ctx, decision.Contradicts.ID, cutoff); err != nil {
			return err
		}

		edge := &graphmodel.RelationEdge{
			GroupID:       ep.GroupID,
			SourceID:      source.ID,
			TargetID:      target.ID,
			Name:          fact.Name,
			Fact:          fact.Fact,
			FactEmbedding: toVector(factEmbedding),
			ValidAt:       validAt,
			InvalidAt:     invalidAt,
			EpisodeIDs:    []uuid.UUID{ep.ID},
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		if err := o.store.CreateEdge(ctx, edge); err != nil {
			return err
		}
		result.EdgesUpdated++
		mentionEdgeID, mentionKind = edge.ID, graphmodel.MentionCreated

	case decision.Duplicate != nil:
		if err := o.store.AppendEdgeEpisode(ctx, decision.Duplicate.ID, ep.ID); err != nil {
			return err
		}
		result.EdgesDuplicate++
		mentionEdgeID, mentionKind = decision.Duplicate.ID, graphmodel.MentionReferenced

	default:
		edge := &graphmodel.RelationEdge{
			GroupID:       ep.GroupID,
			SourceID:      source.ID,
			TargetID:      target.ID,
			Name:          fact.Name,
			Fact:          fact.Fact,
			FactEmbedding: toVector(factEmbedding),
			ValidAt:       validAt,
			InvalidAt:     invalidAt,
			EpisodeIDs:    []uuid.UUID{ep.ID},
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		if err := o.store.CreateEdge(ctx, edge); err != nil {
			return err
		}
		result.EdgesCreated++
		mentionEdgeID, mentionKind = edge.ID, graphmodel.MentionCreated
	}

	if err := o.store.CreateMention(ctx, &graphmodel.Mention{EpisodeID: ep.ID, EdgeID: &mentionEdgeID, Kind: mentionKind}); err != nil {
		o.log.Warn("failed to record edge mention", slog.String("error", err.Error()))
	}

	return nil
}
