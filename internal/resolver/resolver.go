// Package resolver deduplicates extracted entities and edges against the
// existing graph, and decides whether a newly extracted fact contradicts,
// duplicates, or is genuinely new relative to the graph's current edges.
package resolver

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/graphstore"
	"github.com/emergent-company/memgraph/pkg/mathutil"
)

// SimilarityThreshold is the cosine-similarity floor above which two
// entities are considered the same node.
const SimilarityThreshold = 0.85

// Resolver matches extraction output against the existing graph.
type Resolver struct {
	store *graphstore.Store
}

// New builds a Resolver over the given graph store.
func New(store *graphstore.Store) *Resolver {
	return &Resolver{store: store}
}

// EntityMatch is the outcome of resolving one extracted entity: either an
// existing entity to reuse, or nil meaning a new entity should be created.
type EntityMatch struct {
	Entity *graphmodel.Entity
}

// ResolveEntity finds the existing entities in groupID matching name/label
// by embedding cosine similarity (>= SimilarityThreshold) OR exact
// normalized-name match, among the top-5 nearest candidates. Zero matches:
// returns nil (caller creates a new entity). One match: returned as-is.
// Multiple matches: resolved by bestMatch's tie-break (a) exact
// normalized-name match, else (b) highest similarity, ties broken by
// earliest CreatedAt.
func (r *Resolver) ResolveEntity(ctx context.Context, groupID, label, name string, embedding []float32) (*EntityMatch, error) {
	normalized := NormalizeName(name)
	var matches []graphstore.EntityCandidate

	if !mathutil.IsZeroVector(embedding) {
		candidates, err := r.store.FindEntityCandidates(ctx, groupID, label, embedding, 5)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			if float64(c.Similarity) >= SimilarityThreshold || NormalizeName(c.Entity.Name) == normalized {
				matches = append(matches, c)
			}
		}
	}

	if len(matches) == 0 {
		existing, err := r.store.FindEntityByNormalizedName(ctx, groupID, label, normalized)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, nil
		}
		return &EntityMatch{Entity: existing}, nil
	}

	return &EntityMatch{Entity: bestMatch(matches, normalized)}, nil
}

// bestMatch applies the resolver's multi-match tie-break: an exact
// normalized-name match wins outright; otherwise the highest similarity
// wins, ties broken by earliest CreatedAt.
func bestMatch(matches []graphstore.EntityCandidate, normalized string) *graphmodel.Entity {
	for _, m := range matches {
		if NormalizeName(m.Entity.Name) == normalized {
			return m.Entity
		}
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.Similarity > best.Similarity ||
			(m.Similarity == best.Similarity && m.Entity.CreatedAt.Before(best.Entity.CreatedAt)) {
			best = m
		}
	}
	return best.Entity
}

// MergeAttributes shallowly merges incoming attributes into existing ones:
// existing keys win unless the incoming value is a longer string containing
// the existing value as a substring (a deliberately conservative merge that
// only ever grows a value, never contradicts it).
func MergeAttributes(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, incomingVal := range incoming {
		existingVal, has := merged[k]
		if !has {
			merged[k] = incomingVal
			continue
		}
		existingStr, existingIsStr := existingVal.(string)
		incomingStr, incomingIsStr := incomingVal.(string)
		if existingIsStr && incomingIsStr && len(incomingStr) > len(existingStr) && strings.Contains(incomingStr, existingStr) {
			merged[k] = incomingStr
		}
	}
	return merged
}

// EdgeDecision is the tie-break outcome for a newly extracted fact against
// the graph's current edge between the same two entities. The ordering
// contradiction > duplicate > create-new is enforced by the caller
// checking fields in that order.
type EdgeDecision struct {
	// Contradicts is the current edge this fact replaces, non-nil only when
	// the new fact and the existing one cannot both be true.
	Contradicts *graphmodel.RelationEdge
	// Duplicate is the current edge this fact merely restates, non-nil only
	// when the new fact adds no information over the existing edge.
	Duplicate *graphmodel.RelationEdge
}

// IsNew reports that neither a contradiction nor a duplicate was found,
// meaning a brand-new edge should be created.
func (d EdgeDecision) IsNew() bool {
	return d.Contradicts == nil && d.Duplicate == nil
}

// NewEdgeFact is a candidate fact from extraction, pending resolution
// against the graph's current edge (if any) between the same endpoints.
type NewEdgeFact struct {
	Negates bool
	ValidAt *time.Time
}

// ResolveEdge finds the current edge (if any) of the given name between
// source and target, then classifies fact against it per the contradiction
// > duplicate > create-new tie-break: a fact negates the current edge (via
// an explicit "negates" tag, or by sharing endpoints+relation with a
// strictly later ValidAt) contradicts it; otherwise, sharing endpoints and
// relation with no time change is a duplicate; otherwise it is new. A
// negates tag searches across relation names (the current edge between the
// endpoints need not share fact's relation name, e.g. "left" negating
// "works_for"), per §4.3 rule 4's "even when the relation name differs"
// framing.
func (r *Resolver) ResolveEdge(ctx context.Context, groupID, name string, sourceID, targetID uuid.UUID, fact NewEdgeFact) (EdgeDecision, error) {
	current, err := r.store.GetCurrentEdge(ctx, groupID, name, sourceID, targetID)
	if err != nil {
		return EdgeDecision{}, err
	}

	if fact.Negates {
		target := current
		if target == nil {
			target, err = r.store.GetCurrentEdgeBetween(ctx, groupID, sourceID, targetID)
			if err != nil {
				return EdgeDecision{}, err
			}
		}
		if target == nil {
			return EdgeDecision{}, nil
		}
		return EdgeDecision{Contradicts: target}, nil
	}

	if current == nil {
		return EdgeDecision{}, nil
	}
	// A genuinely absent valid_at on either side carries no temporal
	// information to contradict with, so it never triggers this branch --
	// only two asserted times, one strictly later than the other, do.
	if fact.ValidAt != nil && current.ValidAt != nil && fact.ValidAt.After(*current.ValidAt) {
		return EdgeDecision{Contradicts: current}, nil
	}

	return EdgeDecision{Duplicate: current}, nil
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeName lowercases and collapses whitespace, the dedup fallback
// used when embeddings are unavailable or inconclusive.
func NormalizeName(name string) string {
	return whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), " ")
}

// Similarity exposes the raw cosine similarity calculation for callers
// that need to compare two already-resolved entities directly (e.g. the
// orchestrator deciding whether two extracted entities in the same
// episode actually refer to the same node).
func Similarity(a, b []float32) float32 {
	return mathutil.CosineSimilarity(a, b)
}
