// Package search implements the hybrid search engine: vector + lexical
// candidate fan-out fused by Reciprocal Rank Fusion, optional
// graph-proximity re-rank, and citation enrichment. Grounded on the
// teacher's parallel-fan-out-then-fuse shape in domain/search/service.go.
package search

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/emergent-company/memgraph/internal/citation"
	"github.com/emergent-company/memgraph/internal/graphstore"
	"github.com/emergent-company/memgraph/internal/tracing"
	"github.com/emergent-company/memgraph/pkg/embeddings"
)

// rrfKappa is the Reciprocal Rank Fusion constant (conventionally 60).
const rrfKappa = 60

// maxProximityHops caps the graph-proximity re-rank; candidates further
// than this from the center node are dropped entirely.
const maxProximityHops = 3

// Engine executes hybrid search over edges, nodes, and episodes.
type Engine struct {
	store    *graphstore.Store
	embedder *embeddings.Service
	citer    *citation.Service
}

// New builds a search Engine.
func New(store *graphstore.Store, embedder *embeddings.Service, citer *citation.Service) *Engine {
	return &Engine{store: store, embedder: embedder, citer: citer}
}

// EdgeSearchParams are the inputs to SearchEdges.
type EdgeSearchParams struct {
	GroupID      string
	QueryText    string
	MaxResults   int
	CenterNodeID *uuid.UUID
	// IncludeExpired returns expired (soft-updated-away) edges alongside
	// current ones instead of filtering them out, per §4.6 step 5's
	// explicit "historical results" caller opt-in.
	IncludeExpired bool
}

// EdgeResult is one fused, ranked edge with its citation chain attached.
type EdgeResult struct {
	ID        uuid.UUID
	SourceID  uuid.UUID
	TargetID  uuid.UUID
	Name      string
	Fact      string
	Score     float64
	Citations []citation.Citation
}

// SearchEdges runs the edge search surface: vector + lexical candidate
// fan-out, RRF fusion, optional proximity re-rank, truncation, then
// citation enrichment.
func (e *Engine) SearchEdges(ctx context.Context, p EdgeSearchParams) ([]EdgeResult, error) {
	ctx, span := tracing.Start(ctx, "search.edges",
		attribute.String("group_id", p.GroupID),
		attribute.Bool("historical", p.IncludeExpired),
	)
	defer span.End()

	limit := p.MaxResults
	if limit <= 0 {
		limit = 10
	}
	fetchLimit := 2 * limit

	queryVec, err := e.embedder.EmbedQuery(ctx, p.QueryText)
	if err != nil {
		return nil, err
	}

	var vectorList, lexicalList []graphstore.RankedEdge
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorList, err = e.store.VectorSearchEdges(gctx, p.GroupID, queryVec, fetchLimit, p.IncludeExpired)
		return err
	})
	g.Go(func() error {
		var err error
		lexicalList, err = e.store.LexicalSearchEdges(gctx, p.GroupID, p.QueryText, fetchLimit, p.IncludeExpired)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuseEdges(vectorList, lexicalList)

	if p.CenterNodeID != nil {
		neighbors, err := e.store.ExpandNeighbors(ctx, p.GroupID, []uuid.UUID{*p.CenterNodeID}, maxProximityHops)
		if err != nil {
			return nil, err
		}
		fused = applyProximity(fused, neighbors)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].score > fused[j].score
	})

	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]EdgeResult, 0, len(fused))
	for _, f := range fused {
		citations, err := e.citer.ForEdge(ctx, f.edge.ID)
		if err != nil {
			citations = nil
		}
		results = append(results, EdgeResult{
			ID:        f.edge.ID,
			SourceID:  f.edge.SourceID,
			TargetID:  f.edge.TargetID,
			Name:      f.edge.Name,
			Fact:      f.edge.Fact,
			Score:     f.score,
			Citations: citations,
		})
	}

	return results, nil
}

// NodeSearchParams are the inputs to SearchNodes.
type NodeSearchParams struct {
	GroupID    string
	QueryText  string
	MaxResults int
	Labels     []string
}

// NodeResult is one fused, ranked entity with its citation chain attached.
type NodeResult struct {
	ID        uuid.UUID
	Name      string
	Label     string
	Summary   string
	Score     float64
	Citations []citation.Citation
}

// SearchNodes runs the node search surface: vector + lexical candidate
// fan-out over entities, RRF fusion, truncation, then citation enrichment.
// It has no graph-proximity re-rank pass: proximity is defined relative to
// a center node, which only makes sense for edge search.
func (e *Engine) SearchNodes(ctx context.Context, p NodeSearchParams) ([]NodeResult, error) {
	ctx, span := tracing.Start(ctx, "search.nodes",
		attribute.String("group_id", p.GroupID))
	defer span.End()

	limit := p.MaxResults
	if limit <= 0 {
		limit = 10
	}
	fetchLimit := 2 * limit

	queryVec, err := e.embedder.EmbedQuery(ctx, p.QueryText)
	if err != nil {
		return nil, err
	}

	var vectorList, lexicalList []graphstore.RankedEntity
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorList, err = e.store.VectorSearchEntities(gctx, p.GroupID, queryVec, fetchLimit)
		return err
	})
	g.Go(func() error {
		var err error
		lexicalList, err = e.store.LexicalSearchEntities(gctx, p.GroupID, p.QueryText, fetchLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuseEntities(vectorList, lexicalList)

	if len(p.Labels) > 0 {
		allowed := make(map[string]bool, len(p.Labels))
		for _, l := range p.Labels {
			allowed[l] = true
		}
		filtered := fused[:0]
		for _, f := range fused {
			if allowed[f.entity.Label] {
				filtered = append(filtered, f)
			}
		}
		fused = filtered
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].score > fused[j].score
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]NodeResult, 0, len(fused))
	for _, f := range fused {
		citations, err := e.citer.ForNode(ctx, f.entity.ID)
		if err != nil {
			citations = nil
		}
		results = append(results, NodeResult{
			ID:        f.entity.ID,
			Name:      f.entity.Name,
			Label:     f.entity.Label,
			Summary:   f.entity.Summary,
			Score:     f.score,
			Citations: citations,
		})
	}

	return results, nil
}

type fusedEntity struct {
	entity graphstore.RankedEntity
	score  float64
}

// fuseEntities is fuseEdges' counterpart for node search: same RRF
// formula and the same vector-score-then-most-recently-created tie-break.
func fuseEntities(vectorList, lexicalList []graphstore.RankedEntity) []fusedEntity {
	scores := make(map[uuid.UUID]float64)
	vectorScore := make(map[uuid.UUID]float64)
	byID := make(map[uuid.UUID]graphstore.RankedEntity)

	for rank, e := range vectorList {
		scores[e.ID] += 1.0 / float64(rrfKappa+rank+1)
		vectorScore[e.ID] = e.Score
		byID[e.ID] = e
	}
	for rank, e := range lexicalList {
		scores[e.ID] += 1.0 / float64(rrfKappa+rank+1)
		if _, ok := byID[e.ID]; !ok {
			byID[e.ID] = e
		}
	}

	fused := make([]fusedEntity, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, fusedEntity{entity: byID[id], score: score})
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if vectorScore[fused[i].entity.ID] != vectorScore[fused[j].entity.ID] {
			return vectorScore[fused[i].entity.ID] > vectorScore[fused[j].entity.ID]
		}
		return fused[i].entity.CreatedAt.After(fused[j].entity.CreatedAt)
	})

	return fused
}

// EpisodeSearchParams are the inputs to SearchEpisodes.
type EpisodeSearchParams struct {
	GroupID    string
	QueryText  string
	MaxResults int
}

// EpisodeResult is one episode search hit. Episodes carry no citation
// chain of their own (§4.6: "citations... edges and nodes only").
type EpisodeResult struct {
	ID      uuid.UUID
	Name    string
	Content string
	Source  string
	Score   float64
}

// SearchEpisodes runs the episode search surface: lexical-only relevance
// over name+content, or most-recent-first when QueryText is empty. No
// embedding call, no RRF fusion, no citation enrichment.
func (e *Engine) SearchEpisodes(ctx context.Context, p EpisodeSearchParams) ([]EpisodeResult, error) {
	limit := p.MaxResults
	if limit <= 0 {
		limit = 10
	}

	ranked, err := e.store.SearchEpisodes(ctx, p.GroupID, p.QueryText, limit)
	if err != nil {
		return nil, err
	}

	results := make([]EpisodeResult, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, EpisodeResult{
			ID:      r.ID,
			Name:    r.Name,
			Content: r.Content,
			Source:  r.Source,
			Score:   r.Score,
		})
	}
	return results, nil
}

type fusedEdge struct {
	edge  graphstore.RankedEdge
	score float64
}

// fuseEdges implements Reciprocal Rank Fusion: each candidate's score is
// the sum of 1/(kappa+rank) over every list it appears in (rank is 1-based
// within each list). Ties break first on vector score, then on most
// recently created.
func fuseEdges(vectorList, lexicalList []graphstore.RankedEdge) []fusedEdge {
	scores := make(map[uuid.UUID]float64)
	vectorScore := make(map[uuid.UUID]float64)
	byID := make(map[uuid.UUID]graphstore.RankedEdge)

	for rank, e := range vectorList {
		scores[e.ID] += 1.0 / float64(rrfKappa+rank+1)
		vectorScore[e.ID] = e.Score
		byID[e.ID] = e
	}
	for rank, e := range lexicalList {
		scores[e.ID] += 1.0 / float64(rrfKappa+rank+1)
		if _, ok := byID[e.ID]; !ok {
			byID[e.ID] = e
		}
	}

	fused := make([]fusedEdge, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, fusedEdge{edge: byID[id], score: score})
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if vectorScore[fused[i].edge.ID] != vectorScore[fused[j].edge.ID] {
			return vectorScore[fused[i].edge.ID] > vectorScore[fused[j].edge.ID]
		}
		return fused[i].edge.CreatedAt.After(fused[j].edge.CreatedAt)
	})

	return fused
}

// applyProximity multiplies each candidate's score by 1/(1+hops) to the
// nearest seed, dropping candidates that are unreachable within
// maxProximityHops (factor zero per the design).
func applyProximity(fused []fusedEdge, neighbors map[uuid.UUID]int) []fusedEdge {
	out := fused[:0]
	for _, f := range fused {
		hopsSource, okSource := neighbors[f.edge.SourceID]
		hopsTarget, okTarget := neighbors[f.edge.TargetID]

		hops, reachable := -1, false
		if okSource {
			hops, reachable = hopsSource, true
		}
		if okTarget && (!reachable || hopsTarget < hops) {
			hops, reachable = hopsTarget, true
		}
		if !reachable {
			continue
		}

		f.score *= 1.0 / float64(1+hops)
		out = append(out, f)
	}
	return out
}
