package graphstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/memgraph/pkg/mathutil"
	"github.com/emergent-company/memgraph/pkg/pgutils"
)

// RankedEdge is a relation edge returned from a ranked search, carrying
// whichever score the issuing query produced (cosine similarity for vector
// search, ts_rank for lexical search). CreatedAt backs the fused ranking's
// secondary "most recently created" tie-break.
type RankedEdge struct {
	ID        uuid.UUID
	GroupID   string
	SourceID  uuid.UUID
	TargetID  uuid.UUID
	Name      string
	Fact      string
	ValidAt   *string
	CreatedAt time.Time
	Score     float64
}

// VectorSearchEdges ranks edges in groupID by cosine similarity between
// their fact embedding and vec, using an ivfflat-scoped transaction the
// same way the wider similarity-candidate search does. Expired edges are
// excluded unless includeExpired is set, per §4.6 step 5's "historical"
// escape hatch.
func (s *Store) VectorSearchEdges(ctx context.Context, groupID string, vec []float32, limit int, includeExpired bool) ([]RankedEdge, error) {
	if limit <= 0 {
		limit = 20
	}
	// A degenerate (all-zero) query embedding has no meaningful cosine
	// ordering; returning nothing lets the fused ranking fall back to the
	// lexical list alone.
	if mathutil.IsZeroVector(vec) {
		return nil, nil
	}
	vectorStr := pgutils.FormatVector(vec)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin vector search tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SET LOCAL ivfflat.probes = 10"); err != nil {
		return nil, wrapErr("set ivfflat probes", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, group_id, source_id, target_id, name, fact, valid_at::text, created_at,
			1 - (fact_embedding <=> ?::vector) AS score
		FROM graph.relation_edges
		WHERE group_id = ? AND (expired_at IS NULL OR ?)
		ORDER BY fact_embedding <=> ?::vector ASC
		LIMIT ?
	`, vectorStr, groupID, includeExpired, vectorStr, limit)
	if err != nil {
		return nil, wrapErr("vector search query", err)
	}
	defer rows.Close()

	return scanRankedEdges(rows)
}

// LexicalSearchEdges ranks edges by full-text relevance of their fact text
// against a websearch-style query, the BM25-family half of the hybrid
// search's reciprocal rank fusion. Expired edges are excluded unless
// includeExpired is set, per §4.6 step 5's "historical" escape hatch.
func (s *Store) LexicalSearchEdges(ctx context.Context, groupID, query string, limit int, includeExpired bool) ([]RankedEdge, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, source_id, target_id, name, fact, valid_at::text, created_at,
			ts_rank(to_tsvector('simple', fact), websearch_to_tsquery('simple', ?)) AS score
		FROM graph.relation_edges
		WHERE group_id = ? AND (expired_at IS NULL OR ?)
			AND to_tsvector('simple', fact) @@ websearch_to_tsquery('simple', ?)
		ORDER BY score DESC
		LIMIT ?
	`, query, groupID, includeExpired, query, limit)
	if err != nil {
		return nil, wrapErr("lexical search query", err)
	}
	defer rows.Close()

	return scanRankedEdges(rows)
}

func scanRankedEdges(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]RankedEdge, error) {
	var results []RankedEdge
	for rows.Next() {
		var e RankedEdge
		if err := rows.Scan(&e.ID, &e.GroupID, &e.SourceID, &e.TargetID, &e.Name, &e.Fact, &e.ValidAt, &e.CreatedAt, &e.Score); err != nil {
			return nil, wrapErr("scan ranked edge", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ranked edge rows", err)
	}
	return results, nil
}

// RankedEntity is an entity returned from a ranked node search, carrying
// whichever score the issuing query produced.
type RankedEntity struct {
	ID        uuid.UUID
	GroupID   string
	Name      string
	Label     string
	Summary   string
	CreatedAt time.Time
	Score     float64
}

// VectorSearchEntities ranks entities in groupID by cosine similarity
// between their name+summary embedding and vec.
func (s *Store) VectorSearchEntities(ctx context.Context, groupID string, vec []float32, limit int) ([]RankedEntity, error) {
	if limit <= 0 {
		limit = 20
	}
	if mathutil.IsZeroVector(vec) {
		return nil, nil
	}
	vectorStr := pgutils.FormatVector(vec)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin entity vector search tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SET LOCAL ivfflat.probes = 10"); err != nil {
		return nil, wrapErr("set ivfflat probes", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, group_id, name, label, summary, created_at,
			1 - (embedding <=> ?::vector) AS score
		FROM graph.entities
		WHERE group_id = ?
		ORDER BY embedding <=> ?::vector ASC
		LIMIT ?
	`, vectorStr, groupID, vectorStr, limit)
	if err != nil {
		return nil, wrapErr("entity vector search query", err)
	}
	defer rows.Close()

	return scanRankedEntities(rows)
}

// LexicalSearchEntities ranks entities by full-text relevance of their
// name+summary against a websearch-style query.
func (s *Store) LexicalSearchEntities(ctx context.Context, groupID, query string, limit int) ([]RankedEntity, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, name, label, summary, created_at,
			ts_rank(to_tsvector('simple', name || ' ' || summary), websearch_to_tsquery('simple', ?)) AS score
		FROM graph.entities
		WHERE group_id = ?
			AND to_tsvector('simple', name || ' ' || summary) @@ websearch_to_tsquery('simple', ?)
		ORDER BY score DESC
		LIMIT ?
	`, query, groupID, query, limit)
	if err != nil {
		return nil, wrapErr("entity lexical search query", err)
	}
	defer rows.Close()

	return scanRankedEntities(rows)
}

func scanRankedEntities(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]RankedEntity, error) {
	var results []RankedEntity
	for rows.Next() {
		var e RankedEntity
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Name, &e.Label, &e.Summary, &e.CreatedAt, &e.Score); err != nil {
			return nil, wrapErr("scan ranked entity", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ranked entity rows", err)
	}
	return results, nil
}

// RankedEpisode is an episode returned from the episode search surface.
type RankedEpisode struct {
	ID        uuid.UUID
	GroupID   string
	Name      string
	Content   string
	Source    string
	CreatedAt time.Time
	Score     float64
}

// SearchEpisodes ranks episodes by full-text relevance of name+content
// against a websearch-style query. An empty query instead returns the most
// recent episodes by created_at descending, unranked (score left at zero).
func (s *Store) SearchEpisodes(ctx context.Context, groupID, query string, limit int) ([]RankedEpisode, error) {
	if limit <= 0 {
		limit = 20
	}

	if query == "" {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, group_id, name, content, source, created_at, 0
			FROM graph.episodes
			WHERE group_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		`, groupID, limit)
		if err != nil {
			return nil, wrapErr("recent episodes query", err)
		}
		defer rows.Close()
		return scanRankedEpisodes(rows)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, name, content, source, created_at,
			ts_rank(to_tsvector('simple', name || ' ' || content), websearch_to_tsquery('simple', ?)) AS score
		FROM graph.episodes
		WHERE group_id = ?
			AND to_tsvector('simple', name || ' ' || content) @@ websearch_to_tsquery('simple', ?)
		ORDER BY score DESC
		LIMIT ?
	`, query, groupID, query, limit)
	if err != nil {
		return nil, wrapErr("episode lexical search query", err)
	}
	defer rows.Close()

	return scanRankedEpisodes(rows)
}

func scanRankedEpisodes(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]RankedEpisode, error) {
	var results []RankedEpisode
	for rows.Next() {
		var e RankedEpisode
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Name, &e.Content, &e.Source, &e.CreatedAt, &e.Score); err != nil {
			return nil, wrapErr("scan ranked episode", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ranked episode rows", err)
	}
	return results, nil
}

// Neighbor is one hop away from a seed entity in the graph-proximity
// re-rank pass.
type Neighbor struct {
	EntityID uuid.UUID
	Hops     int
}

// ExpandNeighbors performs a breadth-first walk from the seed entities out
// to maxHops, used to compute the graph-proximity boost (1/(1+hops)) for
// search results. Capped at maxHops per the spec's 3-hop limit.
func (s *Store) ExpandNeighbors(ctx context.Context, groupID string, seeds []uuid.UUID, maxHops int) (map[uuid.UUID]int, error) {
	if maxHops <= 0 || maxHops > 3 {
		maxHops = 3
	}

	visited := make(map[uuid.UUID]int, len(seeds))
	frontier := make([]uuid.UUID, 0, len(seeds))
	for _, id := range seeds {
		visited[id] = 0
		frontier = append(frontier, id)
	}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		next, err := s.adjacent(ctx, groupID, frontier)
		if err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for _, id := range next {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = hop
			frontier = append(frontier, id)
		}
	}

	return visited, nil
}

func (s *Store) adjacent(ctx context.Context, groupID string, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id FROM graph.relation_edges
		WHERE group_id = ? AND expired_at IS NULL AND source_id IN (?)
		UNION
		SELECT source_id FROM graph.relation_edges
		WHERE group_id = ? AND expired_at IS NULL AND target_id IN (?)
	`, groupID, bun.In(ids), groupID, bun.In(ids))
	if err != nil {
		return nil, wrapErr("adjacency query", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, wrapErr("scan adjacency row", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("adjacency rows", err)
	}
	return out, nil
}
