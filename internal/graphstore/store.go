// Package graphstore is the persistence layer for the bi-temporal knowledge
// graph: episodes, entities, relation edges, and mentions, backed by
// PostgreSQL + pgvector through bun and pgx.
package graphstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/pkg/apperror"
	"github.com/emergent-company/memgraph/pkg/mathutil"
	"github.com/emergent-company/memgraph/pkg/pgutils"
)

// Store wraps a bun.DB handle with the graph's read/write operations.
type Store struct {
	db *bun.DB
}

// New builds a Store over an already-migrated database handle.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need to run their own
// transactions spanning multiple Store calls.
func (s *Store) DB() *bun.DB { return s.db }

// wrapErr classifies a store-layer failure by its PostgreSQL error code: a
// transient one (connection blip, serialization conflict, server shedding
// load) is retried by the episode queue at its smaller backoff base (§4.5);
// anything else is an internal error the queue treats as permanent.
func wrapErr(message string, err error) error {
	if pgutils.IsTransient(err) {
		return apperror.NewTransient(message, err)
	}
	return apperror.NewInternal(message, err)
}

// CreateEpisode inserts a new episode in the queued state.
func (s *Store) CreateEpisode(ctx context.Context, ep *graphmodel.Episode) error {
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	_, err := s.db.NewInsert().Model(ep).Exec(ctx)
	if err != nil {
		return wrapErr("insert episode", err)
	}
	return nil
}

// GetEpisode fetches an episode by id.
func (s *Store) GetEpisode(ctx context.Context, id uuid.UUID) (*graphmodel.Episode, error) {
	ep := new(graphmodel.Episode)
	err := s.db.NewSelect().Model(ep).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, apperror.NewNotFound("episode", id.String())
	}
	return ep, nil
}

// GetEpisodeByName fetches the most recent episode with the given name in
// a group.
func (s *Store) GetEpisodeByName(ctx context.Context, groupID, name string) (*graphmodel.Episode, error) {
	ep := new(graphmodel.Episode)
	err := s.db.NewSelect().
		Model(ep).
		Where("group_id = ?", groupID).
		Where("name = ?", name).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, apperror.NewNotFound("episode", groupID+"/"+name)
	}
	return ep, nil
}

// UpdateEpisodeStatus transitions an episode's state machine field, and
// stamps DispatchedAt/DoneAt/FailureCause as appropriate.
func (s *Store) UpdateEpisodeStatus(ctx context.Context, id uuid.UUID, status graphmodel.EpisodeStatus, failureCause *string) error {
	now := time.Now()
	q := s.db.NewUpdate().Model((*graphmodel.Episode)(nil)).Where("id = ?", id).Set("status = ?", status)

	switch status {
	case graphmodel.EpisodeDispatched:
		q = q.Set("dispatched_at = ?", now)
	case graphmodel.EpisodeDone, graphmodel.EpisodeFailed, graphmodel.EpisodeCancelled:
		q = q.Set("done_at = ?", now)
	}
	if failureCause != nil {
		q = q.Set("failure_cause = ?", *failureCause)
	}

	_, err := q.Exec(ctx)
	if err != nil {
		return wrapErr("update episode status", err)
	}
	return nil
}

// IncrementEpisodeAttempt bumps the retry counter, used by the queue's
// backoff loop before redispatching a retrying episode.
func (s *Store) IncrementEpisodeAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var attempt int
	err := s.db.NewRaw(
		"UPDATE graph.episodes SET attempt = attempt + 1 WHERE id = ? RETURNING attempt",
		id,
	).Scan(ctx, &attempt)
	if err != nil {
		return 0, wrapErr("increment episode attempt", err)
	}
	return attempt, nil
}

// NextQueuedEpisode returns the oldest queued-or-retrying episode for a
// group, or nil if none is ready. Ordering by created_at enforces the
// queue's strict per-group FIFO: a retrying episode whose backoff deadline
// has not passed yet blocks the whole group (returns nil) rather than
// letting a later episode overtake it.
func (s *Store) NextQueuedEpisode(ctx context.Context, groupID string) (*graphmodel.Episode, error) {
	ep := new(graphmodel.Episode)
	err := s.db.NewSelect().
		Model(ep).
		Where("group_id = ?", groupID).
		Where("status IN (?, ?)", graphmodel.EpisodeQueued, graphmodel.EpisodeRetrying).
		OrderExpr("created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, nil //nolint:nilerr // no rows is the expected empty-queue case
	}
	if ep.Status == graphmodel.EpisodeRetrying && ep.NotBefore != nil && time.Now().Before(*ep.NotBefore) {
		return nil, nil
	}
	return ep, nil
}

// ScheduleEpisodeRetry transitions an episode into the retrying state with
// a backoff deadline; the episode stays at the head of its group's FIFO
// but NextQueuedEpisode will not hand it out until notBefore has passed.
func (s *Store) ScheduleEpisodeRetry(ctx context.Context, id uuid.UUID, cause string, notBefore time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*graphmodel.Episode)(nil)).
		Set("status = ?", graphmodel.EpisodeRetrying).
		Set("failure_cause = ?", cause).
		Set("not_before = ?", notBefore).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return wrapErr("schedule episode retry", err)
	}
	return nil
}

// DistinctActiveGroups lists group ids with at least one dispatchable
// episode, used by the queue scheduler to decide which group lanes to
// service this tick.
func (s *Store) DistinctActiveGroups(ctx context.Context) ([]string, error) {
	var groups []string
	err := s.db.NewSelect().
		Model((*graphmodel.Episode)(nil)).
		ColumnExpr("DISTINCT group_id").
		Where("status IN (?, ?)", graphmodel.EpisodeQueued, graphmodel.EpisodeRetrying).
		Scan(ctx, &groups)
	if err != nil {
		return nil, wrapErr("list active groups", err)
	}
	return groups, nil
}

// CountQueuedByGroup returns the number of queued-or-retrying episodes per
// group, used by the queue scheduler to publish queue-depth metrics.
func (s *Store) CountQueuedByGroup(ctx context.Context, groupIDs []string) (map[string]int, error) {
	if len(groupIDs) == 0 {
		return map[string]int{}, nil
	}

	var rows []struct {
		GroupID string `bun:"group_id"`
		Count   int    `bun:"count"`
	}
	err := s.db.NewSelect().
		Model((*graphmodel.Episode)(nil)).
		ColumnExpr("group_id, count(*) AS count").
		Where("group_id IN (?)", bun.In(groupIDs)).
		Where("status IN (?, ?)", graphmodel.EpisodeQueued, graphmodel.EpisodeRetrying).
		GroupExpr("group_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, wrapErr("count queued episodes by group", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.GroupID] = r.Count
	}
	return counts, nil
}

// DeleteEpisodeCascade removes an episode, the mentions pointing at it, and
// any entity/edge whose EpisodeIDs becomes empty as a result (an entity or
// edge that exists solely because of this episode no longer has a reason
// to exist). Edges and entities still touched by other episodes are kept,
// with this episode's id pruned from their EpisodeIDs.
func (s *Store) DeleteEpisodeCascade(ctx context.Context, episodeID uuid.UUID) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw(
			`UPDATE graph.relation_edges SET episode_ids = array_remove(episode_ids, ?) WHERE ? = ANY(episode_ids)`,
			episodeID, episodeID,
		).Exec(ctx); err != nil {
			return wrapErr("prune episode from edges", err)
		}

		if _, err := tx.NewRaw(
			`DELETE FROM graph.relation_edges WHERE cardinality(episode_ids) = 0 AND id IN (
				SELECT edge_id FROM graph.mentions WHERE episode_id = ? AND edge_id IS NOT NULL
			)`, episodeID,
		).Exec(ctx); err != nil {
			return wrapErr("delete orphaned edges", err)
		}

		if _, err := tx.NewRaw(
			`UPDATE graph.entities SET episode_ids = array_remove(episode_ids, ?) WHERE ? = ANY(episode_ids)`,
			episodeID, episodeID,
		).Exec(ctx); err != nil {
			return wrapErr("prune episode from entities", err)
		}

		if _, err := tx.NewRaw(
			`DELETE FROM graph.entities WHERE cardinality(episode_ids) = 0 AND id IN (
				SELECT entity_id FROM graph.mentions WHERE episode_id = ? AND entity_id IS NOT NULL
			)`, episodeID,
		).Exec(ctx); err != nil {
			return wrapErr("delete orphaned entities", err)
		}

		if _, err := tx.NewDelete().Model((*graphmodel.Mention)(nil)).Where("episode_id = ?", episodeID).Exec(ctx); err != nil {
			return wrapErr("delete mentions", err)
		}

		if _, err := tx.NewDelete().Model((*graphmodel.Episode)(nil)).Where("id = ?", episodeID).Exec(ctx); err != nil {
			return wrapErr("delete episode", err)
		}

		return nil
	})
}

// CreateEntity inserts a new entity.
func (s *Store) CreateEntity(ctx context.Context, e *graphmodel.Entity) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.NewInsert().Model(e).Exec(ctx)
	if err != nil {
		return wrapErr("insert entity", err)
	}
	return nil
}

// AppendEntityEpisode records that episodeID also touched an existing
// entity, used when the resolver matches extraction output to an entity
// that already existed from a prior episode.
func (s *Store) AppendEntityEpisode(ctx context.Context, entityID, episodeID uuid.UUID) error {
	_, err := s.db.NewRaw(
		`UPDATE graph.entities SET episode_ids = array_append(episode_ids, ?), updated_at = now()
		 WHERE id = ? AND NOT (? = ANY(episode_ids))`,
		episodeID, entityID, episodeID,
	).Exec(ctx)
	if err != nil {
		return wrapErr("append entity episode", err)
	}
	return nil
}

// AppendEdgeEpisode records that episodeID re-asserted an existing edge
// without changing it, the duplicate-fact outcome of edge resolution: the
// edge's citation chain grows, nothing else moves.
func (s *Store) AppendEdgeEpisode(ctx context.Context, edgeID, episodeID uuid.UUID) error {
	_, err := s.db.NewRaw(
		`UPDATE graph.relation_edges SET episode_ids = array_append(episode_ids, ?), updated_at = now()
		 WHERE id = ? AND NOT (? = ANY(episode_ids))`,
		episodeID, edgeID, episodeID,
	).Exec(ctx)
	if err != nil {
		return wrapErr("append edge episode", err)
	}
	return nil
}

// UpdateEntityAttributes persists a resolver-merged attributes map and
// optionally a revised summary for an existing entity.
func (s *Store) UpdateEntityAttributes(ctx context.Context, id uuid.UUID, attributes map[string]any, summary string) error {
	q := s.db.NewUpdate().
		Model((*graphmodel.Entity)(nil)).
		Set("attributes = ?", attributes).
		Set("updated_at = now()").
		Where("id = ?", id)
	if summary != "" {
		q = q.Set("summary = ?", summary)
	}
	if _, err := q.Exec(ctx); err != nil {
		return wrapErr("update entity attributes", err)
	}
	return nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*graphmodel.Entity, error) {
	e := new(graphmodel.Entity)
	err := s.db.NewSelect().Model(e).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, apperror.NewNotFound("entity", id.String())
	}
	return e, nil
}

// EntityCandidate is a nearest-neighbor match for resolver dedup.
type EntityCandidate struct {
	Entity     *graphmodel.Entity
	Similarity float32
}

// FindEntityCandidates returns entities in groupID whose embeddings are
// nearest to vec, for the resolver's similarity-dedup check and the
// orchestrator's extraction-context pre-fetch. When label is non-empty,
// results are restricted to that label (the resolver's per-candidate
// lookup); an empty label searches across all labels in the group (the
// orchestrator's broader "likely related entities" pre-fetch). When vec is
// the zero vector (degenerate embedding), returns no candidates.
func (s *Store) FindEntityCandidates(ctx context.Context, groupID, label string, vec []float32, limit int) ([]EntityCandidate, error) {
	if limit <= 0 {
		limit = 10
	}

	if mathutil.IsZeroVector(vec) {
		return nil, nil
	}

	vectorStr := pgutils.FormatVector(vec)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("begin candidate search tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SET LOCAL ivfflat.probes = 10"); err != nil {
		return nil, wrapErr("set ivfflat probes", err)
	}

	query := `
		SELECT id, group_id, name, label, summary, attributes, episode_ids, created_at, updated_at,
			1 - (embedding <=> ?::vector) AS similarity
		FROM graph.entities
		WHERE group_id = ?`
	args := []any{vectorStr, groupID}
	if label != "" {
		query += " AND label = ?"
		args = append(args, label)
	}
	query += " ORDER BY embedding <=> ?::vector ASC LIMIT ?"
	args = append(args, vectorStr, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("candidate search query", err)
	}
	defer rows.Close()

	var results []EntityCandidate
	for rows.Next() {
		e := &graphmodel.Entity{}
		var sim float32
		if err := rows.Scan(&e.ID, &e.GroupID, &e.Name, &e.Label, &e.Summary, &e.Attributes, &e.EpisodeIDs, &e.CreatedAt, &e.UpdatedAt, &sim); err != nil {
			return nil, wrapErr("scan candidate row", err)
		}
		results = append(results, EntityCandidate{Entity: e, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("candidate search rows", err)
	}
	return results, nil
}

// FindEntityByNormalizedName looks for an exact normalized-name match
// within a group and label, the resolver's fallback dedup path.
func (s *Store) FindEntityByNormalizedName(ctx context.Context, groupID, label, normalizedName string) (*graphmodel.Entity, error) {
	e := new(graphmodel.Entity)
	err := s.db.NewSelect().
		Model(e).
		Where("group_id = ?", groupID).
		Where("label = ?", label).
		Where("lower(regexp_replace(name, '\\s+', ' ', 'g')) = ?", normalizedName).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, nil //nolint:nilerr // no match is expected, not an error
	}
	return e, nil
}

// CreateEdge inserts a new relation edge.
func (s *Store) CreateEdge(ctx context.Context, e *graphmodel.RelationEdge) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.NewInsert().Model(e).Exec(ctx)
	if err != nil {
		return wrapErr("insert edge", err)
	}
	return nil
}

// GetCurrentEdge returns the currently asserted edge with the given name
// between source and target, or nil if none exists. Currently asserted
// means not superseded (expired_at IS NULL) and not invalidated by a past
// contradiction (invalid_at null or still in the future).
func (s *Store) GetCurrentEdge(ctx context.Context, groupID, name string, sourceID, targetID uuid.UUID) (*graphmodel.RelationEdge, error) {
	e := new(graphmodel.RelationEdge)
	err := s.db.NewSelect().
		Model(e).
		Where("group_id = ?", groupID).
		Where("name = ?", name).
		Where("source_id = ?", sourceID).
		Where("target_id = ?", targetID).
		Where("expired_at IS NULL").
		Where("(invalid_at IS NULL OR invalid_at > now())").
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, nil //nolint:nilerr // no current edge is expected, not an error
	}
	return e, nil
}

// GetCurrentEdgeBetween returns the most recently created live edge between
// source and target regardless of relation name, used when a negated fact
// doesn't share the contradicted edge's relation name (e.g. "left" negating
// "works_for").
func (s *Store) GetCurrentEdgeBetween(ctx context.Context, groupID string, sourceID, targetID uuid.UUID) (*graphmodel.RelationEdge, error) {
	e := new(graphmodel.RelationEdge)
	err := s.db.NewSelect().
		Model(e).
		Where("group_id = ?", groupID).
		Where("source_id = ?", sourceID).
		Where("target_id = ?", targetID).
		Where("expired_at IS NULL").
		Where("(invalid_at IS NULL OR invalid_at > now())").
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, nil //nolint:nilerr // no current edge is expected, not an error
	}
	return e, nil
}

// InvalidateEdge sets invalid_at on a current edge to mark when the
// asserted relation stopped holding, distinct from ExpireEdge which marks
// when the row itself was superseded by a replacement.
func (s *Store) InvalidateEdge(ctx context.Context, id uuid.UUID, invalidAt time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*graphmodel.RelationEdge)(nil)).
		Set("invalid_at = ?", invalidAt).
		Set("updated_at = ?", invalidAt).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return wrapErr("invalidate edge", err)
	}
	return nil
}

// GetEdge fetches a single edge by id regardless of current/expired state.
func (s *Store) GetEdge(ctx context.Context, id uuid.UUID) (*graphmodel.RelationEdge, error) {
	e := new(graphmodel.RelationEdge)
	err := s.db.NewSelect().Model(e).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return nil, apperror.NewNotFound("edge", id.String())
	}
	return e, nil
}

// ExpireEdge marks an edge as superseded by a soft-update, recording when
// it stopped being the current version (distinct from invalid_at, which
// marks when the fact itself stopped holding).
func (s *Store) ExpireEdge(ctx context.Context, tx bun.Tx, id uuid.UUID, expiredAt time.Time) error {
	_, err := tx.NewUpdate().
		Model((*graphmodel.RelationEdge)(nil)).
		Set("expired_at = ?", expiredAt).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return wrapErr("expire edge", err)
	}
	return nil
}

// BeginTx starts a transaction for callers that need to compose multiple
// Store operations atomically (the mutation service's soft-update).
func (s *Store) BeginTx(ctx context.Context) (bun.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tx, wrapErr("begin transaction", err)
	}
	return tx, nil
}

// CreateEdgeTx inserts an edge within an existing transaction.
func (s *Store) CreateEdgeTx(ctx context.Context, tx bun.Tx, e *graphmodel.RelationEdge) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := tx.NewInsert().Model(e).Exec(ctx)
	if err != nil {
		return wrapErr("insert edge", err)
	}
	return nil
}

// CreateMention inserts a mention linking an episode to an entity or edge.
func (s *Store) CreateMention(ctx context.Context, m *graphmodel.Mention) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return wrapErr("insert mention", err)
	}
	return nil
}

// MentionsForEpisode returns every mention recorded for an episode, in the
// order they were created, for citation-chain resolution.
func (s *Store) MentionsForEpisode(ctx context.Context, episodeID uuid.UUID) ([]*graphmodel.Mention, error) {
	var mentions []*graphmodel.Mention
	err := s.db.NewSelect().
		Model(&mentions).
		Where("episode_id = ?", episodeID).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list mentions for episode", err)
	}
	return mentions, nil
}

// MentionsForEntity returns every episode that mentioned an entity, newest
// first, for the citation chain of an entity.
func (s *Store) MentionsForEntity(ctx context.Context, entityID uuid.UUID) ([]*graphmodel.Mention, error) {
	var mentions []*graphmodel.Mention
	err := s.db.NewSelect().
		Model(&mentions).
		Where("entity_id = ?", entityID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list mentions for entity", err)
	}
	return mentions, nil
}

// MentionsForEdge returns every episode that mentioned an edge, newest
// first, for the citation chain of a fact.
func (s *Store) MentionsForEdge(ctx context.Context, edgeID uuid.UUID) ([]*graphmodel.Mention, error) {
	var mentions []*graphmodel.Mention
	err := s.db.NewSelect().
		Model(&mentions).
		Where("edge_id = ?", edgeID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list mentions for edge", err)
	}
	return mentions, nil
}
