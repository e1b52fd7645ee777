// Package httpapi implements the five external endpoints of the service:
// ingest, search, edge update, episode delete, and health. Grounded on the
// teacher's echo handler/route registration shape.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/emergent-company/memgraph/internal/config"
	"github.com/emergent-company/memgraph/internal/episodequeue"
	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/graphstore"
	"github.com/emergent-company/memgraph/internal/metrics"
	"github.com/emergent-company/memgraph/internal/mutation"
	"github.com/emergent-company/memgraph/internal/search"
	"github.com/emergent-company/memgraph/internal/version"
	"github.com/emergent-company/memgraph/pkg/apperror"
	"github.com/emergent-company/memgraph/pkg/embeddings"
)

// Handler implements the five endpoints over the queue/search/mutation
// collaborators.
type Handler struct {
	queue    *episodequeue.Queue
	store    *graphstore.Store
	engine   *search.Engine
	mutator  *mutation.Service
	embedder *embeddings.Service
	cfg      *config.Config
	startAt  time.Time
}

// New builds a Handler.
func New(queue *episodequeue.Queue, store *graphstore.Store, engine *search.Engine, mutator *mutation.Service, embedder *embeddings.Service, cfg *config.Config) *Handler {
	return &Handler{queue: queue, store: store, engine: engine, mutator: mutator, embedder: embedder, cfg: cfg, startAt: time.Now()}
}

// Register wires the five endpoints onto an echo group.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/episodes", h.Ingest)
	e.POST("/search", h.Search)
	e.PATCH("/edges/:edge_id", h.UpdateEdge)
	e.DELETE("/episodes/:episode_id", h.DeleteEpisode)
	e.GET("/health", h.Health)
}

type ingestRequest struct {
	ID                *uuid.UUID `json:"id"`
	Name              string     `json:"name"`
	Content           string     `json:"content"`
	GroupID           string     `json:"group_id"`
	BodyKind          string     `json:"body_kind"`
	SourceDescription string     `json:"source_description"`
	SourceURL         string     `json:"source_url"`
	ReferenceTime     *time.Time `json:"reference_time"`
}

type ingestResponse struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	GroupID string `json:"group_id"`
}

// Ingest accepts a new episode and enqueues it for asynchronous processing.
// Idempotent on id when supplied: an episode with a matching id that
// already exists is returned as already-accepted rather than re-enqueued.
func (h *Handler) Ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}
	if req.Name == "" || req.Content == "" {
		return apperror.ErrValidation.WithMessage("name and content are required").ToEchoError()
	}

	groupID := req.GroupID
	if groupID == "" {
		groupID = h.cfg.Queue.DefaultGroupID
	}

	if req.ID != nil {
		if existing, err := h.store.GetEpisode(c.Request().Context(), *req.ID); err == nil && existing != nil {
			return c.JSON(http.StatusAccepted, ingestResponse{Status: "accepted", Name: existing.Name, GroupID: existing.GroupID})
		}
	}

	sourceDescription := req.SourceDescription
	if req.SourceURL != "" {
		sourceDescription = sourceDescription + ", source_url: " + req.SourceURL
	}

	referenceAt := time.Now()
	if req.ReferenceTime != nil {
		referenceAt = *req.ReferenceTime
	}

	ep := &graphmodel.Episode{
		GroupID:     groupID,
		Name:        req.Name,
		Content:     req.Content,
		Source:      sourceDescription,
		ReferenceAt: referenceAt,
		Metadata:    map[string]any{"body_kind": defaultString(req.BodyKind, "text")},
	}
	if req.ID != nil {
		ep.ID = *req.ID
	}

	if err := h.queue.Enqueue(c.Request().Context(), ep); err != nil {
		return asEchoError(err)
	}

	return c.JSON(http.StatusAccepted, ingestResponse{Status: "accepted", Name: ep.Name, GroupID: ep.GroupID})
}

type searchRequest struct {
	Query string `json:"query"`
	Kind  string `json:"kind"`
	// MaxResults is a pointer so an explicit 0 (return nothing, succeed)
	// can be told apart from an omitted field (default 10).
	MaxResults   *int       `json:"max_results"`
	GroupIDs     []string   `json:"group_ids"`
	Labels       []string   `json:"labels"`
	CenterNodeID *uuid.UUID `json:"center_node_id"`
	// Historical, when true, includes expired edges in edge-search results
	// instead of filtering them out (§4.6 step 5). Ignored for nodes/episodes.
	Historical bool `json:"historical"`
}

type searchResponse struct {
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Results any    `json:"results"`
}

// Search dispatches to the edge/node/episode search surface named by Kind.
func (h *Handler) Search(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}

	maxResults := 10
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}
	if maxResults > 100 {
		maxResults = 100
	}

	groupID := h.cfg.Queue.DefaultGroupID
	if len(req.GroupIDs) > 0 {
		groupID = req.GroupIDs[0]
	}

	kind := req.Kind
	if kind == "" {
		kind = "edges"
	}

	if maxResults <= 0 {
		return c.JSON(http.StatusOK, searchResponse{Kind: kind, Count: 0, Results: []any{}})
	}

	started := time.Now()
	switch kind {
	case "edges":
		results, err := h.engine.SearchEdges(c.Request().Context(), search.EdgeSearchParams{
			GroupID:        groupID,
			QueryText:      req.Query,
			MaxResults:     maxResults,
			CenterNodeID:   req.CenterNodeID,
			IncludeExpired: req.Historical,
		})
		metrics.SearchLatencySeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.SearchRequests.WithLabelValues(kind, "error").Inc()
			return asEchoError(err)
		}
		metrics.SearchRequests.WithLabelValues(kind, "ok").Inc()
		return c.JSON(http.StatusOK, searchResponse{Kind: "edges", Count: len(results), Results: results})

	case "nodes":
		results, err := h.engine.SearchNodes(c.Request().Context(), search.NodeSearchParams{
			GroupID:    groupID,
			QueryText:  req.Query,
			MaxResults: maxResults,
			Labels:     req.Labels,
		})
		metrics.SearchLatencySeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.SearchRequests.WithLabelValues(kind, "error").Inc()
			return asEchoError(err)
		}
		metrics.SearchRequests.WithLabelValues(kind, "ok").Inc()
		return c.JSON(http.StatusOK, searchResponse{Kind: "nodes", Count: len(results), Results: results})

	case "episodes":
		results, err := h.engine.SearchEpisodes(c.Request().Context(), search.EpisodeSearchParams{
			GroupID:    groupID,
			QueryText:  req.Query,
			MaxResults: maxResults,
		})
		metrics.SearchLatencySeconds.WithLabelValues(kind).Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.SearchRequests.WithLabelValues(kind, "error").Inc()
			return asEchoError(err)
		}
		metrics.SearchRequests.WithLabelValues(kind, "ok").Inc()
		return c.JSON(http.StatusOK, searchResponse{Kind: "episodes", Count: len(results), Results: results})

	default:
		metrics.SearchRequests.WithLabelValues(kind, "unsupported").Inc()
		return apperror.ErrValidation.WithMessage("unsupported search kind: " + req.Kind).ToEchoError()
	}
}

type edgeUpdateRequest struct {
	Fact           string         `json:"fact"`
	UpdateReason   string         `json:"update_reason"`
	SourceEntityID *uuid.UUID     `json:"source_entity_id"`
	TargetEntityID *uuid.UUID     `json:"target_entity_id"`
	Attributes     map[string]any `json:"attributes"`
}

type edgeUpdateResponse struct {
	OldID uuid.UUID `json:"old_id"`
	NewID uuid.UUID `json:"new_id"`
}

// UpdateEdge performs a soft update of an existing edge's fact.
func (h *Handler) UpdateEdge(c echo.Context) error {
	edgeID, err := uuid.Parse(c.Param("edge_id"))
	if err != nil {
		return apperror.ErrValidation.WithMessage("invalid edge_id").ToEchoError()
	}

	var req edgeUpdateRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithInternal(err).ToEchoError()
	}
	if req.Fact == "" {
		return apperror.ErrValidation.WithMessage("fact is required").ToEchoError()
	}
	// Relation edges carry no attribute bag in the data model; rejecting
	// the field beats silently dropping what the caller asked to store.
	if len(req.Attributes) > 0 {
		return apperror.ErrValidation.WithMessage("edge attributes are not supported").ToEchoError()
	}

	ctx := c.Request().Context()

	current, err := h.store.GetEdge(ctx, edgeID)
	if err != nil {
		return asEchoError(err)
	}

	// Re-pointed endpoints must name entities that actually exist before
	// the replacement edge references them.
	for _, entityID := range []*uuid.UUID{req.SourceEntityID, req.TargetEntityID} {
		if entityID == nil {
			continue
		}
		if _, err := h.store.GetEntity(ctx, *entityID); err != nil {
			return asEchoError(err)
		}
	}

	// §4.8: a soft update must serialize behind the group queue of the
	// affected episode(s), the same claim the scheduler takes before
	// dispatching an episode for this group, so it can't race the
	// orchestrator's read-then-write edge resolution.
	var replacement *graphmodel.RelationEdge
	err = h.queue.WithGroupLock(ctx, current.GroupID, func(ctx context.Context) error {
		// A soft update must remain citable: persist a synthesis episode
		// describing the edit so the replacement edge's episode_ids traces
		// back to something the citation chain can expand.
		synthesis := &graphmodel.Episode{
			GroupID:     current.GroupID,
			Name:        "edge update: " + current.Name,
			Content:     req.Fact,
			Source:      defaultString(req.UpdateReason, "manual edge update"),
			ReferenceAt: time.Now(),
			Status:      graphmodel.EpisodeDone,
			Metadata:    map[string]any{"body_kind": "structured"},
		}
		if err := h.store.CreateEpisode(ctx, synthesis); err != nil {
			return err
		}

		factEmbedding, err := h.embedder.EmbedQuery(ctx, req.Fact)
		if err != nil {
			return err
		}

		replacement, err = h.mutator.SoftUpdateEdge(ctx, mutation.SoftUpdateEdgeParams{
			Current:       current,
			NewFact:       req.Fact,
			FactEmbedding: factEmbedding,
			UpdateReason:  req.UpdateReason,
			EpisodeID:     synthesis.ID,
			SourceID:      req.SourceEntityID,
			TargetID:      req.TargetEntityID,
		})
		return err
	})
	if err != nil {
		return asEchoError(err)
	}

	return c.JSON(http.StatusOK, edgeUpdateResponse{OldID: current.ID, NewID: replacement.ID})
}

// DeleteEpisode cascades the deletion of an episode through the graph.
func (h *Handler) DeleteEpisode(c echo.Context) error {
	episodeID, err := uuid.Parse(c.Param("episode_id"))
	if err != nil {
		return apperror.ErrValidation.WithMessage("invalid episode_id").ToEchoError()
	}

	ctx := c.Request().Context()

	episode, err := h.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return asEchoError(err)
	}
	if episode == nil {
		return apperror.ErrNotFound.WithMessage("episode not found").ToEchoError()
	}

	// §4.8: serialized behind the group queue, same as UpdateEdge above.
	err = h.queue.WithGroupLock(ctx, episode.GroupID, func(ctx context.Context) error {
		return h.mutator.DeleteEpisode(ctx, episodeID)
	})
	if err != nil {
		return asEchoError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// Health reports liveness only: process uptime and build version. It never
// probes the graph store or the LLM provider, so it stays cheap enough to
// hit on every orchestrator/k8s liveness tick.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Uptime:  time.Since(h.startAt).String(),
		Version: version.Version,
	})
}

func asEchoError(err error) error {
	if appErr, ok := err.(*apperror.Error); ok {
		return appErr.ToEchoError()
	}
	return apperror.ErrInternal.WithInternal(err).ToEchoError()
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
