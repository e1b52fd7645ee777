// Package citation resolves episode provenance for search results: for an
// edge, the ordered episodes that asserted or updated it; for a node, the
// deduplicated episodes that mention it, each tagged with how it was
// involved. Grounded on the original Python implementation's
// citation_service.py (chronological ordering, source_url extraction,
// bounded traversal depth).
package citation

import (
	"context"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/graphstore"
)

// defaultMaxDepth bounds citation-chain traversal on a dense node, an
// operational safeguard the Python original applied that the distilled
// spec didn't call out explicitly.
const defaultMaxDepth = 10

// Citation is one episode's provenance record for a search result.
type Citation struct {
	EpisodeID          uuid.UUID  `json:"episode_id"`
	Name               string     `json:"name"`
	BodyKind           string     `json:"body_kind"`
	SourceDescription  string     `json:"source_description"`
	IngestedAt         string     `json:"ingested_at"`
	SourceURL          *string    `json:"source_url,omitempty"`
	Operation          string     `json:"operation,omitempty"`
}

// Service resolves citation chains from the graph store.
type Service struct {
	store    *graphstore.Store
	maxDepth int
}

// New builds a citation Service with the default max traversal depth.
func New(store *graphstore.Store) *Service {
	return &Service{store: store, maxDepth: defaultMaxDepth}
}

// ForEdge returns the chronologically ordered citation chain for an edge:
// every episode in its EpisodeIDs, each expanded to the full citation
// shape. Edges carry no "operation" tag (only nodes do, per §4.7).
func (s *Service) ForEdge(ctx context.Context, edgeID uuid.UUID) ([]Citation, error) {
	edge, err := s.store.GetEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}

	mentions, err := s.store.MentionsForEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}

	episodeIDs := edge.EpisodeIDs
	if len(episodeIDs) == 0 {
		episodeIDs = make([]uuid.UUID, 0, len(mentions))
		for _, m := range mentions {
			episodeIDs = append(episodeIDs, m.EpisodeID)
		}
	}

	return s.expand(ctx, episodeIDs, nil)
}

// ForNode returns the deduplicated, chronologically ordered citation chain
// for an entity, each mention tagged created/updated/referenced.
func (s *Service) ForNode(ctx context.Context, entityID uuid.UUID) ([]Citation, error) {
	mentions, err := s.store.MentionsForEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if len(mentions) > s.maxDepth {
		mentions = mentions[:s.maxDepth]
	}

	operationByEpisode := make(map[uuid.UUID]graphmodel.MentionKind, len(mentions))
	order := make([]uuid.UUID, 0, len(mentions))
	for _, m := range mentions {
		if _, seen := operationByEpisode[m.EpisodeID]; !seen {
			order = append(order, m.EpisodeID)
		}
		operationByEpisode[m.EpisodeID] = m.Kind
	}

	ops := make(map[uuid.UUID]string, len(operationByEpisode))
	for id, kind := range operationByEpisode {
		ops[id] = string(kind)
	}

	return s.expand(ctx, order, ops)
}

func (s *Service) expand(ctx context.Context, episodeIDs []uuid.UUID, operations map[uuid.UUID]string) ([]Citation, error) {
	citations := make([]Citation, 0, len(episodeIDs))
	for _, id := range episodeIDs {
		ep, err := s.store.GetEpisode(ctx, id)
		if err != nil {
			continue // an episode may have been deleted out from under the edge/mention; skip, don't fail the whole chain
		}

		c := Citation{
			EpisodeID:         ep.ID,
			Name:              ep.Name,
			BodyKind:          bodyKind(ep),
			SourceDescription: ep.Source,
			IngestedAt:        ep.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			SourceURL:         extractSourceURL(ep.Source),
		}
		if operations != nil {
			c.Operation = operations[ep.ID]
		}
		citations = append(citations, c)
	}

	sort.SliceStable(citations, func(i, j int) bool {
		return citations[i].IngestedAt < citations[j].IngestedAt
	})

	return citations, nil
}

func bodyKind(ep *graphmodel.Episode) string {
	if kind, ok := ep.Metadata["body_kind"].(string); ok && kind != "" {
		return kind
	}
	return "text"
}

var sourceURLPattern = regexp.MustCompile(`source_url:\s*(https?://[^\s,]+)`)

// extractSourceURL pulls the first source_url:<url> occurrence out of a
// free-form source description, per §4.7's exact pattern.
func extractSourceURL(sourceDescription string) *string {
	match := sourceURLPattern.FindStringSubmatch(sourceDescription)
	if match == nil {
		return nil
	}
	return &match[1]
}
