package search

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/memgraph/internal/graphstore"
)

func TestFuseEdges_RanksAppearingInBothListsHigher(t *testing.T) {
	shared := uuid.New()
	vectorOnly := uuid.New()
	lexicalOnly := uuid.New()

	vectorList := []graphstore.RankedEdge{
		{ID: shared, Score: 0.9},
		{ID: vectorOnly, Score: 0.8},
	}
	lexicalList := []graphstore.RankedEdge{
		{ID: shared, Score: 0.7},
		{ID: lexicalOnly, Score: 0.6},
	}

	fused := fuseEdges(vectorList, lexicalList)

	require.NotEmpty(t, fused)
	assert.Equal(t, shared, fused[0].edge.ID, "the edge present in both lists should rank first")
}

func TestFuseEdges_TiesBreakByMostRecentlyCreated(t *testing.T) {
	// Each edge appears only once, at rank 0 of its own list, so both get
	// the same RRF contribution and the same (zero) vector-score tie-break
	// -- isolating CreatedAt as the only remaining tie-break.
	older := graphstore.RankedEdge{ID: uuid.New(), CreatedAt: time.Now().Add(-time.Hour)}
	newer := graphstore.RankedEdge{ID: uuid.New(), CreatedAt: time.Now()}

	fused := fuseEdges([]graphstore.RankedEdge{older}, []graphstore.RankedEdge{newer})

	require.Len(t, fused, 2)
	assert.Equal(t, newer.ID, fused[0].edge.ID, "the more recently created edge should win the tie")
}

func TestFuseEntities_RanksAppearingInBothListsHigher(t *testing.T) {
	shared := uuid.New()
	vectorOnly := uuid.New()
	lexicalOnly := uuid.New()

	vectorList := []graphstore.RankedEntity{
		{ID: shared, Score: 0.9},
		{ID: vectorOnly, Score: 0.8},
	}
	lexicalList := []graphstore.RankedEntity{
		{ID: shared, Score: 0.7},
		{ID: lexicalOnly, Score: 0.6},
	}

	fused := fuseEntities(vectorList, lexicalList)

	require.NotEmpty(t, fused)
	assert.Equal(t, shared, fused[0].entity.ID, "the entity present in both lists should rank first")
}

func TestFuseEntities_TiesBreakByMostRecentlyCreated(t *testing.T) {
	older := graphstore.RankedEntity{ID: uuid.New(), CreatedAt: time.Now().Add(-time.Hour)}
	newer := graphstore.RankedEntity{ID: uuid.New(), CreatedAt: time.Now()}

	fused := fuseEntities([]graphstore.RankedEntity{older}, []graphstore.RankedEntity{newer})

	require.Len(t, fused, 2)
	assert.Equal(t, newer.ID, fused[0].entity.ID, "the more recently created entity should win the tie")
}

func TestApplyProximity_DropsUnreachableCandidates(t *testing.T) {
	reachable := graphstore.RankedEdge{ID: uuid.New(), SourceID: uuid.New(), Score: 1.0}
	unreachable := graphstore.RankedEdge{ID: uuid.New(), SourceID: uuid.New(), Score: 1.0}

	neighbors := map[uuid.UUID]int{reachable.SourceID: 1}

	fused := []fusedEdge{
		{edge: reachable, score: 1.0},
		{edge: unreachable, score: 1.0},
	}

	out := applyProximity(fused, neighbors)

	require.Len(t, out, 1, "only the reachable edge should survive")
	assert.Equal(t, reachable.ID, out[0].edge.ID)
	assert.InDelta(t, 0.5, out[0].score, 1e-9, "score halves at 1 hop")
}

func TestApplyProximity_UsesNearerEndpoint(t *testing.T) {
	edge := graphstore.RankedEdge{ID: uuid.New(), SourceID: uuid.New(), TargetID: uuid.New()}
	neighbors := map[uuid.UUID]int{
		edge.SourceID: 3,
		edge.TargetID: 0, // the center node itself
	}

	out := applyProximity([]fusedEdge{{edge: edge, score: 1.0}}, neighbors)

	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].score, 1e-9, "an edge incident to the center keeps its full score")
}
