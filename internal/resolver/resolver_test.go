package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/graphstore"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims and lowercases", "  Acme  Corp  ", "acme corp"},
		{"collapses internal whitespace", "Acme\tCorp\nInc", "acme corp inc"},
		{"already normalized", "acme corp", "acme corp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestEdgeDecision_IsNew(t *testing.T) {
	assert.True(t, (EdgeDecision{}).IsNew(), "empty decision should be new")
	assert.False(t, EdgeDecision{Duplicate: &graphmodel.RelationEdge{}}.IsNew())
}

func TestSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, Similarity(a, b), 0.01, "identical vectors")

	c := []float32{0, 1, 0}
	assert.InDelta(t, 0.0, Similarity(a, c), 0.01, "orthogonal vectors")
}

func TestBestMatch_ExactNormalizedNameWinsOverSimilarity(t *testing.T) {
	exact := &graphmodel.Entity{Name: "Acme Corp", CreatedAt: time.Now()}
	closer := &graphmodel.Entity{Name: "Acme Corporation", CreatedAt: time.Now()}

	got := bestMatch([]graphstore.EntityCandidate{
		{Entity: closer, Similarity: 0.99},
		{Entity: exact, Similarity: 0.90},
	}, "acme corp")

	assert.Same(t, exact, got)
}

func TestBestMatch_SimilarityTiesBreakByEarliestCreated(t *testing.T) {
	older := &graphmodel.Entity{Name: "A", CreatedAt: time.Now().Add(-time.Hour)}
	newer := &graphmodel.Entity{Name: "B", CreatedAt: time.Now()}

	got := bestMatch([]graphstore.EntityCandidate{
		{Entity: newer, Similarity: 0.9},
		{Entity: older, Similarity: 0.9},
	}, "no exact match")

	assert.Same(t, older, got)
}

func TestMergeAttributes(t *testing.T) {
	tests := []struct {
		name     string
		existing map[string]any
		incoming map[string]any
		want     map[string]any
	}{
		{
			"new keys are added",
			map[string]any{"role": "engineer"},
			map[string]any{"team": "infra"},
			map[string]any{"role": "engineer", "team": "infra"},
		},
		{
			"existing keys win by default",
			map[string]any{"role": "engineer"},
			map[string]any{"role": "manager"},
			map[string]any{"role": "engineer"},
		},
		{
			"longer superstring value replaces existing",
			map[string]any{"role": "engineer"},
			map[string]any{"role": "senior engineer"},
			map[string]any{"role": "senior engineer"},
		},
		{
			"longer non-superstring value does not replace",
			map[string]any{"role": "engineer"},
			map[string]any{"role": "staff designer"},
			map[string]any{"role": "engineer"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeAttributes(tt.existing, tt.incoming)
			require.Equal(t, tt.want, got)
		})
	}
}
