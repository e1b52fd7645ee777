package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/memgraph/internal/graphmodel"
	"github.com/emergent-company/memgraph/internal/resolver"
)

func TestEdgeDecision_ContradictionIsNotNew(t *testing.T) {
	edge := &graphmodel.RelationEdge{}
	decision := resolver.EdgeDecision{Contradicts: edge}
	assert.False(t, decision.IsNew(), "a contradiction decision must not report IsNew")
	assert.Same(t, edge, decision.Contradicts)
}

func TestParseFactTime(t *testing.T) {
	tests := []struct {
		name   string
		in     *string
		wantOK bool
	}{
		{"nil", nil, false},
		{"empty", strPtr(""), false},
		{"not a timestamp", strPtr("early 2024"), false},
		{"valid RFC3339", strPtr("2024-03-01T00:00:00Z"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseFactTime(tt.in)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got.UTC())
			}
		})
	}
}

func strPtr(s string) *string { return &s }
