package graphstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorSearchEdges_ZeroVectorFallsBackToLexical(t *testing.T) {
	// A degenerate query embedding must short-circuit before any database
	// round trip, so a Store with no handle at all is safe here.
	s := New(nil)

	got, err := s.VectorSearchEdges(context.Background(), "g1", make([]float32, 768), 10, false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVectorSearchEntities_ZeroVectorFallsBackToLexical(t *testing.T) {
	s := New(nil)

	got, err := s.VectorSearchEntities(context.Background(), "g1", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFindEntityCandidates_EmptyVectorReturnsNone(t *testing.T) {
	s := New(nil)

	got, err := s.FindEntityCandidates(context.Background(), "g1", "Person", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
