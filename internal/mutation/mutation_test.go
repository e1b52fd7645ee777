package mutation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/memgraph/internal/graphmodel"
)

func TestAppendUnique(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	assert.Len(t, appendUnique([]uuid.UUID{a}, a), 1, "no duplicate insert")
	assert.Len(t, appendUnique([]uuid.UUID{a}, b), 2, "new id appended")
}

func TestSoftUpdateEdge_RequiresCurrent(t *testing.T) {
	svc := New(nil)
	_, err := svc.SoftUpdateEdge(nil, SoftUpdateEdgeParams{Current: nil}) //nolint:staticcheck // nil ctx ok: validated before any ctx use
	require.Error(t, err)
}

func TestOriginalFactPreservedOnce(t *testing.T) {
	// Mirrors the COALESCE behavior: once OriginalFact is set, a later
	// soft update must not overwrite it. This is exercised at the
	// struct-construction level since the full path requires a live store.
	current := &graphmodel.RelationEdge{Fact: "works at Acme", OriginalFact: strPtr("founded Acme")}
	originalFact := current.Fact
	if current.OriginalFact != nil {
		originalFact = *current.OriginalFact
	}
	assert.Equal(t, "founded Acme", originalFact)
}

func strPtr(s string) *string { return &s }
