package ontology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFromYAML(t *testing.T, body string) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ontology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	return r
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, r.EntityLabels())
	assert.Empty(t, r.EdgeLabels())
}

func TestLoad_DeclaredLabels(t *testing.T) {
	r := loadFromYAML(t, `
entity_labels:
  - name: Person
    attributes: [role, team]
  - name: Organization
edge_labels:
  - name: WORKS_FOR
`)

	assert.ElementsMatch(t, []string{"Person", "Organization"}, r.EntityLabels())
	assert.True(t, r.HasEntityLabel("Person"))
	assert.True(t, r.HasEdgeLabel("WORKS_FOR"))
	assert.False(t, r.HasEdgeLabel("LEFT"))
}

func TestRegister_NovelLabelsGrowTheRegistry(t *testing.T) {
	r := loadFromYAML(t, "entity_labels:\n  - name: Person\n")

	require.False(t, r.HasEntityLabel("Service"))
	r.RegisterEntityLabel("Service")
	assert.True(t, r.HasEntityLabel("Service"))

	r.RegisterEdgeLabel("DEPENDS_ON")
	assert.True(t, r.HasEdgeLabel("DEPENDS_ON"))

	// Re-registering is a no-op, not an error.
	r.RegisterEntityLabel("Service")
	assert.True(t, r.HasEntityLabel("Service"))
}

func TestPruneEntityAttributes(t *testing.T) {
	r := loadFromYAML(t, `
entity_labels:
  - name: Person
    attributes: [role, team]
  - name: Organization
`)
	r.RegisterEntityLabel("Service")

	tests := []struct {
		name  string
		label string
		in    map[string]any
		want  map[string]any
	}{
		{
			"undeclared keys are dropped",
			"Person",
			map[string]any{"role": "engineer", "password": "hunter2"},
			map[string]any{"role": "engineer"},
		},
		{
			"declared keys survive",
			"Person",
			map[string]any{"role": "engineer", "team": "infra"},
			map[string]any{"role": "engineer", "team": "infra"},
		},
		{
			"label without attribute schema passes through",
			"Organization",
			map[string]any{"industry": "robotics"},
			map[string]any{"industry": "robotics"},
		},
		{
			"runtime-registered label passes through",
			"Service",
			map[string]any{"tier": "critical"},
			map[string]any{"tier": "critical"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.PruneEntityAttributes(tt.label, tt.in))
		})
	}
}
