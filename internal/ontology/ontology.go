// Package ontology holds the declared set of entity and edge labels the
// extraction pipeline is allowed to emit, loaded once from a YAML file at
// startup and extensible at runtime for labels discovered during ingestion.
package ontology

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// LabelSchema describes one entity or edge label and the attribute keys
// the LLM should look to populate for it.
type LabelSchema struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Attributes  []string `yaml:"attributes"`
}

// fileSchema is the on-disk YAML shape.
type fileSchema struct {
	EntityLabels []LabelSchema `yaml:"entity_labels"`
	EdgeLabels   []LabelSchema `yaml:"edge_labels"`
}

// Registry holds the current entity/edge label set. It is safe for
// concurrent use: Register is called by the orchestrator whenever the LLM
// proposes a label outside the static set, so lookups and registration can
// race across in-flight episodes.
type Registry struct {
	mu           sync.RWMutex
	entityLabels map[string]LabelSchema
	edgeLabels   map[string]LabelSchema
}

// Load reads the ontology declaration from path and builds a Registry.
// A missing file is not an error: the registry starts empty and grows
// entirely from runtime-discovered labels.
func Load(path string) (*Registry, error) {
	r := &Registry{
		entityLabels: map[string]LabelSchema{},
		edgeLabels:   map[string]LabelSchema{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read ontology file: %w", err)
	}

	var fs fileSchema
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("parse ontology file: %w", err)
	}

	for _, l := range fs.EntityLabels {
		r.entityLabels[l.Name] = l
	}
	for _, l := range fs.EdgeLabels {
		r.edgeLabels[l.Name] = l
	}

	return r, nil
}

// EntityLabels returns the current snapshot of entity label names.
func (r *Registry) EntityLabels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entityLabels))
	for name := range r.entityLabels {
		names = append(names, name)
	}
	return names
}

// EdgeLabels returns the current snapshot of edge label names.
func (r *Registry) EdgeLabels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.edgeLabels))
	for name := range r.edgeLabels {
		names = append(names, name)
	}
	return names
}

// HasEntityLabel reports whether name is already declared.
func (r *Registry) HasEntityLabel(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entityLabels[name]
	return ok
}

// HasEdgeLabel reports whether name is already declared.
func (r *Registry) HasEdgeLabel(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.edgeLabels[name]
	return ok
}

// RegisterEntityLabel adds a label discovered at extraction time. A
// repeat registration of an existing name is a no-op.
func (r *Registry) RegisterEntityLabel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entityLabels[name]; ok {
		return
	}
	r.entityLabels[name] = LabelSchema{Name: name}
}

// RegisterEdgeLabel adds a label discovered at extraction time.
func (r *Registry) RegisterEdgeLabel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.edgeLabels[name]; ok {
		return
	}
	r.edgeLabels[name] = LabelSchema{Name: name}
}

// PruneEntityAttributes validates an extracted attribute bag against the
// label's declared schema, dropping keys the label doesn't declare. A label
// with no declared attribute keys (including every runtime-registered
// label) accepts any bag unchanged, since there is no schema to check
// against.
func (r *Registry) PruneEntityAttributes(label string, attrs map[string]any) map[string]any {
	r.mu.RLock()
	schema, ok := r.entityLabels[label]
	r.mu.RUnlock()

	if !ok || len(schema.Attributes) == 0 || len(attrs) == 0 {
		return attrs
	}

	declared := make(map[string]bool, len(schema.Attributes))
	for _, key := range schema.Attributes {
		declared[key] = true
	}

	pruned := make(map[string]any, len(attrs))
	for key, value := range attrs {
		if declared[key] {
			pruned[key] = value
		}
	}
	return pruned
}
