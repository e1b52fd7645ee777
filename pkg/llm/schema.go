package llm

import "google.golang.org/genai"

// Schema is the response schema type accepted by GenerateJSON, forcing the
// model to answer with JSON matching this shape instead of free text.
type Schema = genai.Schema

// EntityExtraction describes one entity the model found in an episode.
type EntityExtraction struct {
	Name       string         `json:"name"`
	Label      string         `json:"label"`
	Summary    string         `json:"summary,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// EntityExtractionOutput is the top-level shape of an entity-extraction call.
type EntityExtractionOutput struct {
	Entities []EntityExtraction `json:"entities"`
}

// FactExtraction describes one fact (edge) the model found, referencing
// entities by the names returned from the entity-extraction pass.
type FactExtraction struct {
	SourceName string `json:"source_name"`
	TargetName string `json:"target_name"`
	Name       string `json:"name"`
	Fact       string `json:"fact"`
	// Negates marks this fact as explicitly ending/contradicting the current
	// relationship between source and target, even when the relation name
	// itself differs (e.g. "Alice left Acme" negating a WORKS_FOR edge).
	Negates bool `json:"negates,omitempty"`
	// ValidAt/InvalidAt are the model's best guess at when the relation
	// began/ceased to hold, as RFC3339 timestamps; both optional per §4.2.
	ValidAt   *string `json:"valid_at,omitempty"`
	InvalidAt *string `json:"invalid_at,omitempty"`
}

// FactExtractionOutput is the top-level shape of a fact-extraction call.
type FactExtractionOutput struct {
	Facts []FactExtraction `json:"facts"`
}

// EntityExtractionSchema returns the response schema for entity extraction,
// constraining label to the ontology's currently known entity labels when
// any are declared, and otherwise leaving it open for the ontology registry
// to pick up new labels at runtime.
func EntityExtractionSchema(knownLabels []string) *Schema {
	labelSchema := &genai.Schema{
		Type:        genai.TypeString,
		Description: "Entity label (e.g. Person, Organization, Location)",
	}
	if len(knownLabels) > 0 {
		labelSchema.Enum = knownLabels
	}

	return &genai.Schema{
		Type:        genai.TypeObject,
		Description: "Entities mentioned in the episode",
		Required:    []string{"entities"},
		Properties: map[string]*genai.Schema{
			"entities": {
				Type:        genai.TypeArray,
				Description: "Array of extracted entities, one per distinct thing mentioned",
				Items: &genai.Schema{
					Type:     genai.TypeObject,
					Required: []string{"name", "label"},
					Properties: map[string]*genai.Schema{
						"name":    {Type: genai.TypeString, Description: "Canonical human-readable name"},
						"label":   labelSchema,
						"summary": {Type: genai.TypeString, Description: "One-sentence summary of what is known about the entity"},
						"attributes": {
							Type:        genai.TypeObject,
							Description: "Label-specific attributes extracted from the text",
						},
					},
				},
			},
		},
	}
}

// FactExtractionSchema returns the response schema for fact/edge extraction.
func FactExtractionSchema(knownEdgeLabels []string) *Schema {
	nameSchema := &genai.Schema{
		Type:        genai.TypeString,
		Description: "Edge label (e.g. WORKS_FOR, LOCATED_IN)",
	}
	if len(knownEdgeLabels) > 0 {
		nameSchema.Enum = knownEdgeLabels
	}

	return &genai.Schema{
		Type:        genai.TypeObject,
		Description: "Facts (relationships) connecting entities mentioned in the episode",
		Required:    []string{"facts"},
		Properties: map[string]*genai.Schema{
			"facts": {
				Type:        genai.TypeArray,
				Description: "Array of extracted facts",
				Items: &genai.Schema{
					Type:     genai.TypeObject,
					Required: []string{"source_name", "target_name", "name", "fact"},
					Properties: map[string]*genai.Schema{
						"source_name": {Type: genai.TypeString, Description: "Name of the source entity, matching an entity from the prior pass"},
						"target_name": {Type: genai.TypeString, Description: "Name of the target entity, matching an entity from the prior pass"},
						"name":        nameSchema,
						"fact": {
							Type:        genai.TypeString,
							Description: "The natural-language statement of this fact, as it will be stored and embedded",
						},
						"negates": {
							Type:        genai.TypeBoolean,
							Description: "True if this fact ends or contradicts an existing relationship between source and target, even under a different relation name",
						},
						"valid_at": {
							Type:        genai.TypeString,
							Description: "RFC3339 timestamp of when this relation began to hold, if stated or implied",
						},
						"invalid_at": {
							Type:        genai.TypeString,
							Description: "RFC3339 timestamp of when this relation stopped holding, if stated or implied",
						},
					},
				},
			},
		},
	}
}
