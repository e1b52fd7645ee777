package llm

import "testing"

func TestEntityExtractionSchema_NoKnownLabels(t *testing.T) {
	s := EntityExtractionSchema(nil)
	entities := s.Properties["entities"]
	if entities == nil {
		t.Fatal("expected entities property")
	}
	label := entities.Items.Properties["label"]
	if len(label.Enum) != 0 {
		t.Errorf("expected no enum constraint when no labels known, got %v", label.Enum)
	}
}

func TestEntityExtractionSchema_WithKnownLabels(t *testing.T) {
	s := EntityExtractionSchema([]string{"Person", "Organization"})
	label := s.Properties["entities"].Items.Properties["label"]
	if len(label.Enum) != 2 {
		t.Errorf("expected 2 enum values, got %v", label.Enum)
	}
}

func TestFactExtractionSchema_RequiredFields(t *testing.T) {
	s := FactExtractionSchema([]string{"WORKS_FOR"})
	required := s.Properties["facts"].Items.Required
	want := map[string]bool{"source_name": true, "target_name": true, "name": true, "fact": true}
	if len(required) != len(want) {
		t.Fatalf("expected %d required fields, got %d", len(want), len(required))
	}
	for _, r := range required {
		if !want[r] {
			t.Errorf("unexpected required field %q", r)
		}
	}
}

func TestFactExtractionSchema_OptionalTemporalFields(t *testing.T) {
	s := FactExtractionSchema(nil)
	props := s.Properties["facts"].Items.Properties
	for _, name := range []string{"negates", "valid_at", "invalid_at"} {
		if props[name] == nil {
			t.Errorf("expected optional property %q on fact extraction schema", name)
		}
	}
}
