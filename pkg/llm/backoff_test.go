package llm

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	cap := 120 * time.Second

	tests := []struct {
		name    string
		attempt int
		minWant time.Duration
		maxWant time.Duration
	}{
		{"first attempt", 1, 1800 * time.Millisecond, 2200 * time.Millisecond},
		{"second attempt doubles", 2, 3600 * time.Millisecond, 4400 * time.Millisecond},
		{"zero clamps to first", 0, 1800 * time.Millisecond, 2200 * time.Millisecond},
		{"large attempt clamps to cap", 20, 108 * time.Second, 132 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Backoff(tt.attempt, base, cap)
			if got < tt.minWant || got > tt.maxWant {
				t.Errorf("Backoff(%d) = %v, want between %v and %v", tt.attempt, got, tt.minWant, tt.maxWant)
			}
		})
	}
}
