package citation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSourceURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"embedded mid-description", "reported internally, source_url: https://example.com/a/b, filed under ops", "https://example.com/a/b"},
		{"absent", "no url mentioned here", ""},
		{"stops at comma", "source_url:https://example.com/x,ignored-tail", "https://example.com/x"},
		{"stops at whitespace", "source_url: http://example.com/y trailing words", "http://example.com/y"},
		{"first occurrence wins", "source_url: https://a.example, source_url: https://b.example", "https://a.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractSourceURL(tt.in)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}
