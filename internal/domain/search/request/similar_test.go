package request

import (
	"testing"

	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
)

func TestNewSimilar(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		limit     int
		wantLimit int
		wantErr   bool
	}{
		{"defaults", "doc-1", 0, DefaultSimilarLimit, false},
		{"explicit", "doc-1", 8, 8, false},
		{"clamped", "doc-1", 1000, MaxTopK, false},
		{"trimmed id", "  doc-1 ", 3, 3, false},
		{"missing id", "   ", 3, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewSimilar(tt.id, filter.None(), tt.limit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if r.ID() != "doc-1" {
				t.Errorf("ID() = %q", r.ID())
			}
			if r.Limit() != tt.wantLimit {
				t.Errorf("Limit() = %d, want %d", r.Limit(), tt.wantLimit)
			}
		})
	}
}
