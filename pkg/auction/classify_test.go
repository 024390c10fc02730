package auction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adweave/aip-coordinator/pkg/platform"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		cr   *platform.ContextRequest
		want []string
	}{
		{
			name: "category_pools wins",
			cr: &platform.ContextRequest{
				CategoryPools: []any{"travel", "gaming"},
				Categories:    []any{"ignored"},
			},
			want: []string{"travel", "gaming"},
		},
		{
			name: "categories fallback",
			cr:   &platform.ContextRequest{Categories: []any{"electronics"}},
			want: []string{"electronics"},
		},
		{
			name: "top-level pools",
			cr:   &platform.ContextRequest{Pools: []any{"finance"}},
			want: []string{"finance"},
		},
		{
			name: "scalar becomes singleton",
			cr:   &platform.ContextRequest{Categories: "electronics"},
			want: []string{"electronics"},
		},
		{
			name: "nested under context",
			cr: &platform.ContextRequest{
				Context: map[string]any{"categories": []any{"travel"}},
			},
			want: []string{"travel"},
		},
		{
			name: "features topic",
			cr: &platform.ContextRequest{
				Features: map[string]any{"topic": "sports"},
			},
			want: []string{"sports"},
		},
		{
			name: "duplicates collapse preserving order",
			cr: &platform.ContextRequest{
				CategoryPools: []any{"travel", "gaming", "travel"},
			},
			want: []string{"travel", "gaming"},
		},
		{
			name: "empty yields default",
			cr:   &platform.ContextRequest{},
			want: []string{"default"},
		},
		{
			name: "non-string entries are skipped",
			cr:   &platform.ContextRequest{Categories: []any{1, "travel", nil}},
			want: []string{"travel"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.cr))
		})
	}
}
