package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkFixed(t *testing.T) {
	tests := []struct {
		name      string
		items     []int
		size      int
		wantSizes []int
	}{
		{"even split", []int{1, 2, 3, 4, 5, 6}, 3, []int{3, 3}},
		{"short tail", []int{1, 2, 3, 4, 5}, 3, []int{3, 2}},
		{"single chunk", []int{1, 2}, 10, []int{2}},
		{"size one", []int{1, 2, 3}, 1, []int{1, 1, 1}},
		{"empty input", nil, 3, nil},
		{"non-positive size means one chunk", []int{1, 2, 3}, 0, []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := ChunkFixed(tt.items, tt.size)
			require.Len(t, chunks, len(tt.wantSizes))
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Len(t, c.Items, tt.wantSizes[i])
			}
		})
	}
}

func TestChunkFixed_PreservesOrder(t *testing.T) {
	chunks := ChunkFixed([]string{"a", "b", "c", "d", "e"}, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0].Items)
	assert.Equal(t, []string{"c", "d"}, chunks[1].Items)
	assert.Equal(t, []string{"e"}, chunks[2].Items)
}
