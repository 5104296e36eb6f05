package pgmvt

import (
	"testing"

	"github.com/GrainArc/FenceMap/services"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounds(t *testing.T) {
	sq := orb.Polygon{{{10, 10}, {11, 10}, {11, 11}, {10, 11}, {10, 10}}}

	tiles, ok := Bounds(sq, 2, 100)
	require.True(t, ok)
	assert.Equal(t, []services.TileKey{
		{Z: 0, X: 0, Y: 0},
		{Z: 1, X: 1, Y: 0},
		{Z: 2, X: 2, Y: 1},
	}, tiles)

	// 跨越本初子午线的范围在1级覆盖两列
	wide := orb.Polygon{{{-1, 10}, {1, 10}, {1, 11}, {-1, 11}, {-1, 10}}}
	tiles, ok = Bounds(wide, 1, 100)
	require.True(t, ok)
	assert.Len(t, tiles, 3)

	_, ok = Bounds(wide, 1, 2)
	assert.False(t, ok)
}
