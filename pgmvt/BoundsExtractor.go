package pgmvt

import (
	"github.com/GrainArc/FenceMap/services"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Bounds 几何外包框在 0..maxZoom 各层覆盖的瓦片；超过limit时返回false
func Bounds(geo orb.Geometry, maxZoom, limit int) ([]services.TileKey, bool) {
	b := geo.Bound()
	var tiles []services.TileKey
	for z := 0; z <= maxZoom; z++ {
		zoom := maptile.Zoom(z)
		topLeft := maptile.At(orb.Point{b.Min[0], b.Max[1]}, zoom)
		bottomRight := maptile.At(orb.Point{b.Max[0], b.Min[1]}, zoom)
		count := int(bottomRight.X-topLeft.X+1) * int(bottomRight.Y-topLeft.Y+1)
		if len(tiles)+count > limit {
			return nil, false
		}
		for x := topLeft.X; x <= bottomRight.X; x++ {
			for y := topLeft.Y; y <= bottomRight.Y; y++ {
				tiles = append(tiles, services.TileKey{Z: z, X: int(x), Y: int(y)})
			}
		}
	}
	return tiles, true
}
