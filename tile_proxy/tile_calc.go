package tile_proxy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// TileKey 瓦片坐标，字符串形式为 "x-y-z"
type TileKey struct {
	X int
	Y int
	Z int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d-%d-%d", k.X, k.Y, k.Z)
}

// Tile 转orb的maptile
func (k TileKey) Tile() maptile.Tile {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(k.Z))
}

// ParseTileKey 解析 "x-y-z"
func ParseTileKey(s string) (TileKey, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return TileKey{}, fmt.Errorf("invalid tile key %q", s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return TileKey{}, fmt.Errorf("invalid tile key %q", s)
		}
		vals[i] = v
	}
	return TileKey{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// LonLatToTileKey 经纬度转瓦片坐标
func LonLatToTileKey(lon, lat float64, z int) TileKey {
	n := math.Pow(2, float64(z))

	x := int(math.Floor((lon + 180.0) / 360.0 * n))

	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	// 边界处理
	maxTile := int(n) - 1
	if x < 0 {
		x = 0
	} else if x > maxTile {
		x = maxTile
	}
	if y < 0 {
		y = 0
	} else if y > maxTile {
		y = maxTile
	}

	return TileKey{Z: z, X: x, Y: y}
}

// TileKeysForBound 指定层级下覆盖范围的全部瓦片
func TileKeysForBound(b orb.Bound, z int) []TileKey {
	topLeft := LonLatToTileKey(b.Min[0], b.Max[1], z)
	bottomRight := LonLatToTileKey(b.Max[0], b.Min[1], z)
	keys := make([]TileKey, 0, (bottomRight.X-topLeft.X+1)*(bottomRight.Y-topLeft.Y+1))
	for x := topLeft.X; x <= bottomRight.X; x++ {
		for y := topLeft.Y; y <= bottomRight.Y; y++ {
			keys = append(keys, TileKey{X: x, Y: y, Z: z})
		}
	}
	return keys
}
