package tile_proxy

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feature(id string) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{0, 0})
	f.Properties["id"] = id
	return f
}

// assertIndexConsistent 反向索引中的每个瓦片都必须在缓存里
func assertIndexConsistent(t *testing.T, c *TileCache) {
	t.Helper()
	for id, tiles := range c.index {
		assert.NotEmpty(t, tiles, "empty reverse entry for %s", id)
		for key := range tiles {
			_, ok := c.items[key]
			assert.True(t, ok, "reverse index for %s references evicted tile %s", id, key)
		}
	}
	total := 0
	for _, features := range c.items {
		total += len(features)
	}
	assert.Equal(t, total, c.FeatureCount())
}

func TestTileCache_SetGet(t *testing.T) {
	c := NewTileCache(0)
	assert.False(t, c.Has("0-0-0"))

	c.Set("0-0-0", []*geojson.Feature{feature("a"), feature("b")})

	got, ok := c.Get("0-0-0")
	require.True(t, ok)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, c.FeatureCount())
	assert.ElementsMatch(t, []string{"0-0-0"}, c.TilesFor("a"))
}

func TestTileCache_ClearForFeaturesInvalidatesTile(t *testing.T) {
	c := NewTileCache(0)
	c.Set("3-2-4", []*geojson.Feature{feature("f")})

	removed := c.ClearForFeatures([]string{"f"})

	assert.Equal(t, 1, removed)
	assert.False(t, c.Has("3-2-4"))
	assert.Empty(t, c.TilesFor("f"))
	assert.Equal(t, 0, c.FeatureCount())
}

func TestTileCache_ClearForFeaturesDropsSharedTiles(t *testing.T) {
	c := NewTileCache(0)
	c.Set("0-0-1", []*geojson.Feature{feature("a"), feature("b")})
	c.Set("1-0-1", []*geojson.Feature{feature("a")})
	c.Set("0-1-1", []*geojson.Feature{feature("b"), feature("c")})

	removed := c.ClearForFeatures([]string{"a"})

	assert.Equal(t, 3, removed)
	assert.False(t, c.Has("0-0-1"))
	assert.False(t, c.Has("1-0-1"))
	assert.True(t, c.Has("0-1-1"))
	// b still lives in 0-1-1 only
	assert.ElementsMatch(t, []string{"0-1-1"}, c.TilesFor("b"))
	assertIndexConsistent(t, c)
}

func TestTileCache_ClearForUnknownFeature(t *testing.T) {
	c := NewTileCache(0)
	c.Set("0-0-0", []*geojson.Feature{feature("a")})

	assert.Equal(t, 0, c.ClearForFeatures([]string{"missing"}))
	assert.True(t, c.Has("0-0-0"))
}

func TestTileCache_EvictionCeiling(t *testing.T) {
	c := NewTileCache(2)
	c.Set("0-0-0", []*geojson.Feature{feature("f1")})
	assert.Equal(t, 1, c.FeatureCount())

	c.Set("0-0-1", []*geojson.Feature{feature("f2"), feature("f3")})

	assert.False(t, c.Has("0-0-0"))
	assert.True(t, c.Has("0-0-1"))
	assert.Equal(t, 2, c.FeatureCount())
	assert.Empty(t, c.TilesFor("f1"))
	assertIndexConsistent(t, c)
}

func TestTileCache_ClearTileByKeys(t *testing.T) {
	c := NewTileCache(0)
	c.Set("0-0-1", []*geojson.Feature{feature("a")})
	c.Set("1-0-1", []*geojson.Feature{feature("a")})

	removed := c.ClearTileByKeys([]string{"0-0-1", "9-9-9"})

	assert.Equal(t, 1, removed)
	assert.False(t, c.Has("0-0-1"))
	assert.ElementsMatch(t, []string{"1-0-1"}, c.TilesFor("a"))
	assertIndexConsistent(t, c)
}

func TestTileCache_SetReplacesExistingTile(t *testing.T) {
	c := NewTileCache(0)
	c.Set("0-0-0", []*geojson.Feature{feature("a")})
	c.Set("0-0-0", []*geojson.Feature{feature("b")})

	assert.Empty(t, c.TilesFor("a"))
	assert.Equal(t, 1, c.FeatureCount())
	assertIndexConsistent(t, c)
}

func TestTileCache_RandomOperationsKeepIndexConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := NewTileCache(25)
	ids := []string{"a", "b", "c", "d", "e", "f"}

	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("%d-%d-3", rng.Intn(4), rng.Intn(4))
		switch rng.Intn(3) {
		case 0:
			n := rng.Intn(5)
			features := make([]*geojson.Feature, 0, n)
			for j := 0; j < n; j++ {
				features = append(features, feature(ids[rng.Intn(len(ids))]))
			}
			c.Set(key, features)
		case 1:
			c.ClearForFeatures([]string{ids[rng.Intn(len(ids))]})
		case 2:
			c.ClearTileByKeys([]string{key})
		}
		assertIndexConsistent(t, c)
	}
}
