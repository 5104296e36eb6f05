package tile_proxy

import (
	"github.com/GrainArc/FenceMap/methods"
	"github.com/paulmach/orb/geojson"
)

// DefaultMaxFeatures 缓存要素总数上限
const DefaultMaxFeatures = 10000

// TileCache 解码后的瓦片要素缓存
//
// 维护要素id到瓦片key集合的反向索引，图形写入成功后按id精确失效。
// 一个地图会话内单线程使用，不加锁。
type TileCache struct {
	items        map[string][]*geojson.Feature
	index        map[string]map[string]struct{}
	featureCount int
	maxFeatures  int
}

// NewTileCache 创建瓦片缓存，maxFeatures<=0时使用默认上限
func NewTileCache(maxFeatures int) *TileCache {
	if maxFeatures <= 0 {
		maxFeatures = DefaultMaxFeatures
	}
	return &TileCache{
		items:       make(map[string][]*geojson.Feature),
		index:       make(map[string]map[string]struct{}),
		maxFeatures: maxFeatures,
	}
}

// Get 获取缓存
func (c *TileCache) Get(key string) ([]*geojson.Feature, bool) {
	features, ok := c.items[key]
	if ok {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
	}
	return features, ok
}

// Has 是否已缓存
func (c *TileCache) Has(key string) bool {
	_, ok := c.items[key]
	return ok
}

// Set 写入缓存
//
// 计数超过上限时整体清空后再写入，不做LRU。
// TODO: 换成按瓦片数量限额的LRU，避免平移时整表失效。
func (c *TileCache) Set(key string, features []*geojson.Feature) {
	if old, ok := c.items[key]; ok {
		c.drop(key, old)
	}

	if c.featureCount+len(features) > c.maxFeatures {
		c.Clear()
		cacheEvictions.Inc()
	}

	c.items[key] = features
	for _, f := range features {
		id := methods.FeatureID(f)
		if id == "" {
			continue
		}
		tiles, ok := c.index[id]
		if !ok {
			tiles = make(map[string]struct{})
			c.index[id] = tiles
		}
		tiles[key] = struct{}{}
	}
	c.featureCount += len(features)
}

// ClearForFeatures 删除包含这些要素的全部瓦片，返回删除的要素数
func (c *TileCache) ClearForFeatures(ids []string) int {
	removed := 0
	for _, id := range ids {
		tiles, ok := c.index[id]
		if !ok {
			continue
		}
		for key := range tiles {
			if features, ok := c.items[key]; ok {
				removed += c.drop(key, features)
				cacheInvalidatedTiles.Inc()
			}
		}
		delete(c.index, id)
	}
	return removed
}

// ClearTileByKeys 直接删除指定瓦片，返回删除的瓦片数
func (c *TileCache) ClearTileByKeys(keys []string) int {
	removed := 0
	for _, key := range keys {
		features, ok := c.items[key]
		if !ok {
			continue
		}
		c.drop(key, features)
		cacheInvalidatedTiles.Inc()
		removed++
	}
	return removed
}

// Clear 清空缓存与反向索引
func (c *TileCache) Clear() {
	c.items = make(map[string][]*geojson.Feature)
	c.index = make(map[string]map[string]struct{})
	c.featureCount = 0
}

// Len 缓存瓦片数
func (c *TileCache) Len() int {
	return len(c.items)
}

// FeatureCount 当前计数
func (c *TileCache) FeatureCount() int {
	return c.featureCount
}

// Keys 当前缓存的瓦片key
func (c *TileCache) Keys() []string {
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

// TilesFor 反向索引中某要素所在瓦片
func (c *TileCache) TilesFor(id string) []string {
	tiles := c.index[id]
	out := make([]string, 0, len(tiles))
	for k := range tiles {
		out = append(out, k)
	}
	return out
}

// drop 删除一个瓦片并摘掉所有要素对它的反向引用
func (c *TileCache) drop(key string, features []*geojson.Feature) int {
	delete(c.items, key)
	for _, f := range features {
		id := methods.FeatureID(f)
		if tiles, ok := c.index[id]; ok {
			delete(tiles, key)
			if len(tiles) == 0 {
				delete(c.index, id)
			}
		}
	}
	c.featureCount -= len(features)
	if c.featureCount < 0 {
		c.featureCount = 0
	}
	return len(features)
}
