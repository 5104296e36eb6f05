package pgmvt

import (
	"log/slog"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/services"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/samber/oops"
	"gorm.io/gorm"
)

// LayerName MVT图层名
const LayerName = "shapes"

// Generator 图形矢量瓦片生成与缓存失效
type Generator struct {
	db         *gorm.DB
	cache      *services.TileCacheService
	maxZoom    int
	clearLimit int
	extent     uint32
	log        *slog.Logger
}

// NewGenerator 创建瓦片生成器；extent<=0 时使用MVT默认范围
func NewGenerator(db *gorm.DB, cache *services.TileCacheService, maxZoom, clearLimit, extent int, log *slog.Logger) *Generator {
	if extent <= 0 {
		extent = mvt.DefaultExtent
	}
	return &Generator{db: db, cache: cache, maxZoom: maxZoom, clearLimit: clearLimit, extent: uint32(extent), log: log}
}

// MakeMvt 取瓦片，缓存未命中时从图形表生成并写回
func (g *Generator) MakeMvt(namespaceID uint, x, y, z int) ([]byte, error) {
	if z < 0 || z > g.maxZoom || x < 0 || y < 0 || x >= 1<<uint(z) || y >= 1<<uint(z) {
		return nil, methods.ValidationError().
			With("z", z).With("x", x).With("y", y).
			Errorf("tile %d/%d/%d out of range", z, x, y)
	}
	if data, ok, err := g.cache.GetCachedTile(namespaceID, z, x, y); err != nil {
		g.log.Warn("tile cache read failed", "z", z, "x", x, "y", y, "error", err)
	} else if ok {
		return data, nil
	}

	tile := maptile.New(uint32(x), uint32(y), maptile.Zoom(z))
	bound := tile.Bound()

	var recs []models.ShapeRecord
	err := g.db.
		Where("namespace_id = ? AND max_x >= ? AND min_x <= ? AND max_y >= ? AND min_y <= ?",
			namespaceID, bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1]).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		return nil, methods.StorageError().Wrapf(err, "query shapes for tile %d/%d/%d", z, x, y)
	}

	fc := geojson.NewFeatureCollection()
	for _, rec := range recs {
		geom, err := methods.WKBToGeometry(rec.Geom)
		if err != nil {
			g.log.Warn("skip undecodable shape", "uuid", rec.UUID, "error", err)
			continue
		}
		f := geojson.NewFeature(geom)
		f.Properties[methods.IDProperty] = rec.UUID
		f.Properties["name"] = rec.Name
		fc.Append(f)
	}

	var data []byte
	if len(fc.Features) > 0 {
		layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{LayerName: fc})
		for _, l := range layers {
			l.Extent = g.extent
		}
		layers.ProjectToTile(tile)
		layers.Clip(clipBound(g.extent))
		data, err = mvt.Marshal(layers)
		if err != nil {
			return nil, oops.Wrapf(err, "encode tile %d/%d/%d", z, x, y)
		}
	}

	if err := g.cache.SetCachedTile(namespaceID, z, x, y, data); err != nil {
		g.log.Warn("tile cache write failed", "z", z, "x", x, "y", y, "error", err)
	}
	return data, nil
}

// clipBound 瓦片坐标裁剪范围，四周各留一个瓦片宽度
func clipBound(extent uint32) orb.Bound {
	e := float64(extent)
	return orb.Bound{Min: orb.Point{-e, -e}, Max: orb.Point{2*e - 1, 2*e - 1}}
}

// DelMVT 删除几何范围内的缓存瓦片，范围过大时整组清空
func (g *Generator) DelMVT(namespaceID uint, geoms ...orb.Geometry) {
	var tiles []services.TileKey
	for _, geom := range geoms {
		if geom == nil {
			continue
		}
		t, ok := Bounds(geom, g.maxZoom, g.clearLimit-len(tiles))
		if !ok {
			g.DelMVTALL(namespaceID)
			return
		}
		tiles = append(tiles, t...)
	}
	if len(tiles) == 0 {
		return
	}
	if _, err := g.cache.DeleteTiles(namespaceID, tiles); err != nil {
		g.log.Error("delete tiles failed", "namespace", namespaceID, "error", err)
	}
}

// DelMVTALL 清空分组全部缓存瓦片
func (g *Generator) DelMVTALL(namespaceID uint) {
	if err := g.cache.ClearCache(namespaceID); err != nil {
		g.log.Error("clear tile cache failed", "namespace", namespaceID, "error", err)
	}
}
