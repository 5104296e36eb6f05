// services/tile_cache_service.go
package services

import (
	"errors"
	"fmt"

	"github.com/GrainArc/FenceMap/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TileKey 服务端瓦片坐标
type TileKey struct {
	Z int
	X int
	Y int
}

// TileCacheService 服务端MVT缓存服务
type TileCacheService struct {
	db *gorm.DB
}

// NewTileCacheService 创建缓存服务
func NewTileCacheService(db *gorm.DB) *TileCacheService {
	return &TileCacheService{db: db}
}

// GetCachedTile 从缓存获取瓦片
// 返回: tileData, found, error
func (s *TileCacheService) GetCachedTile(namespaceID uint, z, x, y int) ([]byte, bool, error) {
	var cache models.ShapeTile
	result := s.db.
		Where("namespace_id = ? AND z = ? AND x = ? AND y = ?", namespaceID, z, x, y).
		First(&cache)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, result.Error
	}

	return cache.TileData, true, nil
}

// SetCachedTile 写入缓存
func (s *TileCacheService) SetCachedTile(namespaceID uint, z, x, y int, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	cache := models.ShapeTile{
		NamespaceID: namespaceID,
		Z:           z,
		X:           x,
		Y:           y,
		TileData:    data,
	}

	// UPSERT: 冲突时更新 tile_data
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace_id"}, {Name: "z"}, {Name: "x"}, {Name: "y"}},
		DoUpdates: clause.AssignmentColumns([]string{"tile_data"}),
	}).Create(&cache).Error
}

// DeleteTiles 删除指定瓦片，返回删除行数
func (s *TileCacheService) DeleteTiles(namespaceID uint, tiles []TileKey) (int64, error) {
	if len(tiles) == 0 {
		return 0, nil
	}
	// 构建 OR 条件，一次性删除所有匹配的记录
	cond := s.db.Where("(x = ? AND y = ? AND z = ?)", tiles[0].X, tiles[0].Y, tiles[0].Z)
	for _, t := range tiles[1:] {
		cond = cond.Or("(x = ? AND y = ? AND z = ?)", t.X, t.Y, t.Z)
	}
	result := s.db.Where("namespace_id = ?", namespaceID).Where(cond).Delete(&models.ShapeTile{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete tiles: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ClearCache 清空某个分组的缓存
func (s *TileCacheService) ClearCache(namespaceID uint) error {
	return s.db.Where("namespace_id = ?", namespaceID).Delete(&models.ShapeTile{}).Error
}
