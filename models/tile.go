package models

// ShapeTile 服务端MVT缓存
type ShapeTile struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	NamespaceID uint   `gorm:"uniqueIndex:idx_tile_nzxy"`
	Z           int    `gorm:"uniqueIndex:idx_tile_nzxy"`
	X           int    `gorm:"uniqueIndex:idx_tile_nzxy"`
	Y           int    `gorm:"uniqueIndex:idx_tile_nzxy"`
	TileData    []byte `gorm:"not null"`
}

func (ShapeTile) TableName() string {
	return "shape_tiles"
}
