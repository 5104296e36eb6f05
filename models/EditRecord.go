package models

import (
	"time"

	"gorm.io/datatypes"
)

// 编辑记录类型
const (
	RecordCreate     = "CREATE"
	RecordUpdate     = "UPDATE"
	RecordDelete     = "DELETE"
	RecordBulkCreate = "BULK_CREATE"
)

// GeoRecord 图形变更记录
type GeoRecord struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	ShapeUUID   string         `gorm:"type:varchar(36);index"`
	NamespaceID uint           `gorm:"index"`
	Type        string         `gorm:"type:varchar(50)"`
	Date        time.Time      `gorm:"index"`
	OldGeojson  datatypes.JSON `gorm:"type:jsonb"`
	NewGeojson  datatypes.JSON `gorm:"type:jsonb"`
}

func (GeoRecord) TableName() string {
	return "geo_records"
}
