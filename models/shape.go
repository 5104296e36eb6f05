package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ShapeRecord 图形存储行，几何以WKB存储，外包框冗余四列用于瓦片范围查询
type ShapeRecord struct {
	UUID        string         `gorm:"primaryKey;type:varchar(36)"`
	Name        string         `gorm:"type:varchar(255)"`
	Geom        []byte         `gorm:"not null"`
	Properties  datatypes.JSON `gorm:"type:jsonb"`
	NamespaceID uint           `gorm:"index;not null"`
	MinX        float64        `gorm:"index:idx_shape_bbox"`
	MinY        float64        `gorm:"index:idx_shape_bbox"`
	MaxX        float64        `gorm:"index:idx_shape_bbox"`
	MaxY        float64        `gorm:"index:idx_shape_bbox"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (ShapeRecord) TableName() string {
	return "shapes"
}

// Shape 图形（接口与编辑端使用）
type Shape struct {
	UUID        string           `json:"uuid"`
	Name        string           `json:"name"`
	Geometry    *geojson.Feature `json:"geometry,omitempty"`
	NamespaceID uint             `json:"namespace_id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Deleted     bool             `json:"deleted,omitempty"`
}

// ShapeMeta 不含几何的图形元数据
type ShapeMeta struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShapePatch 局部更新，nil字段不修改；Deleted=true 为软删除
type ShapePatch struct {
	Name        *string          `json:"name,omitempty"`
	Geometry    *geojson.Feature `json:"geometry,omitempty"`
	NamespaceID *uint            `json:"namespace_id,omitempty"`
	Deleted     *bool            `json:"deleted,omitempty"`
}

// Geom 图形的orb几何
func (s Shape) Geom() orb.Geometry {
	if s.Geometry == nil {
		return nil
	}
	return s.Geometry.Geometry
}

// Meta 元数据
func (s Shape) Meta() ShapeMeta {
	return ShapeMeta{UUID: s.UUID, Name: s.Name, UpdatedAt: s.UpdatedAt}
}

// NewShapeRecord 图形转存储行
func NewShapeRecord(s Shape) (ShapeRecord, error) {
	rec := ShapeRecord{
		UUID:        s.UUID,
		Name:        s.Name,
		NamespaceID: s.NamespaceID,
	}
	if err := rec.SetGeometry(s.Geometry); err != nil {
		return rec, err
	}
	return rec, nil
}

// SetGeometry 写入几何、属性与外包框
func (r *ShapeRecord) SetGeometry(f *geojson.Feature) error {
	if f == nil || f.Geometry == nil {
		return fmt.Errorf("shape %s has no geometry", r.UUID)
	}
	data, err := methods.GeometryToWKB(f.Geometry)
	if err != nil {
		return fmt.Errorf("encode geometry: %w", err)
	}
	props, err := json.Marshal(f.Properties)
	if err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	b := f.Geometry.Bound()
	r.Geom = data
	r.Properties = datatypes.JSON(props)
	r.MinX, r.MinY, r.MaxX, r.MaxY = b.Min[0], b.Min[1], b.Max[0], b.Max[1]
	return nil
}

// Feature 存储行还原为要素，单面MultiPolygon还原为Polygon
func (r ShapeRecord) Feature() (*geojson.Feature, error) {
	geom, err := methods.WKBToGeometry(r.Geom)
	if err != nil {
		return nil, fmt.Errorf("decode geometry of %s: %w", r.UUID, err)
	}
	f := geojson.NewFeature(geom)
	if len(r.Properties) > 0 {
		if err := json.Unmarshal(r.Properties, &f.Properties); err != nil {
			return nil, fmt.Errorf("decode properties of %s: %w", r.UUID, err)
		}
	}
	if f.Properties == nil {
		f.Properties = geojson.Properties{}
	}
	f.Properties["id"] = r.UUID
	return f, nil
}

// ToShape 存储行转图形
func (r ShapeRecord) ToShape() (Shape, error) {
	f, err := r.Feature()
	if err != nil {
		return Shape{}, err
	}
	return Shape{
		UUID:        r.UUID,
		Name:        r.Name,
		Geometry:    f,
		NamespaceID: r.NamespaceID,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Deleted:     r.DeletedAt.Valid,
	}, nil
}
