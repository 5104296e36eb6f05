package models

import (
	"time"

	"gorm.io/datatypes"
)

// Namespace 图形分组，每个图形只属于一个分组
type Namespace struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Name       string         `gorm:"type:varchar(255)" json:"name"`
	Slug       string         `gorm:"type:varchar(255);uniqueIndex" json:"slug"`
	Properties datatypes.JSON `gorm:"type:jsonb" json:"properties"`
	IsDefault  bool           `gorm:"default:false" json:"is_default"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`

	Shapes []ShapeMeta `gorm:"-" json:"shapes,omitempty"`
}

func (Namespace) TableName() string {
	return "namespaces"
}

// DefaultNamespaceSlug 默认分组
const DefaultNamespaceSlug = "default"
