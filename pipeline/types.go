// Package pipeline 把编辑事件转换为校验、修复后的图形写请求
package pipeline

import (
	"context"
	"errors"

	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/undolog"
	"github.com/paulmach/orb/geojson"
)

// EditType 编辑事件类型
type EditType string

const (
	EditAddFeature         EditType = "addFeature"
	EditAddPosition        EditType = "addPosition"
	EditRemovePosition     EditType = "removePosition"
	EditSplit              EditType = "split"
	EditFinishMovePosition EditType = "finishMovePosition"
	EditTranslated         EditType = "translated"

	// 中间帧，只更新工作几何
	EditMovePosition EditType = "movePosition"
	EditTranslating  EditType = "translating"
)

// Persists 该事件是否会触发写请求
func (t EditType) Persists() bool {
	switch t {
	case EditMovePosition, EditTranslating:
		return false
	}
	return true
}

// EditEvent 绘制层发出的编辑事件
type EditEvent struct {
	Features       []*geojson.Feature
	EditType       EditType
	FeatureIndexes []int
}

// ErrSplitSelection 切分必须且只能选中一个图形
var ErrSplitSelection = errors.New("split requires exactly one selected shape")

// ShapeAPI 图形写接口
type ShapeAPI interface {
	CreateShape(ctx context.Context, shape models.Shape) (models.Shape, error)
	UpdateShape(ctx context.Context, id string, patch models.ShapePatch) (models.Shape, error)
	BulkDelete(ctx context.Context, ids []string) (int, error)
	BulkCreate(ctx context.Context, shapes []models.Shape) ([]models.Shape, error)
}

// ShapeSource 当前已加载的图形，按加载顺序
type ShapeSource interface {
	Shapes() []models.Shape
	Shape(id string) (models.Shape, bool)
}

// Selection 编辑器中的选择状态
type Selection interface {
	Selected() []string
	ClearSelection()
	SetMetadataTarget(id string)
}

// Change 一次成功写入涉及的图形，用于缓存失效
type Change struct {
	Op     undolog.Op
	Before []models.Shape
	After  []models.Shape
}

// UUIDs 涉及的全部uuid
func (c Change) UUIDs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range [][]models.Shape{c.Before, c.After} {
		for _, s := range list {
			if _, ok := seen[s.UUID]; ok {
				continue
			}
			seen[s.UUID] = struct{}{}
			out = append(out, s.UUID)
		}
	}
	return out
}

// Options 管线参数
type Options struct {
	DenyOverlap          bool
	EditMetadataOnCreate bool
	NamespaceID          uint
	DefaultName          string
}
