package optimistic

import (
	"github.com/GrainArc/FenceMap/methods"
	"github.com/paulmach/orb/geojson"
)

// 渲染透明度
const (
	OpacityVisible = 1.0
	OpacityHidden  = 0.0
)

// RenderFeature 待渲染要素
type RenderFeature struct {
	UUID       string
	Feature    *geojson.Feature
	Optimistic bool
	Opacity    float64
}

// Merge 合并瓦片要素与乐观图形：已删除的不渲染；
// 存在乐观副本的瓦片要素透明绘制，避免重复显示
func Merge(tileFeatures []*geojson.Feature, st State) []RenderFeature {
	twins := make(map[string]struct{}, len(st.OptimisticShapes))
	for _, s := range st.OptimisticShapes {
		twins[s.UUID] = struct{}{}
	}

	out := make([]RenderFeature, 0, len(tileFeatures)+len(st.OptimisticShapes))
	for _, f := range tileFeatures {
		id := methods.FeatureID(f)
		if st.IsDeleted(id) {
			continue
		}
		opacity := OpacityVisible
		if _, ok := twins[id]; ok {
			opacity = OpacityHidden
		}
		out = append(out, RenderFeature{UUID: id, Feature: f, Opacity: opacity})
	}
	for _, s := range st.OptimisticShapes {
		if st.IsDeleted(s.UUID) || s.Geometry == nil {
			continue
		}
		out = append(out, RenderFeature{UUID: s.UUID, Feature: s.Geometry, Optimistic: true, Opacity: OpacityVisible})
	}
	return out
}
