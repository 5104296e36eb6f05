package mapsession

import (
	"github.com/GrainArc/FenceMap/editor"
	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/optimistic"
	"github.com/GrainArc/FenceMap/pipeline"
	"github.com/GrainArc/FenceMap/routing"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// dragState 一次拖拽的上下文，From 为拖拽起点
type dragState struct {
	base     orb.Geometry
	vertex   methods.VertexRef
	onVertex bool
	path     []orb.Point
}

// strategies 各模式的指针事件处理表
func (s *Session) strategies() map[editor.Mode]editor.Strategy {
	return map[editor.Mode]editor.Strategy{
		editor.ModeView: {
			OnClick: s.selectAt,
		},
		editor.ModeMultiSelect: {
			OnClick: s.toggleAt,
			OnDrag:  s.marquee,
		},
		editor.ModeEdit: {
			OnClick:       s.addDraftPoint,
			OnDoubleClick: s.finishPolygon,
			OnEscape:      s.resetDrafts,
		},
		editor.ModeLassoDraw: {
			OnDrag:   s.lasso,
			OnEscape: s.resetDrafts,
		},
		editor.ModeModify: {
			OnClick:       s.insertVertex,
			OnDoubleClick: s.removeVertex,
			OnDrag:        s.moveVertex,
			OnEscape:      s.resetDrafts,
		},
		editor.ModeSplit: {
			OnClick:       s.addDraftPoint,
			OnDoubleClick: s.finishSplit,
			OnEscape:      s.resetDrafts,
		},
		editor.ModeTranslate: {
			OnDrag:   s.translate,
			OnEscape: s.resetDrafts,
		},
		editor.ModeDrawIsochrone: {
			OnClick: s.isochrone,
		},
		editor.ModeDrawPolygonFromRoute: {
			OnClick:       s.addDraftPoint,
			OnDoubleClick: s.finishRoute,
			OnEscape:      s.resetDrafts,
		},
	}
}

// Draft 当前绘制中的点
func (s *Session) Draft() []orb.Point {
	return append([]orb.Point(nil), s.draft...)
}

func (s *Session) resetDrafts() {
	s.draft = nil
	s.drag = nil
}

func (s *Session) selectAt(p orb.Point) {
	id := s.hitTest(p)
	if id == "" {
		s.machine.ClearSelection()
		return
	}
	s.SelectShape(s.ctx, id)
}

func (s *Session) toggleAt(p orb.Point) {
	id := s.hitTest(p)
	if id == "" {
		return
	}
	if _, err := s.EnsureGeometry(s.ctx, id); err != nil {
		s.settle(s.ctx, err)
		return
	}
	s.machine.ToggleShape(id)
}

// marquee 框选，选中外包框与选框相交的图形
func (s *Session) marquee(ev editor.DragEvent) {
	if !ev.Done {
		return
	}
	box := orb.MultiPoint{ev.From, ev.To}.Bound()
	var ids []string
	seen := map[string]struct{}{}
	for _, rf := range optimistic.Merge(s.cachedVisible(), s.store.State()) {
		if rf.Feature == nil || rf.Opacity == optimistic.OpacityHidden {
			continue
		}
		if _, ok := seen[rf.UUID]; ok || !box.Intersects(rf.Feature.Geometry.Bound()) {
			continue
		}
		seen[rf.UUID] = struct{}{}
		ids = append(ids, rf.UUID)
	}
	s.machine.SelectShapes(ids...)
}

func (s *Session) addDraftPoint(p orb.Point) {
	if n := len(s.draft); n > 0 && s.draft[n-1].Equal(p) {
		return
	}
	s.draft = append(s.draft, p)
}

// finishPolygon 双击结束绘制，至少三个点
func (s *Session) finishPolygon(p orb.Point) {
	s.addDraftPoint(p)
	points := s.draft
	s.draft = nil
	if len(points) < 3 {
		s.settle(s.ctx, methods.ValidationError().With("points", len(points)).Errorf("polygon needs at least three points"))
		return
	}
	s.emit(pipeline.EditAddFeature, closeRing(points))
}

func (s *Session) lasso(ev editor.DragEvent) {
	if s.drag == nil {
		s.drag = &dragState{path: []orb.Point{ev.From}}
	}
	if last := s.drag.path[len(s.drag.path)-1]; !last.Equal(ev.To) {
		s.drag.path = append(s.drag.path, ev.To)
	}
	if !ev.Done {
		return
	}
	points := s.drag.path
	s.drag = nil
	if len(points) < 3 {
		return
	}
	s.emit(pipeline.EditAddFeature, closeRing(points))
}

func (s *Session) insertVertex(p orb.Point) {
	shape, ok := s.selectedShape()
	if !ok {
		return
	}
	ref, ok := methods.NearestEdge(shape.Geom(), p, s.cfg.SnapTolerance)
	if !ok {
		return
	}
	s.emit(pipeline.EditAddPosition, methods.InsertVertex(shape.Geom(), ref, p))
}

func (s *Session) removeVertex(p orb.Point) {
	shape, ok := s.selectedShape()
	if !ok {
		return
	}
	ref, ok := methods.NearestVertex(shape.Geom(), p, s.cfg.SnapTolerance)
	if !ok {
		return
	}
	s.emit(pipeline.EditRemovePosition, methods.RemoveVertex(shape.Geom(), ref))
}

// moveVertex 拖动顶点：过程帧只更新工作几何，结束帧持久化
func (s *Session) moveVertex(ev editor.DragEvent) {
	if s.drag == nil {
		shape, ok := s.selectedShape()
		if !ok {
			return
		}
		ref, hit := methods.NearestVertex(shape.Geom(), ev.From, s.cfg.SnapTolerance)
		s.drag = &dragState{base: shape.Geom(), vertex: ref, onVertex: hit}
	}
	d := s.drag
	if ev.Done {
		s.drag = nil
	}
	if !d.onVertex {
		return
	}
	geom := methods.MoveVertex(d.base, d.vertex, ev.To)
	if ev.Done {
		s.emit(pipeline.EditFinishMovePosition, geom)
		return
	}
	s.emit(pipeline.EditMovePosition, geom)
}

func (s *Session) translate(ev editor.DragEvent) {
	if s.drag == nil {
		shape, ok := s.selectedShape()
		if !ok {
			return
		}
		s.drag = &dragState{base: shape.Geom()}
	}
	geom := methods.Translate(s.drag.base, ev.To[0]-ev.From[0], ev.To[1]-ev.From[1])
	if ev.Done {
		s.drag = nil
		s.emit(pipeline.EditTranslated, geom)
		return
	}
	s.emit(pipeline.EditTranslating, geom)
}

// finishSplit 双击结束切割线，以条带切开选中图形
func (s *Session) finishSplit(p orb.Point) {
	s.addDraftPoint(p)
	line := orb.LineString(s.draft)
	s.draft = nil
	if len(line) < 2 {
		s.settle(s.ctx, methods.ValidationError().With("points", len(line)).Errorf("cut line needs at least two points"))
		return
	}
	shape, ok := s.selectedShape()
	if !ok {
		s.settle(s.ctx, methods.ValidationError().Wrap(pipeline.ErrSplitSelection))
		return
	}
	s.emit(pipeline.EditSplit, methods.Cut(shape.Geom(), line, s.cfg.SplitWidth))
}

func (s *Session) isochrone(p orb.Point) {
	poly, err := s.router.Isochrone(s.ctx, p, s.cfg.IsochroneMinutes, routing.Mode(s.cfg.IsochroneMode))
	if err != nil {
		s.settle(s.ctx, err)
		return
	}
	s.CreateFromGeometry(s.ctx, poly, "")
}

func (s *Session) finishRoute(p orb.Point) {
	s.addDraftPoint(p)
	points := s.draft
	s.draft = nil
	line, err := s.router.Route(s.ctx, points, routing.Mode(s.cfg.IsochroneMode))
	if err != nil {
		s.settle(s.ctx, err)
		return
	}
	s.CreateFromGeometry(s.ctx, routing.Corridor(line, s.cfg.RouteWidth), "")
}

// selectedShape 唯一选中的图形及其几何
func (s *Session) selectedShape() (models.Shape, bool) {
	selected := s.machine.Selected()
	if len(selected) != 1 {
		return models.Shape{}, false
	}
	shape, err := s.EnsureGeometry(s.ctx, selected[0])
	if err != nil {
		s.settle(s.ctx, err)
		return models.Shape{}, false
	}
	return shape, shape.Geom() != nil
}

func (s *Session) emit(t pipeline.EditType, geom orb.Geometry) {
	s.HandleEdit(s.ctx, pipeline.EditEvent{
		Features:       []*geojson.Feature{geojson.NewFeature(geom)},
		EditType:       t,
		FeatureIndexes: []int{0},
	})
}

func closeRing(points []orb.Point) orb.Polygon {
	ring := make(orb.Ring, 0, len(points)+1)
	ring = append(ring, points...)
	if !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return orb.Polygon{ring}
}
