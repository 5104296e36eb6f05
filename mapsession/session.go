// Package mapsession 单个地图视图的编辑会话：瓦片缓存、乐观状态、撤销日志、模式状态机与编辑管线
package mapsession

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/GrainArc/FenceMap/config"
	"github.com/GrainArc/FenceMap/editor"
	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/optimistic"
	"github.com/GrainArc/FenceMap/pipeline"
	"github.com/GrainArc/FenceMap/routing"
	"github.com/GrainArc/FenceMap/tile_proxy"
	"github.com/GrainArc/FenceMap/undolog"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

const maxOverlapZoom = 18

// ShapeClient 会话使用的图形服务
type ShapeClient interface {
	pipeline.ShapeAPI
	GetAllShapeMetadata(ctx context.Context, namespace string) ([]models.Namespace, error)
	GetShapeByUUID(ctx context.Context, id string) (models.Shape, error)
}

// Options 会话参数
type Options struct {
	BaseURL    string
	Namespace  string
	Config     config.SessionConfig
	API        ShapeClient
	Router     routing.Router
	Notifier   Notifier
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Session 地图编辑会话，单线程使用
type Session struct {
	ctx       context.Context
	cfg       config.SessionConfig
	namespace string
	api       ShapeClient
	router    routing.Router
	notifier  Notifier
	logger    *slog.Logger

	cache    *tile_proxy.TileCache
	loader   *tile_proxy.TileLoader
	store    *optimistic.Store
	undo     *undolog.Log
	machine  *editor.Machine
	pipeline *pipeline.Pipeline

	counter     int
	dirty       bool
	namespaceID uint
	zoom        int
	visible     []tile_proxy.TileKey
	shapes      []models.Shape
	index       map[string]int

	draft []orb.Point
	drag  *dragState
}

// New 创建会话；ctx 为会话生命周期，指针事件触发的请求使用它
func New(ctx context.Context, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	router := opts.Router
	if router == nil {
		router = routing.NewLocalRouter(64)
	}
	ns := opts.Namespace
	if ns == "" {
		ns = models.DefaultNamespaceSlug
	}

	s := &Session{
		ctx:       ctx,
		cfg:       opts.Config,
		namespace: ns,
		api:       opts.API,
		router:    router,
		notifier:  notifier,
		logger:    logger,
		index:     map[string]int{},
	}
	s.cache = tile_proxy.NewTileCache(opts.Config.TileCacheMaxFeatures)
	loaderOpts := []tile_proxy.LoaderOption{tile_proxy.WithLogger(logger)}
	if opts.HTTPClient != nil {
		loaderOpts = append(loaderOpts, tile_proxy.WithHTTPClient(opts.HTTPClient))
	}
	s.loader = tile_proxy.NewTileLoader(opts.BaseURL, s.cache, s.CacheInvalidationCounter, loaderOpts...)
	s.store = optimistic.NewStore()
	s.undo = undolog.New(opts.Config.UndoDepth)
	s.machine = editor.NewMachine(s.strategies())
	s.machine.OnModeChange(func(from, to editor.Mode) {
		s.draft = nil
		s.drag = nil
		s.logger.Debug("editor mode changed", "from", from.String(), "to", to.String())
	})
	s.pipeline = pipeline.New(s.api, s, s.machine, s.store, s.undo, pipeline.Options{
		DenyOverlap:          opts.Config.DenyOverlap,
		EditMetadataOnCreate: opts.Config.EditMetadataOnCreate,
		DefaultName:          "未命名",
	}, logger)
	s.pipeline.OnChange(s.invalidate)
	return s
}

func (s *Session) Machine() *editor.Machine      { return s.machine }
func (s *Session) Store() *optimistic.Store      { return s.store }
func (s *Session) Cache() *tile_proxy.TileCache  { return s.cache }
func (s *Session) UndoLog() *undolog.Log         { return s.undo }
func (s *Session) Pipeline() *pipeline.Pipeline  { return s.pipeline }
func (s *Session) CacheInvalidationCounter() int { return s.counter }
func (s *Session) IsDeleted(id string) bool      { return s.store.IsDeleted(id) }
func (s *Session) IsUpdated(id string) bool      { return s.store.IsUpdated(id) }
func (s *Session) NamespaceID() uint             { return s.namespaceID }

// LoadShapes 加载分组内图形元数据，几何按需获取
func (s *Session) LoadShapes(ctx context.Context) error {
	namespaces, err := s.api.GetAllShapeMetadata(ctx, s.namespace)
	if err != nil {
		s.notifier.Notify(errorNotification(err))
		return err
	}
	if len(namespaces) == 0 {
		err := methods.NotFoundError().With("namespace", s.namespace).Errorf("namespace %s not found", s.namespace)
		s.notifier.Notify(errorNotification(err))
		return err
	}
	ns := namespaces[0]
	s.namespaceID = ns.ID
	s.pipeline.SetNamespaceID(ns.ID)

	s.shapes = s.shapes[:0]
	s.index = map[string]int{}
	for _, meta := range ns.Shapes {
		s.upsertShape(models.Shape{UUID: meta.UUID, Name: meta.Name, UpdatedAt: meta.UpdatedAt, NamespaceID: ns.ID})
	}
	return nil
}

// Shapes 已加载图形，按加载顺序
func (s *Session) Shapes() []models.Shape {
	out := make([]models.Shape, len(s.shapes))
	copy(out, s.shapes)
	return out
}

// Shape 按uuid取已加载图形
func (s *Session) Shape(id string) (models.Shape, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.Shape{}, false
	}
	return s.shapes[i], true
}

// EnsureGeometry 图形几何未加载时向服务端获取
func (s *Session) EnsureGeometry(ctx context.Context, id string) (models.Shape, error) {
	if shape, ok := s.Shape(id); ok && shape.Geometry != nil {
		return shape, nil
	}
	shape, err := s.api.GetShapeByUUID(ctx, id)
	if err != nil {
		return models.Shape{}, err
	}
	s.upsertShape(shape)
	return shape, nil
}

// SetViewport 设置可视范围并加载瓦片，返回待渲染要素
func (s *Session) SetViewport(ctx context.Context, bound orb.Bound, zoom int) []optimistic.RenderFeature {
	s.zoom = zoom
	s.visible = tile_proxy.TileKeysForBound(bound, zoom)
	return s.Render(ctx)
}

// Render 可视瓦片要素与乐观图形的合并结果
func (s *Session) Render(ctx context.Context) []optimistic.RenderFeature {
	return optimistic.Merge(s.visibleFeatures(ctx), s.store.State())
}

func (s *Session) visibleFeatures(ctx context.Context) []*geojson.Feature {
	if len(s.visible) == 0 {
		return nil
	}
	loaded := s.loader.LoadMany(ctx, s.namespace, s.visible)
	var out []*geojson.Feature
	for _, key := range s.visible {
		out = append(out, loaded[key.String()]...)
	}
	return out
}

// HandleEdit 编辑事件入口，错误在此转换为提示，返回是否成功
func (s *Session) HandleEdit(ctx context.Context, ev pipeline.EditEvent) bool {
	if ev.EditType == pipeline.EditAddFeature && len(ev.Features) > 0 {
		s.prepareOverlap(ctx, ev.Features[len(ev.Features)-1].Geometry)
	}
	err := s.pipeline.Handle(ctx, ev)
	return s.settle(ctx, err)
}

// CreateFromGeometry 外部生成的多边形走新建路径
func (s *Session) CreateFromGeometry(ctx context.Context, geom orb.Geometry, name string) bool {
	s.prepareOverlap(ctx, geom)
	_, err := s.pipeline.CreateFromGeometry(ctx, geom, name)
	return s.settle(ctx, err)
}

// DeleteSelected 删除选中图形
func (s *Session) DeleteSelected(ctx context.Context) bool {
	_, err := s.pipeline.DeleteSelected(ctx)
	return s.settle(ctx, err)
}

// EditMetadata 修改元数据编辑目标的名称，完成后清空目标
func (s *Session) EditMetadata(ctx context.Context, name string) bool {
	target := s.machine.MetadataTarget()
	if target == "" {
		return s.settle(ctx, methods.ValidationError().Errorf("no shape is awaiting metadata"))
	}
	if _, err := s.EnsureGeometry(ctx, target); err != nil {
		return s.settle(ctx, err)
	}
	_, err := s.pipeline.Rename(ctx, target, name)
	if err == nil {
		s.machine.SetMetadataTarget("")
	}
	return s.settle(ctx, err)
}

// Undo 撤销
func (s *Session) Undo(ctx context.Context) bool {
	_, err := s.pipeline.Undo(ctx)
	return s.settle(ctx, err)
}

// Redo 重做
func (s *Session) Redo(ctx context.Context) bool {
	_, err := s.pipeline.Redo(ctx)
	return s.settle(ctx, err)
}

// HandleKey 键盘事件
func (s *Session) HandleKey(key string) bool {
	return s.settle(s.ctx, s.machine.HandleKey(key))
}

// Click 单击
func (s *Session) Click(p orb.Point) { s.machine.Click(p) }

// DoubleClick 双击
func (s *Session) DoubleClick(p orb.Point) { s.machine.DoubleClick(p) }

// Drag 拖拽
func (s *Session) Drag(ev editor.DragEvent) { s.machine.Drag(ev) }

// SelectShape 选中图形并加载其几何
func (s *Session) SelectShape(ctx context.Context, id string) bool {
	if _, err := s.EnsureGeometry(ctx, id); err != nil {
		return s.settle(ctx, err)
	}
	s.machine.SelectShapes(id)
	return true
}

// settle 写入成功后重新拉取可视瓦片并清空乐观状态；错误转换为提示
func (s *Session) settle(ctx context.Context, err error) bool {
	if s.dirty {
		s.dirty = false
		s.visibleFeatures(ctx)
		s.store.Dispatch(optimistic.ClearOptimisticShapeUpdates{})
	}
	if err != nil {
		s.notifier.Notify(errorNotification(err))
		return false
	}
	return true
}

// invalidate 写入成功：计数加一，清理涉及要素的瓦片，同步本地图形列表
func (s *Session) invalidate(c pipeline.Change) {
	s.counter++
	s.dirty = true

	removed := s.cache.ClearForFeatures(c.UUIDs())

	// 新图形尚未出现在反向索引里，按外包框清理各层已缓存瓦片
	var keys []string
	zooms := s.cachedZooms()
	for _, shape := range c.After {
		geom := shape.Geom()
		if geom == nil {
			continue
		}
		for _, z := range zooms {
			for _, k := range tile_proxy.TileKeysForBound(geom.Bound(), z) {
				keys = append(keys, k.String())
			}
		}
	}
	tiles := s.cache.ClearTileByKeys(keys)
	s.logger.Debug("tile cache invalidated", "op", string(c.Op), "generation", s.counter, "features", removed, "tiles", tiles)

	if c.Op != undolog.OpUpdate {
		for _, shape := range c.Before {
			s.removeShape(shape.UUID)
		}
	}
	for _, shape := range c.After {
		s.upsertShape(shape)
	}
}

func (s *Session) cachedZooms() []int {
	seen := map[int]struct{}{}
	for _, k := range s.cache.Keys() {
		key, err := tile_proxy.ParseTileKey(k)
		if err != nil {
			continue
		}
		seen[key.Z] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for z := range seen {
		out = append(out, z)
	}
	sort.Ints(out)
	return out
}

// prepareOverlap 重叠剔除前加载候选范围内已有图形的几何
func (s *Session) prepareOverlap(ctx context.Context, geom orb.Geometry) {
	if !s.cfg.DenyOverlap || geom == nil {
		return
	}
	bound := geom.Bound()
	zoom := s.zoom
	if len(s.visible) == 0 {
		zoom = overlapZoom(bound)
	}
	keys := tile_proxy.TileKeysForBound(bound, zoom)
	loaded := s.loader.LoadMany(ctx, s.namespace, keys)
	seen := map[string]struct{}{}
	for _, features := range loaded {
		for _, f := range features {
			id := methods.FeatureID(f)
			if _, ok := seen[id]; ok || s.store.IsDeleted(id) {
				continue
			}
			seen[id] = struct{}{}
			if _, err := s.EnsureGeometry(ctx, id); err != nil {
				s.logger.Warn("load geometry for overlap check failed", "uuid", id, "error", err)
			}
		}
	}
}

// overlapZoom 未设置视口时取候选外包框不超过四个瓦片的最大缩放级别
func overlapZoom(bound orb.Bound) int {
	zoom := 0
	for z := 1; z <= maxOverlapZoom; z++ {
		if len(tile_proxy.TileKeysForBound(bound, z)) > 4 {
			break
		}
		zoom = z
	}
	return zoom
}

// hitTest 点选：可视要素与乐观图形中最上层包含该点的图形
func (s *Session) hitTest(p orb.Point) string {
	hit := ""
	for _, rf := range optimistic.Merge(s.cachedVisible(), s.store.State()) {
		if rf.Feature == nil || rf.Opacity == optimistic.OpacityHidden {
			continue
		}
		if contains(rf.Feature.Geometry, p) {
			hit = rf.UUID
		}
	}
	return hit
}

// cachedVisible 只读缓存中的可视要素，不发请求
func (s *Session) cachedVisible() []*geojson.Feature {
	var out []*geojson.Feature
	for _, key := range s.visible {
		if features, ok := s.cache.Get(key.String()); ok {
			out = append(out, features...)
		}
	}
	return out
}

func (s *Session) upsertShape(shape models.Shape) {
	if i, ok := s.index[shape.UUID]; ok {
		if shape.Geometry == nil {
			shape.Geometry = s.shapes[i].Geometry
		}
		s.shapes[i] = shape
		return
	}
	s.index[shape.UUID] = len(s.shapes)
	s.shapes = append(s.shapes, shape)
}

func (s *Session) removeShape(id string) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	s.shapes = append(s.shapes[:i], s.shapes[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.shapes); j++ {
		s.index[s.shapes[j].UUID] = j
	}
}

func contains(geom orb.Geometry, p orb.Point) bool {
	switch g := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}
