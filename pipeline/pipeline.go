package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/optimistic"
	"github.com/GrainArc/FenceMap/undolog"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Pipeline 几何编辑管线：重叠剔除、自相交修复、切分，成功写入后记录撤销日志并通知失效
type Pipeline struct {
	api       ShapeAPI
	source    ShapeSource
	selection Selection
	store     *optimistic.Store
	log       *undolog.Log
	opts      Options
	logger    *slog.Logger

	working   *geojson.Feature
	listeners []func(Change)
}

// New 创建管线
func New(api ShapeAPI, source ShapeSource, selection Selection, store *optimistic.Store, log *undolog.Log, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		api:       api,
		source:    source,
		selection: selection,
		store:     store,
		log:       log,
		opts:      opts,
		logger:    logger,
	}
}

// OnChange 写入成功回调
func (p *Pipeline) OnChange(fn func(Change)) {
	p.listeners = append(p.listeners, fn)
}

// SetNamespaceID 新建图形默认归属的分组
func (p *Pipeline) SetNamespaceID(id uint) {
	p.opts.NamespaceID = id
}

// Working 修改过程中的工作几何
func (p *Pipeline) Working() *geojson.Feature {
	return p.working
}

// Handle 按事件类型分发；中间帧只更新工作几何，不发请求
func (p *Pipeline) Handle(ctx context.Context, ev EditEvent) error {
	if len(ev.Features) == 0 {
		return methods.ValidationError().With("edit_type", string(ev.EditType)).Errorf("edit event carries no feature")
	}
	target := ev.Features[len(ev.Features)-1]
	if len(ev.FeatureIndexes) > 0 {
		if i := ev.FeatureIndexes[0]; i >= 0 && i < len(ev.Features) {
			target = ev.Features[i]
		}
	}

	switch ev.EditType {
	case EditAddFeature:
		_, err := p.AddFeature(ctx, ev.Features[len(ev.Features)-1])
		return err
	case EditSplit:
		_, err := p.Split(ctx, target.Geometry)
		return err
	case EditAddPosition, EditRemovePosition, EditFinishMovePosition, EditTranslated:
		p.working = nil
		_, err := p.Modify(ctx, target)
		return err
	case EditMovePosition, EditTranslating:
		p.working = methods.CloneFeature(target)
		return nil
	}
	return methods.ValidationError().With("edit_type", string(ev.EditType)).Errorf("unsupported edit type %q", ev.EditType)
}

// AddFeature 新建图形：先扣除已有图形，若被完全覆盖则拒绝；自相交时只保留第一个分片
func (p *Pipeline) AddFeature(ctx context.Context, f *geojson.Feature) (models.Shape, error) {
	if f == nil || !methods.IsAreal(f.Geometry) {
		return models.Shape{}, methods.ValidationError().Errorf("drawn feature must be a polygon")
	}
	candidate, err := p.subtractExisting(f.Geometry)
	if err != nil {
		return models.Shape{}, err
	}
	if !methods.IsSimple(candidate) {
		candidate = firstFragment(candidate)
		if candidate == nil {
			return models.Shape{}, methods.ValidationError().Errorf("drawn shape has no valid fragment")
		}
		// 修复后的分片可能重新落入已有图形
		if candidate, err = p.subtractExisting(candidate); err != nil {
			return models.Shape{}, err
		}
		if !methods.IsSimple(candidate) {
			return models.Shape{}, methods.ValidationError().Errorf("drawn shape self-intersects after overlap removal")
		}
	}

	name := p.opts.DefaultName
	if v, ok := f.Properties["name"].(string); ok && v != "" {
		name = v
	}
	shape, err := p.create(ctx, name, p.opts.NamespaceID, candidate)
	if err != nil {
		return models.Shape{}, err
	}
	if p.opts.EditMetadataOnCreate {
		p.selection.SetMetadataTarget(shape.UUID)
	}
	return shape, nil
}

// subtractExisting 扣除与候选面相交的已有图形，被完全覆盖时返回校验错误
func (p *Pipeline) subtractExisting(candidate orb.Geometry) (orb.Geometry, error) {
	if !p.opts.DenyOverlap {
		return candidate, nil
	}
	for _, existing := range p.source.Shapes() {
		geom := existing.Geom()
		if geom == nil || p.store.IsDeleted(existing.UUID) {
			continue
		}
		if !candidate.Bound().Intersects(geom.Bound()) {
			continue
		}
		diff := methods.Difference(candidate, geom)
		if methods.IsEmpty(diff) {
			return nil, methods.ValidationError().
				With("covered_by", existing.UUID).
				Errorf("drawn shape lies entirely inside %s", existing.UUID)
		}
		candidate = simplify(diff)
	}
	return candidate, nil
}

// CreateFromGeometry 等时圈、路线、套索生成的多边形走新建路径
func (p *Pipeline) CreateFromGeometry(ctx context.Context, geom orb.Geometry, name string) (models.Shape, error) {
	f := geojson.NewFeature(geom)
	if name != "" {
		f.Properties["name"] = name
	}
	return p.AddFeature(ctx, f)
}

// Split 切分选中图形：N 个新建请求加一个软删除请求，各自独立，不保证原子性
func (p *Pipeline) Split(ctx context.Context, cut orb.Geometry) ([]models.Shape, error) {
	selected := p.selection.Selected()
	if len(selected) != 1 {
		return nil, methods.ValidationError().With("selected", len(selected)).Wrap(ErrSplitSelection)
	}
	defer p.selection.ClearSelection()

	original, ok := p.source.Shape(selected[0])
	if !ok {
		return nil, methods.ValidationError().With("uuid", selected[0]).Errorf("shape %s is not loaded", selected[0])
	}
	parts := methods.Flatten(cut)
	if len(parts) == 0 {
		return nil, methods.ValidationError().With("uuid", original.UUID).Errorf("cut produced no polygons")
	}

	temps := make([]models.Shape, 0, len(parts))
	for _, part := range parts {
		temps = append(temps, p.newShape(uuid.NewString(), original.Name, original.NamespaceID, part))
	}
	p.store.Dispatch(optimistic.BulkAddShapesLoading{Shapes: temps})

	var (
		created []models.Shape
		tempIDs []string
		errs    []error
	)
	for _, temp := range temps {
		req := temp
		req.UUID = ""
		shape, err := p.api.CreateShape(ctx, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		created = append(created, shape)
		tempIDs = append(tempIDs, temp.UUID)
	}
	if len(created) > 0 {
		p.store.Dispatch(optimistic.BulkAddShapesSuccess{Shapes: created, TempUUIDs: tempIDs})
	}

	p.store.Dispatch(optimistic.DeleteShapesLoading{UUIDs: []string{original.UUID}})
	deleted := true
	removed := false
	if _, err := p.api.UpdateShape(ctx, original.UUID, models.ShapePatch{Deleted: &deleted}); err != nil {
		errs = append(errs, err)
		p.store.Dispatch(optimistic.DeleteShapesFailure{Err: err})
	} else {
		removed = true
		p.store.Dispatch(optimistic.DeleteShapesSuccess{UUIDs: []string{original.UUID}})
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		p.store.Dispatch(optimistic.BulkAddShapesFailure{Err: err})
		p.logger.Warn("split partially failed", "uuid", original.UUID, "created", len(created), "deleted", removed, "failed", len(errs))
		// 任何一步写入成功都要记录，撤销时据此恢复原图形
		if len(created) > 0 || removed {
			p.record(undolog.OpSplit, []models.Shape{original}, created)
		}
		return created, err
	}
	p.record(undolog.OpSplit, []models.Shape{original}, created)
	return created, nil
}

// Modify 持久化选中图形的几何修改
func (p *Pipeline) Modify(ctx context.Context, f *geojson.Feature) (models.Shape, error) {
	selected := p.selection.Selected()
	if len(selected) != 1 {
		return models.Shape{}, methods.ValidationError().With("selected", len(selected)).Errorf("modify requires exactly one selected shape")
	}
	if f == nil || !methods.IsAreal(f.Geometry) {
		return models.Shape{}, methods.ValidationError().Errorf("modified feature must be a polygon")
	}
	if !methods.IsSimple(f.Geometry) {
		return models.Shape{}, methods.ValidationError().With("uuid", selected[0]).Errorf("modified shape self-intersects")
	}
	before, ok := p.source.Shape(selected[0])
	if !ok {
		return models.Shape{}, methods.ValidationError().With("uuid", selected[0]).Errorf("shape %s is not loaded", selected[0])
	}

	feature := methods.CloneFeature(f)
	feature.Properties[methods.IDProperty] = before.UUID
	pending := before
	pending.Geometry = feature
	pending.UpdatedAt = time.Now()
	p.store.Dispatch(optimistic.UpdateShapeLoading{Shape: pending})

	updated, err := p.api.UpdateShape(ctx, before.UUID, models.ShapePatch{Geometry: feature})
	if err != nil {
		p.store.Dispatch(optimistic.UpdateShapeFailure{Err: err})
		return models.Shape{}, err
	}
	p.store.Dispatch(optimistic.UpdateShapeSuccess{Shape: updated})
	p.record(undolog.OpUpdate, []models.Shape{before}, []models.Shape{updated})
	return updated, nil
}

// Rename 修改图形名称
func (p *Pipeline) Rename(ctx context.Context, id, name string) (models.Shape, error) {
	before, ok := p.source.Shape(id)
	if !ok {
		return models.Shape{}, methods.ValidationError().With("uuid", id).Errorf("shape %s is not loaded", id)
	}
	pending := before
	pending.Name = name
	pending.UpdatedAt = time.Now()
	p.store.Dispatch(optimistic.UpdateShapeLoading{Shape: pending})

	updated, err := p.api.UpdateShape(ctx, id, models.ShapePatch{Name: &name})
	if err != nil {
		p.store.Dispatch(optimistic.UpdateShapeFailure{Err: err})
		return models.Shape{}, err
	}
	p.store.Dispatch(optimistic.UpdateShapeSuccess{Shape: updated})
	p.record(undolog.OpUpdate, []models.Shape{before}, []models.Shape{updated})
	return updated, nil
}

// Delete 批量软删除，先乐观隐藏
func (p *Pipeline) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var before []models.Shape
	for _, id := range ids {
		if s, ok := p.source.Shape(id); ok {
			before = append(before, s)
		}
	}
	p.store.Dispatch(optimistic.DeleteShapesLoading{UUIDs: ids})
	count, err := p.api.BulkDelete(ctx, ids)
	if err != nil {
		p.store.Dispatch(optimistic.DeleteShapesFailure{Err: err})
		return 0, err
	}
	p.store.Dispatch(optimistic.DeleteShapesSuccess{UUIDs: ids})
	p.record(undolog.OpDelete, before, nil)
	return count, nil
}

// DeleteSelected 删除选中图形并清空选择
func (p *Pipeline) DeleteSelected(ctx context.Context) (int, error) {
	ids := p.selection.Selected()
	if len(ids) == 0 {
		return 0, methods.ValidationError().Errorf("no shape selected")
	}
	defer p.selection.ClearSelection()
	return p.Delete(ctx, ids)
}

// BulkCreate 批量新建，不做重叠剔除
func (p *Pipeline) BulkCreate(ctx context.Context, shapes []models.Shape) ([]models.Shape, error) {
	if len(shapes) == 0 {
		return nil, nil
	}
	temps := make([]models.Shape, 0, len(shapes))
	reqs := make([]models.Shape, 0, len(shapes))
	var tempIDs []string
	for _, s := range shapes {
		if s.Geometry == nil || !methods.IsAreal(s.Geometry.Geometry) || !methods.IsSimple(s.Geometry.Geometry) {
			return nil, methods.ValidationError().With("name", s.Name).Errorf("shape %q has invalid geometry", s.Name)
		}
		if s.NamespaceID == 0 {
			s.NamespaceID = p.opts.NamespaceID
		}
		temp := p.newShape(uuid.NewString(), s.Name, s.NamespaceID, s.Geometry.Geometry)
		temps = append(temps, temp)
		tempIDs = append(tempIDs, temp.UUID)
		s.UUID = ""
		reqs = append(reqs, s)
	}
	p.store.Dispatch(optimistic.BulkAddShapesLoading{Shapes: temps})
	created, err := p.api.BulkCreate(ctx, reqs)
	if err != nil {
		p.store.Dispatch(optimistic.BulkAddShapesFailure{Err: err})
		return nil, err
	}
	p.store.Dispatch(optimistic.BulkAddShapesSuccess{Shapes: created, TempUUIDs: tempIDs})
	p.record(undolog.OpBulkCreate, nil, created)
	return created, nil
}

func (p *Pipeline) create(ctx context.Context, name string, namespaceID uint, geom orb.Geometry) (models.Shape, error) {
	temp := p.newShape(uuid.NewString(), name, namespaceID, geom)
	p.store.Dispatch(optimistic.AddShapeLoading{Shape: temp})

	req := temp
	req.UUID = ""
	created, err := p.api.CreateShape(ctx, req)
	if err != nil {
		p.store.Dispatch(optimistic.AddShapeFailure{Err: err})
		return models.Shape{}, err
	}
	p.store.Dispatch(optimistic.AddShapeSuccess{Shape: created, TempUUID: temp.UUID})
	p.record(undolog.OpCreate, nil, []models.Shape{created})
	return created, nil
}

func (p *Pipeline) newShape(id, name string, namespaceID uint, geom orb.Geometry) models.Shape {
	f := geojson.NewFeature(geom)
	f.Properties[methods.IDProperty] = id
	return models.Shape{UUID: id, Name: name, Geometry: f, NamespaceID: namespaceID}
}

// record 写撤销日志并通知监听者
func (p *Pipeline) record(op undolog.Op, before, after []models.Shape) {
	if p.log != nil {
		p.log.Push(op, undolog.Payload{Before: before, After: after})
	}
	p.emit(Change{Op: op, Before: before, After: after})
}

func (p *Pipeline) emit(c Change) {
	for _, fn := range p.listeners {
		fn(c)
	}
}

// simplify 单面MultiPolygon转为Polygon
func simplify(mp orb.MultiPolygon) orb.Geometry {
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

// firstFragment 自相交修复后的第一个简单多边形
func firstFragment(geom orb.Geometry) orb.Geometry {
	for _, poly := range methods.Flatten(geom) {
		if frags := methods.Unkink(poly); len(frags) > 0 {
			return frags[0]
		}
	}
	return nil
}
