package pipeline

import (
	"context"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/optimistic"
	"github.com/GrainArc/FenceMap/undolog"
)

// Undo 撤销最近一次写操作，成功后记录移入重做栈
func (p *Pipeline) Undo(ctx context.Context) (undolog.Record, error) {
	if p.log == nil {
		return undolog.Record{}, methods.ValidationError().Errorf("nothing to undo")
	}
	rec, ok := p.log.Peek()
	if !ok {
		return rec, methods.ValidationError().Errorf("nothing to undo")
	}
	if err := p.revert(ctx, rec.Op, rec.Payload.After, rec.Payload.Before); err != nil {
		return rec, err
	}
	p.log.Undo()
	return rec, nil
}

// Redo 重做最近一次撤销的操作，失败时记录留在重做栈
func (p *Pipeline) Redo(ctx context.Context) (undolog.Record, error) {
	if p.log == nil {
		return undolog.Record{}, methods.ValidationError().Errorf("nothing to redo")
	}
	rec, ok := p.log.PeekRedo()
	if !ok {
		return rec, methods.ValidationError().Errorf("nothing to redo")
	}
	if err := p.revert(ctx, rec.Op, rec.Payload.Before, rec.Payload.After); err != nil {
		return rec, err
	}
	p.log.Redo()
	return rec, nil
}

// revert 从 from 状态回到 to 状态；更新按to的名称与几何回写，其余为删除与恢复
func (p *Pipeline) revert(ctx context.Context, op undolog.Op, from, to []models.Shape) error {
	if op == undolog.OpUpdate {
		for _, s := range to {
			name := s.Name
			patch := models.ShapePatch{Name: &name, Geometry: s.Geometry}
			p.store.Dispatch(optimistic.UpdateShapeLoading{Shape: s})
			updated, err := p.api.UpdateShape(ctx, s.UUID, patch)
			if err != nil {
				p.store.Dispatch(optimistic.UpdateShapeFailure{Err: err})
				return err
			}
			p.store.Dispatch(optimistic.UpdateShapeSuccess{Shape: updated})
		}
		p.emit(Change{Op: op, Before: from, After: to})
		return nil
	}

	if len(from) > 0 {
		ids := make([]string, 0, len(from))
		for _, s := range from {
			ids = append(ids, s.UUID)
		}
		p.store.Dispatch(optimistic.DeleteShapesLoading{UUIDs: ids})
		if _, err := p.api.BulkDelete(ctx, ids); err != nil {
			p.store.Dispatch(optimistic.DeleteShapesFailure{Err: err})
			return err
		}
		p.store.Dispatch(optimistic.DeleteShapesSuccess{UUIDs: ids})
	}
	restored := false
	for _, s := range to {
		if _, err := p.api.UpdateShape(ctx, s.UUID, models.ShapePatch{Deleted: &restored}); err != nil {
			p.store.Dispatch(optimistic.UpdateShapeFailure{Err: err})
			return err
		}
	}
	p.emit(Change{Op: op, Before: from, After: to})
	return nil
}
