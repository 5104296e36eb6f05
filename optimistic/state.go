// Package optimistic 维护尚未被服务端确认的图形写入状态
package optimistic

import (
	"github.com/GrainArc/FenceMap/models"
)

// State 乐观写入状态
type State struct {
	OptimisticShapes []models.Shape
	DeletedIDs       map[string]struct{}
	UpdatedIDs       map[string]struct{}
	Loading          bool
	Err              error
}

// NewState 初始空状态
func NewState() State {
	return State{
		OptimisticShapes: []models.Shape{},
		DeletedIDs:       map[string]struct{}{},
		UpdatedIDs:       map[string]struct{}{},
	}
}

// IsDeleted uuid 是否已被乐观删除
func (s State) IsDeleted(id string) bool {
	_, ok := s.DeletedIDs[id]
	return ok
}

// IsUpdated uuid 是否有未确认的更新
func (s State) IsUpdated(id string) bool {
	_, ok := s.UpdatedIDs[id]
	return ok
}

// Action 状态变更动作
type Action interface {
	action()
}

type (
	AddShapeLoading struct{ Shape models.Shape }
	// AddShapeSuccess TempUUID 为创建时使用的临时uuid，成功后由服务端uuid替换
	AddShapeSuccess struct {
		Shape    models.Shape
		TempUUID string
	}
	AddShapeFailure struct{ Err error }

	DeleteShapesLoading struct{ UUIDs []string }
	DeleteShapesSuccess struct{ UUIDs []string }
	DeleteShapesFailure struct{ Err error }

	UpdateShapeLoading struct{ Shape models.Shape }
	UpdateShapeSuccess struct{ Shape models.Shape }
	UpdateShapeFailure struct{ Err error }

	BulkAddShapesLoading struct{ Shapes []models.Shape }
	BulkAddShapesSuccess struct {
		Shapes    []models.Shape
		TempUUIDs []string
	}
	BulkAddShapesFailure struct{ Err error }

	// ClearOptimisticShapeUpdates 缓存失效完成后清空三个集合，瓦片重新成为权威数据
	ClearOptimisticShapeUpdates struct{}
)

func (AddShapeLoading) action()             {}
func (AddShapeSuccess) action()             {}
func (AddShapeFailure) action()             {}
func (DeleteShapesLoading) action()         {}
func (DeleteShapesSuccess) action()         {}
func (DeleteShapesFailure) action()         {}
func (UpdateShapeLoading) action()          {}
func (UpdateShapeSuccess) action()          {}
func (UpdateShapeFailure) action()          {}
func (BulkAddShapesLoading) action()        {}
func (BulkAddShapesSuccess) action()        {}
func (BulkAddShapesFailure) action()        {}
func (ClearOptimisticShapeUpdates) action() {}

// Reduce 纯函数：返回新状态，不修改输入；失败动作只记录错误，不回滚
func Reduce(prev State, a Action) State {
	next := prev.clone()
	switch a := a.(type) {
	case AddShapeLoading:
		next.OptimisticShapes = appendUnique(next.OptimisticShapes, a.Shape)
		next.Loading = true
		next.Err = nil
	case AddShapeSuccess:
		next.OptimisticShapes = withoutUUIDs(next.OptimisticShapes, tempOnly([]string{a.TempUUID}, a.Shape))
		next.OptimisticShapes = dedupByRecency(append(next.OptimisticShapes, a.Shape))
		next.Loading = false
	case AddShapeFailure:
		next.Loading = false
		next.Err = a.Err

	case DeleteShapesLoading:
		for _, id := range a.UUIDs {
			next.DeletedIDs[id] = struct{}{}
		}
		next.OptimisticShapes = withoutUUIDs(next.OptimisticShapes, a.UUIDs)
		next.Loading = true
		next.Err = nil
	case DeleteShapesSuccess:
		next.Loading = false
	case DeleteShapesFailure:
		next.Loading = false
		next.Err = a.Err

	case UpdateShapeLoading:
		next.UpdatedIDs[a.Shape.UUID] = struct{}{}
		next.OptimisticShapes = upsert(next.OptimisticShapes, a.Shape)
		next.Loading = true
		next.Err = nil
	case UpdateShapeSuccess:
		next.OptimisticShapes = dedupByRecency(append(next.OptimisticShapes, a.Shape))
		next.Loading = false
	case UpdateShapeFailure:
		next.Loading = false
		next.Err = a.Err

	case BulkAddShapesLoading:
		for _, s := range a.Shapes {
			next.OptimisticShapes = appendUnique(next.OptimisticShapes, s)
		}
		next.Loading = true
		next.Err = nil
	case BulkAddShapesSuccess:
		var temps []string
		for _, id := range a.TempUUIDs {
			if !containsUUID(a.Shapes, id) {
				temps = append(temps, id)
			}
		}
		next.OptimisticShapes = withoutUUIDs(next.OptimisticShapes, temps)
		next.OptimisticShapes = dedupByRecency(append(next.OptimisticShapes, a.Shapes...))
		next.Loading = false
	case BulkAddShapesFailure:
		next.Loading = false
		next.Err = a.Err

	case ClearOptimisticShapeUpdates:
		next.OptimisticShapes = []models.Shape{}
		next.DeletedIDs = map[string]struct{}{}
		next.UpdatedIDs = map[string]struct{}{}
	}
	return next
}

func (s State) clone() State {
	out := State{
		OptimisticShapes: make([]models.Shape, len(s.OptimisticShapes)),
		DeletedIDs:       make(map[string]struct{}, len(s.DeletedIDs)),
		UpdatedIDs:       make(map[string]struct{}, len(s.UpdatedIDs)),
		Loading:          s.Loading,
		Err:              s.Err,
	}
	copy(out.OptimisticShapes, s.OptimisticShapes)
	for id := range s.DeletedIDs {
		out.DeletedIDs[id] = struct{}{}
	}
	for id := range s.UpdatedIDs {
		out.UpdatedIDs[id] = struct{}{}
	}
	return out
}

// appendUnique 同uuid且同updated_at视为同一条
func appendUnique(list []models.Shape, s models.Shape) []models.Shape {
	for _, e := range list {
		if e.UUID == s.UUID && e.UpdatedAt.Equal(s.UpdatedAt) {
			return list
		}
	}
	return append(list, s)
}

func upsert(list []models.Shape, s models.Shape) []models.Shape {
	for i, e := range list {
		if e.UUID == s.UUID {
			list[i] = s
			return list
		}
	}
	return append(list, s)
}

// dedupByRecency 每个uuid保留updated_at最大的一条，相同时后应用者胜出
func dedupByRecency(list []models.Shape) []models.Shape {
	pos := make(map[string]int, len(list))
	out := make([]models.Shape, 0, len(list))
	for _, s := range list {
		i, ok := pos[s.UUID]
		if !ok {
			pos[s.UUID] = len(out)
			out = append(out, s)
			continue
		}
		if !out[i].UpdatedAt.After(s.UpdatedAt) {
			out[i] = s
		}
	}
	return out
}

func withoutUUIDs(list []models.Shape, ids []string) []models.Shape {
	if len(ids) == 0 {
		return list
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := list[:0]
	for _, s := range list {
		if _, ok := drop[s.UUID]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// tempOnly 临时uuid与服务端uuid相同时不删除
func tempOnly(ids []string, s models.Shape) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && id != s.UUID {
			out = append(out, id)
		}
	}
	return out
}

func containsUUID(list []models.Shape, id string) bool {
	for _, s := range list {
		if s.UUID == id {
			return true
		}
	}
	return false
}
