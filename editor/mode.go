// Package editor 地图交互模式状态机
package editor

import "github.com/paulmach/orb"

// Mode 当前交互模式，任意时刻只有一个
type Mode int

const (
	ModeView Mode = iota
	ModeEdit
	ModeModify
	ModeSplit
	ModeLassoDraw
	ModeMultiSelect
	ModeDrawIsochrone
	ModeTranslate
	ModeDrawPolygonFromRoute
)

var modeNames = map[Mode]string{
	ModeView:                 "view",
	ModeEdit:                 "edit",
	ModeModify:               "modify",
	ModeSplit:                "split",
	ModeLassoDraw:            "lasso_draw",
	ModeMultiSelect:          "multi_select",
	ModeDrawIsochrone:        "draw_isochrone",
	ModeTranslate:            "translate",
	ModeDrawPolygonFromRoute: "draw_polygon_from_route",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// RequiresSingleSelection 修改、切分、平移只能作用于一个已选图形
func (m Mode) RequiresSingleSelection() bool {
	return m == ModeModify || m == ModeSplit || m == ModeTranslate
}

// Modes 全部模式
func Modes() []Mode {
	return []Mode{
		ModeView, ModeEdit, ModeModify, ModeSplit, ModeLassoDraw,
		ModeMultiSelect, ModeDrawIsochrone, ModeTranslate, ModeDrawPolygonFromRoute,
	}
}

// 快捷键
var keyBindings = map[string]Mode{
	"e": ModeEdit,
	"m": ModeModify,
	"s": ModeSplit,
	"l": ModeLassoDraw,
	"v": ModeView,
	"i": ModeDrawIsochrone,
	"t": ModeTranslate,
	"r": ModeDrawPolygonFromRoute,
	"x": ModeMultiSelect,
}

// KeyEscape 退出键
const KeyEscape = "Escape"

// DragEvent 拖拽事件；Done 为拖拽结束帧
type DragEvent struct {
	From orb.Point
	To   orb.Point
	Done bool
}

// Strategy 某个模式下的指针事件处理
type Strategy struct {
	OnClick       func(p orb.Point)
	OnDoubleClick func(p orb.Point)
	OnDrag        func(ev DragEvent)
	OnEscape      func()
}
