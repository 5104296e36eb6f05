package editor

import (
	"github.com/GrainArc/FenceMap/methods"
	"github.com/paulmach/orb"
)

// Machine 模式状态机，按模式查表分发指针事件
type Machine struct {
	mode           Mode
	strategies     map[Mode]Strategy
	selected       []string
	featureIndexes []int
	metadataTarget string
	listeners      []func(from, to Mode)
}

// NewMachine 创建状态机，初始为浏览模式
func NewMachine(strategies map[Mode]Strategy) *Machine {
	m := &Machine{mode: ModeView, strategies: map[Mode]Strategy{}}
	for mode, s := range strategies {
		m.strategies[mode] = s
	}
	return m
}

// Register 注册或替换某模式的处理策略
func (m *Machine) Register(mode Mode, s Strategy) {
	m.strategies[mode] = s
}

// OnModeChange 模式切换回调
func (m *Machine) OnModeChange(fn func(from, to Mode)) {
	m.listeners = append(m.listeners, fn)
}

func (m *Machine) Mode() Mode { return m.mode }

// Enabled 模式当前是否可进入
func (m *Machine) Enabled(mode Mode) bool {
	if mode.RequiresSingleSelection() {
		return len(m.selected) == 1
	}
	return true
}

// SetMode 切换模式；离开原模式时清空要素下标与元数据编辑目标
func (m *Machine) SetMode(mode Mode) error {
	if _, ok := modeNames[mode]; !ok {
		return methods.ValidationError().With("mode", int(mode)).Errorf("unknown mode %d", mode)
	}
	if !m.Enabled(mode) {
		return methods.ValidationError().
			With("mode", mode.String()).
			With("selected", len(m.selected)).
			Errorf("mode %s requires exactly one selected shape", mode)
	}
	if mode == m.mode {
		return nil
	}
	m.transition(mode)
	return nil
}

// Escape 任何模式下回到浏览模式并清空选择与编辑上下文
func (m *Machine) Escape() {
	if s, ok := m.strategies[m.mode]; ok && s.OnEscape != nil {
		s.OnEscape()
	}
	m.selected = nil
	if m.mode != ModeView {
		m.transition(ModeView)
	}
	m.featureIndexes = nil
	m.metadataTarget = ""
}

// HandleKey 快捷键切换模式，未绑定的键忽略
func (m *Machine) HandleKey(key string) error {
	if key == KeyEscape {
		m.Escape()
		return nil
	}
	mode, ok := keyBindings[key]
	if !ok {
		return nil
	}
	return m.SetMode(mode)
}

// Click 单击
func (m *Machine) Click(p orb.Point) {
	if s, ok := m.strategies[m.mode]; ok && s.OnClick != nil {
		s.OnClick(p)
	}
}

// DoubleClick 双击，用于结束绘制
func (m *Machine) DoubleClick(p orb.Point) {
	if s, ok := m.strategies[m.mode]; ok && s.OnDoubleClick != nil {
		s.OnDoubleClick(p)
	}
}

// Drag 拖拽
func (m *Machine) Drag(ev DragEvent) {
	if s, ok := m.strategies[m.mode]; ok && s.OnDrag != nil {
		s.OnDrag(ev)
	}
}

// SelectShapes 替换已选图形；单选模式下选择数不为1时退回浏览模式
func (m *Machine) SelectShapes(ids ...string) {
	m.selected = append([]string(nil), ids...)
	m.checkSelection()
}

// ToggleShape 多选模式下切换单个图形的选中状态
func (m *Machine) ToggleShape(id string) {
	for i, s := range m.selected {
		if s == id {
			m.selected = append(m.selected[:i:i], m.selected[i+1:]...)
			m.checkSelection()
			return
		}
	}
	m.selected = append(m.selected, id)
	m.checkSelection()
}

// ClearSelection 清空已选图形
func (m *Machine) ClearSelection() {
	m.SelectShapes()
}

// Selected 已选图形uuid副本
func (m *Machine) Selected() []string {
	return append([]string(nil), m.selected...)
}

// SetFeatureIndexes 记录编辑中要素的下标
func (m *Machine) SetFeatureIndexes(idx []int) {
	m.featureIndexes = append([]int(nil), idx...)
}

func (m *Machine) FeatureIndexes() []int {
	return append([]int(nil), m.featureIndexes...)
}

// SetMetadataTarget 设置待编辑元数据的图形
func (m *Machine) SetMetadataTarget(id string) { m.metadataTarget = id }
func (m *Machine) MetadataTarget() string      { return m.metadataTarget }

func (m *Machine) checkSelection() {
	if m.mode.RequiresSingleSelection() && len(m.selected) != 1 {
		m.transition(ModeView)
	}
}

func (m *Machine) transition(to Mode) {
	from := m.mode
	m.featureIndexes = nil
	m.metadataTarget = ""
	m.mode = to
	for _, fn := range m.listeners {
		fn(from, to)
	}
}
