package editor

import (
	"testing"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialModeIsView(t *testing.T) {
	m := NewMachine(nil)
	assert.Equal(t, ModeView, m.Mode())
	assert.Equal(t, "view", m.Mode().String())
}

func TestSingleSelectionModes(t *testing.T) {
	m := NewMachine(nil)
	for _, mode := range []Mode{ModeModify, ModeSplit, ModeTranslate} {
		assert.False(t, m.Enabled(mode), mode.String())
		err := m.SetMode(mode)
		require.Error(t, err)
		assert.True(t, methods.IsValidation(err))
		assert.Equal(t, ModeView, m.Mode())
	}

	m.SelectShapes("a", "b")
	assert.False(t, m.Enabled(ModeSplit))

	m.SelectShapes("a")
	require.NoError(t, m.SetMode(ModeSplit))
	assert.Equal(t, ModeSplit, m.Mode())
}

func TestSelectionChangeLeavesSingleSelectionMode(t *testing.T) {
	m := NewMachine(nil)
	m.SelectShapes("a")
	require.NoError(t, m.SetMode(ModeModify))

	m.ToggleShape("b")
	assert.Equal(t, ModeView, m.Mode())
	assert.Equal(t, []string{"a", "b"}, m.Selected())
}

func TestEscapeResetsEverything(t *testing.T) {
	escaped := 0
	m := NewMachine(map[Mode]Strategy{
		ModeModify: {OnEscape: func() { escaped++ }},
	})
	m.SelectShapes("a")
	require.NoError(t, m.SetMode(ModeModify))
	m.SetFeatureIndexes([]int{0})
	m.SetMetadataTarget("a")

	require.NoError(t, m.HandleKey(KeyEscape))
	assert.Equal(t, 1, escaped)
	assert.Equal(t, ModeView, m.Mode())
	assert.Empty(t, m.Selected())
	assert.Empty(t, m.FeatureIndexes())
	assert.Empty(t, m.MetadataTarget())
}

func TestLeavingModeClearsEditContext(t *testing.T) {
	m := NewMachine(nil)
	require.NoError(t, m.SetMode(ModeEdit))
	m.SetFeatureIndexes([]int{2})
	m.SetMetadataTarget("new")

	require.NoError(t, m.SetMode(ModeLassoDraw))
	assert.Empty(t, m.FeatureIndexes())
	assert.Empty(t, m.MetadataTarget())
}

func TestKeyBindings(t *testing.T) {
	m := NewMachine(nil)
	m.SelectShapes("a")
	cases := map[string]Mode{
		"e": ModeEdit,
		"m": ModeModify,
		"s": ModeSplit,
		"l": ModeLassoDraw,
		"i": ModeDrawIsochrone,
		"t": ModeTranslate,
		"r": ModeDrawPolygonFromRoute,
		"x": ModeMultiSelect,
		"v": ModeView,
	}
	for key, want := range cases {
		require.NoError(t, m.HandleKey(key), key)
		assert.Equal(t, want, m.Mode(), key)
	}
	require.NoError(t, m.HandleKey("q"))
}

func TestDispatchByMode(t *testing.T) {
	var got []string
	m := NewMachine(map[Mode]Strategy{
		ModeView: {OnClick: func(orb.Point) { got = append(got, "view-click") }},
		ModeEdit: {
			OnClick:       func(orb.Point) { got = append(got, "edit-click") },
			OnDoubleClick: func(orb.Point) { got = append(got, "edit-finish") },
		},
	})
	m.Click(orb.Point{0, 0})
	require.NoError(t, m.SetMode(ModeEdit))
	m.Click(orb.Point{1, 1})
	m.DoubleClick(orb.Point{1, 1})
	m.Drag(DragEvent{})

	assert.Equal(t, []string{"view-click", "edit-click", "edit-finish"}, got)
}

func TestModeChangeListener(t *testing.T) {
	m := NewMachine(nil)
	var changes [][2]Mode
	m.OnModeChange(func(from, to Mode) { changes = append(changes, [2]Mode{from, to}) })

	require.NoError(t, m.SetMode(ModeEdit))
	require.NoError(t, m.SetMode(ModeEdit))
	m.Escape()

	assert.Equal(t, [][2]Mode{{ModeView, ModeEdit}, {ModeEdit, ModeView}}, changes)
}
