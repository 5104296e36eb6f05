package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/GrainArc/FenceMap/methods"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/optimistic"
	"github.com/GrainArc/FenceMap/undolog"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) CreateShape(ctx context.Context, shape models.Shape) (models.Shape, error) {
	args := m.Called(ctx, shape)
	return args.Get(0).(models.Shape), args.Error(1)
}

func (m *mockAPI) UpdateShape(ctx context.Context, id string, patch models.ShapePatch) (models.Shape, error) {
	args := m.Called(ctx, id, patch)
	return args.Get(0).(models.Shape), args.Error(1)
}

func (m *mockAPI) BulkDelete(ctx context.Context, ids []string) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}

func (m *mockAPI) BulkCreate(ctx context.Context, shapes []models.Shape) ([]models.Shape, error) {
	args := m.Called(ctx, shapes)
	return args.Get(0).([]models.Shape), args.Error(1)
}

type memSource struct {
	shapes []models.Shape
}

func (s *memSource) Shapes() []models.Shape { return s.shapes }

func (s *memSource) Shape(id string) (models.Shape, bool) {
	for _, sh := range s.shapes {
		if sh.UUID == id {
			return sh, true
		}
	}
	return models.Shape{}, false
}

type memSelection struct {
	selected []string
	target   string
	cleared  int
}

func (s *memSelection) Selected() []string          { return s.selected }
func (s *memSelection) ClearSelection()             { s.selected = nil; s.cleared++ }
func (s *memSelection) SetMetadataTarget(id string) { s.target = id }

func rect(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

func stored(id string, poly orb.Geometry) models.Shape {
	f := geojson.NewFeature(poly)
	f.Properties["id"] = id
	return models.Shape{UUID: id, Name: "shape-" + id, Geometry: f, NamespaceID: 1, UpdatedAt: time.Now()}
}

type fixture struct {
	api       *mockAPI
	source    *memSource
	selection *memSelection
	store     *optimistic.Store
	log       *undolog.Log
	changes   []Change
	p         *Pipeline
}

func newFixture(opts Options, shapes ...models.Shape) *fixture {
	f := &fixture{
		api:       &mockAPI{},
		source:    &memSource{shapes: shapes},
		selection: &memSelection{},
		store:     optimistic.NewStore(),
		log:       undolog.New(undolog.DefaultCapacity),
	}
	f.p = New(f.api, f.source, f.selection, f.store, f.log, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.p.OnChange(func(c Change) { f.changes = append(f.changes, c) })
	return f
}

func TestAddFeatureInsideExistingIsRejected(t *testing.T) {
	fx := newFixture(Options{DenyOverlap: true}, stored("a", rect(0, 0, 10, 10)))

	err := fx.p.Handle(context.Background(), EditEvent{
		EditType: EditAddFeature,
		Features: []*geojson.Feature{geojson.NewFeature(rect(2, 2, 4, 4))},
	})
	require.Error(t, err)
	assert.True(t, methods.IsValidation(err))
	fx.api.AssertNotCalled(t, "CreateShape", mock.Anything, mock.Anything)
	assert.Empty(t, fx.store.State().OptimisticShapes)
	assert.Equal(t, 0, fx.log.Len())
}

func TestAddFeatureSubtractsOverlap(t *testing.T) {
	fx := newFixture(Options{DenyOverlap: true, NamespaceID: 1, DefaultName: "new"}, stored("a", rect(0, 0, 10, 10)))

	var sent models.Shape
	fx.api.On("CreateShape", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(models.Shape) }).
		Return(stored("srv", rect(10, 0, 15, 10)), nil).Once()

	created, err := fx.p.AddFeature(context.Background(), geojson.NewFeature(rect(5, 0, 15, 10)))
	require.NoError(t, err)
	assert.Equal(t, "srv", created.UUID)

	assert.Empty(t, sent.UUID)
	assert.Equal(t, "new", sent.Name)
	assert.InDelta(t, 50.0, methods.Area(sent.Geom()), 1e-6)
	b := sent.Geom().Bound()
	assert.InDelta(t, 10.0, b.Min[0], 1e-9)

	st := fx.store.State()
	require.Len(t, st.OptimisticShapes, 1)
	assert.Equal(t, "srv", st.OptimisticShapes[0].UUID)
	require.Len(t, fx.changes, 1)
	assert.Equal(t, undolog.OpCreate, fx.changes[0].Op)
	assert.Equal(t, 1, fx.log.Len())
	fx.api.AssertExpectations(t)
}

func TestAddFeatureWithoutDenialKeepsOverlap(t *testing.T) {
	fx := newFixture(Options{DenyOverlap: false}, stored("a", rect(0, 0, 10, 10)))
	fx.api.On("CreateShape", mock.Anything, mock.Anything).Return(stored("srv", rect(2, 2, 4, 4)), nil).Once()

	_, err := fx.p.AddFeature(context.Background(), geojson.NewFeature(rect(2, 2, 4, 4)))
	require.NoError(t, err)
	fx.api.AssertExpectations(t)
}

func TestAddFeatureKinkKeepsFirstFragment(t *testing.T) {
	fx := newFixture(Options{DenyOverlap: true})
	bowtie := orb.Polygon{{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}}

	var sent models.Shape
	fx.api.On("CreateShape", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(models.Shape) }).
		Return(stored("srv", rect(0, 0, 1, 1)), nil).Once()

	_, err := fx.p.AddFeature(context.Background(), geojson.NewFeature(bowtie))
	require.NoError(t, err)

	poly, ok := sent.Geom().(orb.Polygon)
	require.True(t, ok)
	assert.True(t, methods.IsSimple(poly))
	assert.InDelta(t, 1.0, methods.Area(poly), 1e-9)
}

func TestAddFeatureAroundExistingKeepsHole(t *testing.T) {
	diamond := orb.Polygon{{{2, 0}, {3, 1}, {2, 2}, {1, 1}, {2, 0}}}
	fx := newFixture(Options{DenyOverlap: true}, stored("a", diamond))

	var sent models.Shape
	fx.api.On("CreateShape", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).(models.Shape) }).
		Return(stored("srv", rect(0, 0, 4, 4)), nil).Once()

	_, err := fx.p.AddFeature(context.Background(), geojson.NewFeature(rect(0, 0, 4, 4)))
	require.NoError(t, err)

	poly, ok := sent.Geom().(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly, 2)
	assert.InDelta(t, 14.0, methods.Area(poly), 1e-9)
	assert.InDelta(t, 0.0, methods.Area(methods.Intersection(poly, diamond)), 1e-9)
	fx.api.AssertExpectations(t)
}

func TestAddFeatureFailureRecordsError(t *testing.T) {
	fx := newFixture(Options{})
	boom := methods.NetworkError().Errorf("boom")
	fx.api.On("CreateShape", mock.Anything, mock.Anything).Return(models.Shape{}, boom).Once()

	_, err := fx.p.AddFeature(context.Background(), geojson.NewFeature(rect(0, 0, 1, 1)))
	require.Error(t, err)
	assert.True(t, methods.IsNetwork(err))

	st := fx.store.State()
	assert.False(t, st.Loading)
	assert.Error(t, st.Err)
	assert.Len(t, st.OptimisticShapes, 1)
	assert.Empty(t, fx.changes)
}

func TestAddFeatureSetsMetadataTarget(t *testing.T) {
	fx := newFixture(Options{EditMetadataOnCreate: true})
	fx.api.On("CreateShape", mock.Anything, mock.Anything).Return(stored("srv", rect(0, 0, 1, 1)), nil).Once()

	_, err := fx.p.AddFeature(context.Background(), geojson.NewFeature(rect(0, 0, 1, 1)))
	require.NoError(t, err)
	assert.Equal(t, "srv", fx.selection.target)
}

func TestSplitRequiresSingleSelection(t *testing.T) {
	fx := newFixture(Options{}, stored("a", rect(0, 0, 1, 1)), stored("b", rect(2, 0, 3, 1)))
	fx.selection.selected = []string{"a", "b"}

	cut := orb.MultiPolygon{rect(0, 0, 0.4, 1), rect(0.6, 0, 1, 1)}
	_, err := fx.p.Split(context.Background(), cut)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSplitSelection)
	assert.True(t, methods.IsValidation(err))
	fx.api.AssertNotCalled(t, "CreateShape", mock.Anything, mock.Anything)
	fx.api.AssertNotCalled(t, "UpdateShape", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []string{"a", "b"}, fx.selection.selected)
}

func TestSplitCreatesPartsAndDeletesOriginal(t *testing.T) {
	original := stored("a", rect(0, 0, 1, 1))
	fx := newFixture(Options{}, original)
	fx.selection.selected = []string{"a"}

	var names []string
	fx.api.On("CreateShape", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { names = append(names, args.Get(1).(models.Shape).Name) }).
		Return(stored("p1", rect(0, 0, 0.4, 1)), nil).Once()
	fx.api.On("CreateShape", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { names = append(names, args.Get(1).(models.Shape).Name) }).
		Return(stored("p2", rect(0.6, 0, 1, 1)), nil).Once()
	fx.api.On("UpdateShape", mock.Anything, "a", mock.MatchedBy(func(p models.ShapePatch) bool {
		return p.Deleted != nil && *p.Deleted
	})).Return(original, nil).Once()

	cut := orb.MultiPolygon{rect(0, 0, 0.4, 1), rect(0.6, 0, 1, 1)}
	created, err := fx.p.Split(context.Background(), cut)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, []string{"shape-a", "shape-a"}, names)
	assert.Empty(t, fx.selection.selected)

	st := fx.store.State()
	assert.True(t, st.IsDeleted("a"))
	assert.Len(t, st.OptimisticShapes, 2)

	rec := fx.log.Records()
	require.Len(t, rec, 1)
	assert.Equal(t, undolog.OpSplit, rec[0].Op)
	fx.api.AssertExpectations(t)
}

func TestSplitPartialFailureStillDeletesOriginal(t *testing.T) {
	original := stored("a", rect(0, 0, 1, 1))
	fx := newFixture(Options{}, original)
	fx.selection.selected = []string{"a"}

	fx.api.On("CreateShape", mock.Anything, mock.Anything).Return(stored("p1", rect(0, 0, 0.4, 1)), nil).Once()
	fx.api.On("CreateShape", mock.Anything, mock.Anything).Return(models.Shape{}, methods.NetworkError().Errorf("down")).Once()
	fx.api.On("UpdateShape", mock.Anything, "a", mock.Anything).Return(original, nil).Once()

	created, err := fx.p.Split(context.Background(), orb.MultiPolygon{rect(0, 0, 0.4, 1), rect(0.6, 0, 1, 1)})
	require.Error(t, err)
	assert.True(t, methods.IsNetwork(err))
	assert.Len(t, created, 1)
	assert.Empty(t, fx.selection.selected)
	fx.api.AssertExpectations(t)
}

func TestSplitAllCreatesFailRecordsDeletion(t *testing.T) {
	original := stored("a", rect(0, 0, 1, 1))
	fx := newFixture(Options{}, original)
	fx.selection.selected = []string{"a"}

	fx.api.On("CreateShape", mock.Anything, mock.Anything).Return(models.Shape{}, methods.NetworkError().Errorf("down")).Twice()
	fx.api.On("UpdateShape", mock.Anything, "a", mock.MatchedBy(func(p models.ShapePatch) bool {
		return p.Deleted != nil && *p.Deleted
	})).Return(original, nil).Once()

	created, err := fx.p.Split(context.Background(), orb.MultiPolygon{rect(0, 0, 0.4, 1), rect(0.6, 0, 1, 1)})
	require.Error(t, err)
	assert.Empty(t, created)

	require.Len(t, fx.changes, 1)
	assert.Equal(t, undolog.OpSplit, fx.changes[0].Op)
	assert.Equal(t, []string{"a"}, fx.changes[0].UUIDs())
	require.Equal(t, 1, fx.log.Len())

	fx.api.On("UpdateShape", mock.Anything, "a", mock.MatchedBy(func(p models.ShapePatch) bool {
		return p.Deleted != nil && !*p.Deleted
	})).Return(original, nil).Once()
	_, err = fx.p.Undo(context.Background())
	require.NoError(t, err)
	fx.api.AssertNotCalled(t, "BulkDelete", mock.Anything, mock.Anything)
	fx.api.AssertExpectations(t)
}

func TestModifyFramesOnlyTouchWorkingGeometry(t *testing.T) {
	fx := newFixture(Options{}, stored("a", rect(0, 0, 1, 1)))
	fx.selection.selected = []string{"a"}
	moved := geojson.NewFeature(rect(0, 0, 2, 1))

	for _, et := range []EditType{EditMovePosition, EditTranslating} {
		require.NoError(t, fx.p.Handle(context.Background(), EditEvent{EditType: et, Features: []*geojson.Feature{moved}}))
	}
	require.NotNil(t, fx.p.Working())
	fx.api.AssertNotCalled(t, "UpdateShape", mock.Anything, mock.Anything, mock.Anything)

	fx.api.On("UpdateShape", mock.Anything, "a", mock.MatchedBy(func(p models.ShapePatch) bool {
		return p.Geometry != nil && p.Deleted == nil
	})).Return(stored("a", rect(0, 0, 2, 1)), nil).Once()
	require.NoError(t, fx.p.Handle(context.Background(), EditEvent{
		EditType:       EditFinishMovePosition,
		Features:       []*geojson.Feature{moved},
		FeatureIndexes: []int{0},
	}))
	assert.Nil(t, fx.p.Working())
	assert.True(t, fx.store.IsUpdated("a"))
	require.Len(t, fx.changes, 1)
	assert.Equal(t, undolog.OpUpdate, fx.changes[0].Op)
	fx.api.AssertExpectations(t)
}

func TestModifyRejectsSelfIntersection(t *testing.T) {
	fx := newFixture(Options{}, stored("a", rect(0, 0, 1, 1)))
	fx.selection.selected = []string{"a"}
	bowtie := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0, 0}}})

	err := fx.p.Handle(context.Background(), EditEvent{EditType: EditAddPosition, Features: []*geojson.Feature{bowtie}})
	require.Error(t, err)
	assert.True(t, methods.IsValidation(err))
	fx.api.AssertNotCalled(t, "UpdateShape", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteSelected(t *testing.T) {
	fx := newFixture(Options{}, stored("a", rect(0, 0, 1, 1)), stored("b", rect(2, 0, 3, 1)))
	fx.selection.selected = []string{"a", "b"}
	fx.api.On("BulkDelete", mock.Anything, []string{"a", "b"}).Return(2, nil).Once()

	n, err := fx.p.DeleteSelected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, fx.store.IsDeleted("a"))
	assert.True(t, fx.store.IsDeleted("b"))
	assert.Empty(t, fx.selection.selected)
	assert.Equal(t, 1, fx.log.Len())
}

func TestUndoRedoCreate(t *testing.T) {
	fx := newFixture(Options{})
	fx.api.On("CreateShape", mock.Anything, mock.Anything).Return(stored("srv", rect(0, 0, 1, 1)), nil).Once()
	_, err := fx.p.AddFeature(context.Background(), geojson.NewFeature(rect(0, 0, 1, 1)))
	require.NoError(t, err)

	fx.api.On("BulkDelete", mock.Anything, []string{"srv"}).Return(1, nil).Once()
	rec, err := fx.p.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, undolog.OpCreate, rec.Op)
	assert.Equal(t, 1, fx.log.RedoLen())

	fx.api.On("UpdateShape", mock.Anything, "srv", mock.MatchedBy(func(p models.ShapePatch) bool {
		return p.Deleted != nil && !*p.Deleted
	})).Return(stored("srv", rect(0, 0, 1, 1)), nil).Once()
	_, err = fx.p.Redo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fx.log.Len())
	assert.Len(t, fx.changes, 3)
	fx.api.AssertExpectations(t)

	_, err = fx.p.Redo(context.Background())
	assert.True(t, methods.IsValidation(err))
}

func TestFailedUndoKeepsRecord(t *testing.T) {
	fx := newFixture(Options{})
	fx.api.On("CreateShape", mock.Anything, mock.Anything).Return(stored("srv", rect(0, 0, 1, 1)), nil).Once()
	_, err := fx.p.AddFeature(context.Background(), geojson.NewFeature(rect(0, 0, 1, 1)))
	require.NoError(t, err)

	fx.api.On("BulkDelete", mock.Anything, []string{"srv"}).Return(0, methods.NetworkError().Errorf("down")).Once()
	_, err = fx.p.Undo(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, fx.log.Len())
	assert.Equal(t, 0, fx.log.RedoLen())

	fx.api.On("BulkDelete", mock.Anything, []string{"srv"}).Return(1, nil).Once()
	_, err = fx.p.Undo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fx.log.Len())
	assert.Equal(t, 1, fx.log.RedoLen())

	fx.api.On("UpdateShape", mock.Anything, "srv", mock.Anything).Return(models.Shape{}, methods.NetworkError().Errorf("down")).Once()
	_, err = fx.p.Redo(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, fx.log.RedoLen())
	fx.api.AssertExpectations(t)
}

func TestUndoWithoutLog(t *testing.T) {
	p := New(&mockAPI{}, &memSource{}, &memSelection{}, optimistic.NewStore(), nil, Options{}, nil)
	_, err := p.Undo(context.Background())
	assert.True(t, methods.IsValidation(err))
	_, err = p.Redo(context.Background())
	assert.True(t, methods.IsValidation(err))
}

func TestBulkCreate(t *testing.T) {
	fx := newFixture(Options{NamespaceID: 3})
	in := []models.Shape{
		{Name: "x", Geometry: geojson.NewFeature(rect(0, 0, 1, 1))},
		{Name: "y", Geometry: geojson.NewFeature(rect(2, 0, 3, 1))},
	}
	out := []models.Shape{stored("s1", rect(0, 0, 1, 1)), stored("s2", rect(2, 0, 3, 1))}
	fx.api.On("BulkCreate", mock.Anything, mock.MatchedBy(func(shapes []models.Shape) bool {
		return len(shapes) == 2 && shapes[0].NamespaceID == 3 && shapes[0].UUID == ""
	})).Return(out, nil).Once()

	created, err := fx.p.BulkCreate(context.Background(), in)
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.Len(t, fx.store.State().OptimisticShapes, 2)
	assert.Equal(t, undolog.OpBulkCreate, fx.log.Records()[0].Op)
}

func TestChangeUUIDs(t *testing.T) {
	c := Change{Before: []models.Shape{{UUID: "a"}}, After: []models.Shape{{UUID: "b"}, {UUID: "a"}}}
	assert.Equal(t, []string{"a", "b"}, c.UUIDs())
	assert.False(t, EditMovePosition.Persists())
	assert.True(t, EditSplit.Persists())
}
