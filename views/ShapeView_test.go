package views_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GrainArc/FenceMap/config"
	"github.com/GrainArc/FenceMap/models"
	"github.com/GrainArc/FenceMap/routers"
	"github.com/GrainArc/FenceMap/tile_proxy"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.SqlitePath = ":memory:"
	cfg.LogLevel = "error"
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := models.InitDB(cfg, log)
	require.NoError(t, err)
	srv := httptest.NewServer(routers.NewEngine(cfg, db, log))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func square(minX, minY, size float64) *geojson.Feature {
	return geojson.NewFeature(orb.Polygon{{
		{minX, minY}, {minX + size, minY}, {minX + size, minY + size}, {minX, minY + size}, {minX, minY},
	}})
}

func TestShapeCRUD(t *testing.T) {
	srv := newTestServer(t)

	var created models.Shape
	status := doJSON(t, http.MethodPost, srv.URL+"/api/shapes", models.Shape{Name: "field", Geometry: square(0, 0, 1)}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created.UUID)
	assert.Equal(t, "field", created.Name)
	assert.NotZero(t, created.NamespaceID)
	assert.Equal(t, created.UUID, created.Geometry.Properties["id"])

	var got models.Shape
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/shapes/"+created.UUID, nil, &got))
	assert.Equal(t, created.UUID, got.UUID)
	assert.IsType(t, orb.Polygon{}, got.Geom())

	name := "renamed"
	var updated models.Shape
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPatch, srv.URL+"/api/shapes/"+created.UUID, models.ShapePatch{Name: &name}, &updated))
	assert.Equal(t, "renamed", updated.Name)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	deleted := true
	var soft models.Shape
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPatch, srv.URL+"/api/shapes/"+created.UUID, models.ShapePatch{Deleted: &deleted}, &soft))
	assert.True(t, soft.Deleted)
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/api/shapes/"+created.UUID, nil, nil))

	restored := false
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPatch, srv.URL+"/api/shapes/"+created.UUID, models.ShapePatch{Deleted: &restored}, nil))
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/shapes/"+created.UUID, nil, nil))
}

func TestCreateRejectsSelfIntersection(t *testing.T) {
	srv := newTestServer(t)
	bowtie := geojson.NewFeature(orb.Polygon{{{0, 0}, {1, 1}, {1, 0}, {0, 1}, {0, 0}}})
	status := doJSON(t, http.MethodPost, srv.URL+"/api/shapes", models.Shape{Name: "bad", Geometry: bowtie}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	line := geojson.NewFeature(orb.LineString{{0, 0}, {1, 1}})
	status = doJSON(t, http.MethodPost, srv.URL+"/api/shapes", models.Shape{Name: "bad", Geometry: line}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestBulkCreateAndDelete(t *testing.T) {
	srv := newTestServer(t)

	var created []models.Shape
	body := map[string]any{"shapes": []models.Shape{
		{Name: "a", Geometry: square(0, 0, 1)},
		{Name: "b", Geometry: square(2, 0, 1)},
	}}
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/api/shapes/bulk-create", body, &created))
	require.Len(t, created, 2)

	var namespaces []models.Namespace
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/namespaces?namespace=default", nil, &namespaces))
	require.Len(t, namespaces, 1)
	assert.Len(t, namespaces[0].Shapes, 2)

	var result struct {
		Count int `json:"count"`
	}
	uuids := []string{created[0].UUID, created[1].UUID, "missing"}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/api/shapes/bulk-delete", map[string]any{"uuids": uuids}, &result))
	assert.Equal(t, 2, result.Count)

	var after []models.Namespace
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/namespaces?namespace=default", nil, &after))
	require.Len(t, after, 1)
	assert.Empty(t, after[0].Shapes)
}

func TestCreateNamespace(t *testing.T) {
	srv := newTestServer(t)

	var ns models.Namespace
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/api/namespaces", models.Namespace{Name: "Farm", Slug: "farm"}, &ns))
	assert.NotZero(t, ns.ID)
	assert.False(t, ns.IsDefault)

	var shape models.Shape
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/api/shapes", models.Shape{Name: "x", Geometry: square(0, 0, 1), NamespaceID: ns.ID}, &shape))
	assert.Equal(t, ns.ID, shape.NamespaceID)

	status := doJSON(t, http.MethodPost, srv.URL+"/api/shapes", models.Shape{Name: "x", Geometry: square(0, 0, 1), NamespaceID: 999}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var all []models.Namespace
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/api/namespaces", nil, &all))
	assert.Len(t, all, 2)
}

func TestOutMVTInvalidatedOnWrite(t *testing.T) {
	srv := newTestServer(t)
	tileURL := srv.URL + "/tiles/default/1/1/0.pbf"

	resp, err := http.Get(tileURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var created models.Shape
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/api/shapes", models.Shape{Name: "field", Geometry: square(10, 10, 1)}, &created))

	resp, err = http.Get(tileURL)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	features, err := tile_proxy.DecodeTile(data, tile_proxy.TileKey{X: 1, Y: 0, Z: 1})
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, created.UUID, features[0].Properties["id"])

	deleted := true
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPatch, srv.URL+"/api/shapes/"+created.UUID, models.ShapePatch{Deleted: &deleted}, nil))

	resp, err = http.Get(tileURL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestOutMVTUnknownNamespace(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/tiles/nope/0/0/0.pbf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOutMVTOutOfRange(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/tiles/default/1/5/0.pbf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
