package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beetlebugorg/tilestack/internal/gpkg"
	"github.com/beetlebugorg/tilestack/pkg/catalog"
	"github.com/beetlebugorg/tilestack/pkg/coverage"
	"github.com/beetlebugorg/tilestack/pkg/elevation"
	"github.com/beetlebugorg/tilestack/pkg/logger"
	"github.com/beetlebugorg/tilestack/pkg/mosaic"
	"github.com/beetlebugorg/tilestack/pkg/tiles"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func spec(cov *coverage.GriddedCoverage) gpkg.Spec {
	return gpkg.Spec{
		Table:  "dem",
		SRID:   tiles.SRIDWGS84,
		Extent: gpkg.Extent{MinX: 7, MinY: 46, MaxX: 8, MaxY: 47},
		Levels: []tiles.ZoomLevel{
			{Level: 0, Resolution: 1.0 / 16, TileWidth: 16, TileHeight: 16, GridWidth: 1, GridHeight: 1, OriginX: 7, OriginY: 47},
		},
		Coverage: cov,
	}
}

func writeDEM(t *testing.T, path string, height float64) string {
	t.Helper()
	ctx := context.Background()

	cov := coverage.DefaultCoverage(coverage.DatatypeInteger)
	c, err := gpkg.Create(ctx, path, spec(&cov))
	require.NoError(t, err)

	tile := coverage.NewTile(16, 16)
	for i := range tile.Values {
		tile.Values[i] = height
	}
	require.NoError(t, coverage.WriteTile(ctx, c, 0, 0, 0, tile))
	require.NoError(t, c.Dispose())
	return path
}

type testServer struct {
	router  *gin.Engine
	catalog *catalog.Catalog
	dir     string
}

func newTestServer(t *testing.T, withLayer bool) *testServer {
	t.Helper()
	ctx := context.Background()

	store, err := catalog.OpenBadgerStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := tiles.NewRegistry(nil)
	reg.Register(gpkg.NewProvider())
	mgr := elevation.NewManager(nil)

	cat, err := catalog.New(ctx, catalog.Options{
		Store:    store,
		Registry: reg,
		Manager:  mgr,
		Workers:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	var layer *mosaic.Layer
	if withLayer {
		layer = mosaic.NewLayer(mosaic.ManagerFrameQuery(mgr), mosaic.ContainerFactory(reg, tiles.OpenOptions{}), mosaic.Config{
			Workers:      2,
			PollInterval: 10 * time.Millisecond,
		})
		layer.Start()
		t.Cleanup(func() { _ = layer.Close() })
	}

	h := NewHandler(cat, mgr, layer, validator.New())
	return &testServer{
		router:  NewRouter(h, logger.Nop(), false),
		catalog: cat,
		dir:     t.TempDir(),
	}
}

func (s *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodGet, "/api/v1/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestAddSource(t *testing.T) {
	s := newTestServer(t, false)
	path := writeDEM(t, filepath.Join(s.dir, "alps.gpkg"), 1200)

	w := s.do(t, http.MethodPost, "/api/v1/sources", map[string]any{"path": path})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decode[sourceView](t, w)
	assert.True(t, added.Success)
	assert.Equal(t, path, added.Data.Path)
	assert.Equal(t, "dem", added.Data.Name)
	assert.Equal(t, []int{0}, added.Data.Levels)

	w = s.do(t, http.MethodPost, "/api/v1/sources", map[string]any{"path": path})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "source unchanged", decode[sourceView](t, w).Message)

	txt := filepath.Join(s.dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("not tiles"), 0o644))
	w = s.do(t, http.MethodPost, "/api/v1/sources", map[string]any{"path": txt})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unrecognized format", decode[any](t, w).Message)

	w = s.do(t, http.MethodGet, "/api/v1/sources", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]sourceView](t, w)
	require.Len(t, list.Data, 1)
	assert.Equal(t, path, list.Data[0].Path)
}

func TestAddSourceRejectsImagery(t *testing.T) {
	s := newTestServer(t, false)
	path := filepath.Join(s.dir, "ortho.gpkg")
	c, err := gpkg.Create(context.Background(), path, spec(nil))
	require.NoError(t, err)
	require.NoError(t, c.Dispose())

	w := s.do(t, http.MethodPost, "/api/v1/sources", map[string]any{"path": path})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.False(t, decode[any](t, w).Success)
	assert.Empty(t, s.catalog.Sources())
}

func TestAddSourceValidation(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/v1/sources", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sources", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScanDirectory(t *testing.T) {
	s := newTestServer(t, false)
	writeDEM(t, filepath.Join(s.dir, "a.gpkg"), 100)
	writeDEM(t, filepath.Join(s.dir, "b.gpkg"), 200)

	w := s.do(t, http.MethodPost, "/api/v1/sources", map[string]any{"path": s.dir, "scan": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[catalog.AddDirReport](t, w)
	assert.Equal(t, catalog.AddDirReport{Added: 2}, report.Data)
	assert.Len(t, s.catalog.Sources(), 2)

	w = s.do(t, http.MethodPost, "/api/v1/sources", map[string]any{"path": filepath.Join(s.dir, "missing"), "scan": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRemoveSource(t *testing.T) {
	s := newTestServer(t, false)
	path := writeDEM(t, filepath.Join(s.dir, "alps.gpkg"), 1200)
	_, err := s.catalog.Add(context.Background(), path)
	require.NoError(t, err)

	target := "/api/v1/sources?path=" + url.QueryEscape(path)
	w := s.do(t, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, s.catalog.Sources())

	w = s.do(t, http.MethodDelete, target, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/sources", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestElevation(t *testing.T) {
	s := newTestServer(t, false)
	path := writeDEM(t, filepath.Join(s.dir, "alps.gpkg"), 1200)
	_, err := s.catalog.Add(context.Background(), path)
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/v1/elevation?lat=46.5&lon=7.5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[elevationResponse](t, w)
	assert.InDelta(t, 1200, res.Data.Elevation, 1e-9)
	assert.Equal(t, path, res.Data.Source)

	w = s.do(t, http.MethodGet, "/api/v1/elevation?lat=10&lon=10", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	for _, q := range []string{"lat=100&lon=7.5", "lon=7.5", "lat=46.5&lon=7.5&maxres=-1", "lat=abc&lon=1"} {
		w = s.do(t, http.MethodGet, "/api/v1/elevation?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestTile(t *testing.T) {
	s := newTestServer(t, false)
	path := writeDEM(t, filepath.Join(s.dir, "alps.gpkg"), 1200)
	_, err := s.catalog.Add(context.Background(), path)
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/v1/tiles/dem/0/0/0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Tile-Scale"))
	assert.NotEmpty(t, w.Body.Bytes())

	w = s.do(t, http.MethodGet, "/api/v1/tiles/dem/0/3/3", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/tiles/nope/0/0/0", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/tiles/dem/0/x/0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreload(t *testing.T) {
	s := newTestServer(t, true)
	path := writeDEM(t, filepath.Join(s.dir, "alps.gpkg"), 1200)
	_, err := s.catalog.Add(context.Background(), path)
	require.NoError(t, err)

	body := map[string]any{"min_lon": 7.2, "min_lat": 46.2, "max_lon": 7.4, "max_lat": 46.4}
	w := s.do(t, http.MethodPost, "/api/v1/mosaic/preload", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[preloadResponse](t, w)
	assert.Equal(t, 1, res.Data.Requested)
	assert.Equal(t, []string{path}, res.Data.Resident)

	w = s.do(t, http.MethodPost, "/api/v1/mosaic/preload", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[preloadResponse](t, w).Data.Requested)

	bad := map[string]any{"min_lon": 8, "min_lat": 46, "max_lon": 7, "max_lat": 47}
	w = s.do(t, http.MethodPost, "/api/v1/mosaic/preload", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreloadDisabled(t *testing.T) {
	s := newTestServer(t, false)
	body := map[string]any{"min_lon": 7, "min_lat": 46, "max_lon": 8, "max_lat": 47}
	w := s.do(t, http.MethodPost, "/api/v1/mosaic/preload", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
