package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/grid"
	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/session"
	"github.com/HypocriteSnow/UandUTDD/internal/storage"
	"github.com/HypocriteSnow/UandUTDD/internal/vec"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arenaYAML = `
name: arena
map_width: 6
map_depth: 4
cell_size: 2
default_tile_type: Ground
goal_point: {x: 5, z: 2}
spawn_points:
  - {x: 0, z: 1}
special_tiles:
  - {x: 2, z: 2, tile_type: Forbidden, walkable: false}
  - {x: 3, z: 1, tile_type: HighGround, height_level: 1}
`

type testEnv struct {
	srv    *Server
	sess   *session.Session
	store  *storage.LevelStore
	shared *fakeShared
}

// fakeShared запоминает сброшенные уровни общего кеша
type fakeShared struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeShared) Invalidate(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, name)
	return nil
}

func (f *fakeShared) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

// newTestEnv поднимает сессию с загруженным уровнем arena и сервер поверх неё
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sess := session.New(session.Options{TickInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	store, err := storage.NewLevelStore("", storage.Options{InMemory: true})
	require.NoError(t, err)
	levels, err := level.NewRegistry(store, 16)
	require.NoError(t, err)

	cfg, err := level.Parse([]byte(arenaYAML))
	require.NoError(t, err)
	require.NoError(t, sess.Reload(context.Background(), cfg))

	shared := &fakeShared{}
	reg := prometheus.NewRegistry()
	srv := NewServer(Config{
		Session:    sess,
		Levels:     levels,
		Store:      store,
		Shared:     shared,
		Registerer: reg,
		Gatherer:   reg,
	})

	t.Cleanup(func() {
		srv.Hub().Close()
		cancel()
		<-done
		levels.Close()
		store.Close()
	})
	return &testEnv{srv: srv, sess: sess, store: store, shared: shared}
}

func (e *testEnv) request(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var resp GenericResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

// decodeData перекладывает поле data ответа в out
func decodeData(t *testing.T, resp GenericResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t)

	env.request(t, http.MethodGet, "/api/grid", "")
	rec, _ := env.request(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "debug_api_http_request_duration_seconds")
}

func TestServer_GridSummary(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.request(t, http.MethodGet, "/api/grid", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum GridSummary
	decodeData(t, resp, &sum)
	assert.Equal(t, "arena", sum.Name)
	assert.True(t, sum.Initialized)
	assert.Equal(t, 6, sum.Width)
	assert.Equal(t, 4, sum.Depth)
	assert.Equal(t, 2.0, sum.CellSize)
	require.NotNil(t, sum.Goal)
	assert.Equal(t, vec.Cell{X: 5, Z: 2}, *sum.Goal)
	assert.Equal(t, []vec.Cell{{X: 0, Z: 1}}, sum.Spawns)
	assert.Equal(t, uint64(1), sum.Generation)

	rec, resp = env.request(t, http.MethodGet, "/api/grid/tiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tiles []grid.TileInfo
	decodeData(t, resp, &tiles)
	assert.Len(t, tiles, 24)
}

func TestServer_GetTile(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.request(t, http.MethodGet, "/api/tiles/3/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info grid.TileInfo
	decodeData(t, resp, &info)
	assert.Equal(t, terrain.HighGround, info.Type)
	assert.Equal(t, 1, info.HeightLevel)
	assert.True(t, info.Deployable)

	rec, _ = env.request(t, http.MethodGet, "/api/tiles/6/0", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.request(t, http.MethodGet, "/api/tiles/a/0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Pick(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.request(t, http.MethodGet, "/api/pick?x=6.4&z=1.9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var pick PickResponse
	decodeData(t, resp, &pick)
	assert.Equal(t, vec.Cell{X: 3, Z: 1}, pick.Cell)
	assert.True(t, pick.Valid)
	require.NotNil(t, pick.Tile)
	assert.Equal(t, terrain.HighGround, pick.Tile.Type)
	assert.Equal(t, vec.Vec3{X: 6, Y: 2, Z: 2}, pick.World, "высота в единицах cell_size")

	// За пределами карты клетка возвращается как есть, без плитки
	rec, resp = env.request(t, http.MethodGet, "/api/pick?x=-50&z=100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pick = PickResponse{}
	decodeData(t, resp, &pick)
	assert.Equal(t, vec.Cell{X: -25, Z: 50}, pick.Cell)
	assert.False(t, pick.Valid)
	assert.Nil(t, pick.Tile)

	rec, _ = env.request(t, http.MethodGet, "/api/pick?x=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Occupier(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.request(t, http.MethodPut, "/api/tiles/1/1/occupier", `{"occupier":"tower-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var info grid.TileInfo
	decodeData(t, resp, &info)
	assert.Equal(t, grid.Occupant("tower-1"), info.Occupier)
	assert.False(t, info.Deployable)

	_, resp = env.request(t, http.MethodGet, "/api/grid", "")
	var sum GridSummary
	decodeData(t, resp, &sum)
	assert.Equal(t, 1, sum.Occupied)

	rec, resp = env.request(t, http.MethodDelete, "/api/tiles/1/1/occupier", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info = grid.TileInfo{}
	decodeData(t, resp, &info)
	assert.Empty(t, info.Occupier)
	assert.True(t, info.Deployable)

	rec, _ = env.request(t, http.MethodPut, "/api/tiles/9/9/occupier", `{"occupier":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.request(t, http.MethodPut, "/api/tiles/1/1/occupier", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SetTileType(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.request(t, http.MethodPut, "/api/tiles/4/0/type", `{"type":"Hole"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var info grid.TileInfo
	decodeData(t, resp, &info)
	assert.Equal(t, terrain.Hole, info.Type)
	assert.False(t, info.Deployable)

	rec, _ = env.request(t, http.MethodPut, "/api/tiles/5/2/type", `{"type":"Forbidden"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "цель должна остаться проходимой")

	rec, _ = env.request(t, http.MethodPut, "/api/tiles/4/0/type", `{"type":"Lava"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ValidateLevel(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.request(t, http.MethodPost, "/api/level/validate", arenaYAML)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	broken := "map_width: 4\nmap_depth: 4\ncell_size: 1\ngoal_point: {x: 9, z: 9}\n"
	rec, resp = env.request(t, http.MethodPost, "/api/level/validate", broken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.Success)
	var report level.Report
	decodeData(t, resp, &report)
	assert.NotEmpty(t, report.Errors)

	rec, _ = env.request(t, http.MethodPost, "/api/level/validate", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ReloadLevel(t *testing.T) {
	env := newTestEnv(t)

	next := strings.Replace(arenaYAML, "map_width: 6", "map_width: 8", 1)
	rec, _ := env.request(t, http.MethodPost, "/api/level/reload", next)
	require.Equal(t, http.StatusOK, rec.Code)

	_, resp := env.request(t, http.MethodGet, "/api/grid", "")
	var sum GridSummary
	decodeData(t, resp, &sum)
	assert.Equal(t, 8, sum.Width)
	assert.Equal(t, uint64(2), sum.Generation)

	// Неверный уровень отклоняется, прежняя сетка сохраняется
	broken := "map_width: 4\nmap_depth: 4\ncell_size: 1\ngoal_point: {x: 9, z: 9}\n"
	rec, resp = env.request(t, http.MethodPost, "/api/level/reload", broken)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, resp.Success)

	_, resp = env.request(t, http.MethodGet, "/api/grid", "")
	decodeData(t, resp, &sum)
	assert.Equal(t, 8, sum.Width)
}

func TestServer_ReloadStoredLevel(t *testing.T) {
	env := newTestEnv(t)

	gen, err := level.NewGenerator(7).Generate(12, 6, 1.0)
	require.NoError(t, err)
	require.NoError(t, env.store.SaveLevel("generated", gen))

	rec, _ := env.request(t, http.MethodPost, "/api/level/reload?name=generated", "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, resp := env.request(t, http.MethodGet, "/api/grid", "")
	var sum GridSummary
	decodeData(t, resp, &sum)
	assert.Equal(t, 12, sum.Width)
	assert.Equal(t, 6, sum.Depth)

	rec, _ = env.request(t, http.MethodPost, "/api/level/reload?name=missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_LevelStore(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.request(t, http.MethodPut, "/api/levels/arena", arenaYAML)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := env.request(t, http.MethodGet, "/api/levels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []storage.LevelInfo
	decodeData(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "arena", list[0].Name)

	rec, _ = env.request(t, http.MethodGet, "/api/levels/arena", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"map_width":6`)

	broken := "map_width: 0\n"
	rec, _ = env.request(t, http.MethodPut, "/api/levels/broken", broken)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = env.request(t, http.MethodDelete, "/api/levels/arena", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.request(t, http.MethodGet, "/api/levels/arena", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, []string{"arena", "arena"}, env.shared.Keys(), "сохранение и удаление сбрасывают общий кеш")
}

func TestServer_PauseResume(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.request(t, http.MethodPost, "/api/session/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.sess.Paused())

	rec, _ = env.request(t, http.MethodPost, "/api/session/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.sess.Paused())
}

func TestServer_OccupancyStream(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/occupancy"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Type string   `json:"type"`
		Data Snapshot `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, string(KindSnapshot), first.Type)
	assert.Equal(t, "arena", first.Data.Summary.Name)
	assert.Len(t, first.Data.Tiles, 24)

	require.Eventually(t, func() bool { return env.srv.Hub().Clients() == 1 }, time.Second, 10*time.Millisecond)

	rec, _ := env.request(t, http.MethodPut, "/api/tiles/1/2/occupier", `{"occupier":"unit-7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var changed struct {
		Type string            `json:"type"`
		Data grid.GridChanged `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&changed))
	assert.Equal(t, string(grid.KindGridChanged), changed.Type)
	assert.Equal(t, grid.GridChanged{X: 1, Z: 2, Occupier: "unit-7"}, changed.Data)

	var flip struct {
		Type string                     `json:"type"`
		Data grid.TileDeployableChanged `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&flip))
	assert.Equal(t, string(grid.KindTileDeployableChanged), flip.Type)
	assert.False(t, flip.Data.IsDeployable)
}
