// Package api - HTTP-интерфейс отладки сетки: просмотр клеток, поиск
// клетки по мировой позиции, переключение занятости, перезагрузка уровня,
// поток событий по WebSocket, /health и /metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/grid"
	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/HypocriteSnow/UandUTDD/internal/middleware"
	"github.com/HypocriteSnow/UandUTDD/internal/session"
	"github.com/HypocriteSnow/UandUTDD/internal/storage"
	"github.com/HypocriteSnow/UandUTDD/internal/vec"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// requestTimeout ограничивает ожидание команды в очереди сессии
const requestTimeout = 5 * time.Second

// maxLevelBody - предельный размер YAML уровня в теле запроса
const maxLevelBody = 1 << 20

// LevelInvalidator сбрасывает уровень в общем кеше после изменения
type LevelInvalidator interface {
	Invalidate(ctx context.Context, name string) error
}

// Server - REST API отладки сетки
type Server struct {
	router  *gin.Engine
	http    *http.Server
	sess    *session.Session
	levels  *level.Registry
	store   *storage.LevelStore
	shared  LevelInvalidator
	hub     *StreamHub
	metrics *ServerMetrics
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Addr       string                // адрес для запуска сервера, ":8088"
	Session    *session.Session      // сессия, владеющая сеткой
	Levels     *level.Registry       // кеш уровней для перезагрузки по имени (может быть nil)
	Store      *storage.LevelStore   // хранилище уровней (может быть nil)
	Shared     LevelInvalidator      // общий кеш других экземпляров (может быть nil)
	AccessLog  *logging.Logger       // логгер запросов; nil - глобальный
	Registerer prometheus.Registerer // регистр HTTP-метрик
	Gatherer   prometheus.Gatherer   // источник /metrics
}

// NewServer создает новый REST API сервер
func NewServer(config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":8088"
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("battlefield_api"))
	router.Use(middleware.NewRequestLogger("/metrics", "/health").WithLogger(config.AccessLog).Handler())

	promMw := middleware.NewPrometheusMiddleware("debug_api", config.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Gatherer)

	s := &Server{
		router:  router,
		sess:    config.Session,
		levels:  config.Levels,
		store:   config.Store,
		shared:  config.Shared,
		hub:     NewStreamHub(config.Session),
		metrics: NewServerMetrics(),
	}
	s.http = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub возвращает поток событий
func (s *Server) Hub() *StreamHub {
	return s.hub
}

// setupRoutes настраивает маршруты REST API
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/occupancy", s.hub.ServeWS)

	api := s.router.Group("/api")
	{
		api.GET("/grid", s.handleGrid)
		api.GET("/grid/tiles", s.handleTiles)
		api.GET("/pick", s.handlePick)

		api.GET("/tiles/:x/:z", s.handleTile)
		api.PUT("/tiles/:x/:z/occupier", s.handleSetOccupier)
		api.DELETE("/tiles/:x/:z/occupier", s.handleClearOccupier)
		api.PUT("/tiles/:x/:z/type", s.handleSetTileType)

		api.POST("/level/validate", s.handleValidateLevel)
		api.POST("/level/reload", s.handleReloadLevel)

		api.GET("/levels", s.handleListLevels)
		api.GET("/levels/:name", s.handleGetLevel)
		api.PUT("/levels/:name", s.handleSaveLevel)
		api.DELETE("/levels/:name", s.handleDeleteLevel)

		api.POST("/session/pause", s.handlePause)
		api.POST("/session/resume", s.handleResume)
	}
}

// Start запускает сервер. Блокирующий; после Stop возвращает nil.
func (s *Server) Start() error {
	logging.Info("[API] REST API слушает %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop закрывает поток событий и мягко останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// GridSummary - сводка о сетке и сессии
type GridSummary struct {
	Name        string     `json:"name,omitempty"`
	Initialized bool       `json:"initialized"`
	Width       int        `json:"width"`
	Depth       int        `json:"depth"`
	CellSize    float64    `json:"cell_size"`
	Goal        *vec.Cell  `json:"goal,omitempty"`
	Spawns      []vec.Cell `json:"spawns"`
	Occupied    int        `json:"occupied"`
	Generation  uint64     `json:"generation"`
	Tick        uint64     `json:"tick"`
	Paused      bool       `json:"paused"`
}

func summarize(w *grid.World, sess *session.Session) GridSummary {
	sum := GridSummary{
		Name:        w.Name(),
		Initialized: w.IsInitialized(),
		Width:       w.Width(),
		Depth:       w.Depth(),
		CellSize:    w.CellSize(),
		Spawns:      w.Spawns(),
		Occupied:    w.OccupiedCount(),
		Generation:  w.Generation(),
		Tick:        sess.Tick(),
		Paused:      sess.Paused(),
	}
	if goal, ok := w.Goal(); ok {
		sum.Goal = &goal
	}
	return sum
}

// do выполняет fn в горутине сессии с таймаутом запроса
func (s *Server) do(c *gin.Context, fn func(w *grid.World) error) error {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	return s.sess.Do(ctx, fn)
}

// fail пишет ошибку с HTTP-статусом по её типу
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var cfgErr *grid.ConfigError

	switch {
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusUnprocessableEntity, GenericResponse{
			Success: false,
			Message: err.Error(),
			Data:    cfgErr.Report,
		})
		return
	case errors.Is(err, grid.ErrOutOfRange), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, grid.ErrUninitialized), errors.Is(err, grid.ErrProtectedCell):
		status = http.StatusConflict
	case errors.Is(err, grid.ErrInvalidDimension), errors.Is(err, storage.ErrInvalidName):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrStopped), errors.Is(err, storage.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	c.JSON(status, GenericResponse{Success: false, Message: err.Error()})
}

func badRequest(c *gin.Context, format string, args ...interface{}) {
	c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: fmt.Sprintf(format, args...)})
}

// cellParams разбирает :x и :z
func cellParams(c *gin.Context) (int, int, bool) {
	x, errX := strconv.Atoi(c.Param("x"))
	z, errZ := strconv.Atoi(c.Param("z"))
	if errX != nil || errZ != nil {
		badRequest(c, "координаты должны быть целыми: x=%q z=%q", c.Param("x"), c.Param("z"))
		return 0, 0, false
	}
	return x, z, true
}

func (s *Server) handleHealth(c *gin.Context) {
	cpuPercent, _ := s.metrics.GetCPUUsage()

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"time":        time.Now().Unix(),
		"uptime":      s.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.1f", s.metrics.GetMemoryUsage()),
		"cpu_percent": fmt.Sprintf("%.1f", cpuPercent),
		"runtime":     s.metrics.GetDetailedMemoryStats(),
		"tick":        s.sess.Tick(),
		"paused":      s.sess.Paused(),
		"streams":     s.hub.Clients(),
	})
}

func (s *Server) handleGrid(c *gin.Context) {
	var sum GridSummary
	err := s.do(c, func(w *grid.World) error {
		sum = summarize(w, s.sess)
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: sum})
}

func (s *Server) handleTiles(c *gin.Context) {
	var tiles []grid.TileInfo
	err := s.do(c, func(w *grid.World) error {
		if !w.IsInitialized() {
			return grid.ErrUninitialized
		}
		tiles = w.Tiles()
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: tiles})
}

// tileInfo читает клетку в горутине сессии
func (s *Server) tileInfo(c *gin.Context, x, z int) (grid.TileInfo, error) {
	var info grid.TileInfo
	err := s.do(c, func(w *grid.World) error {
		t, err := w.GetTile(x, z)
		if err != nil {
			return err
		}
		info = t.Info()
		return nil
	})
	return info, err
}

func (s *Server) handleTile(c *gin.Context) {
	x, z, ok := cellParams(c)
	if !ok {
		return
	}
	info, err := s.tileInfo(c, x, z)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: info})
}

// PickResponse - результат поиска клетки по мировой позиции
type PickResponse struct {
	Cell  vec.Cell       `json:"cell"`
	Valid bool           `json:"valid"`
	World vec.Vec3       `json:"world"` // Центр найденной клетки
	Tile  *grid.TileInfo `json:"tile,omitempty"`
}

func (s *Server) handlePick(c *gin.Context) {
	wx, errX := strconv.ParseFloat(c.Query("x"), 64)
	wz, errZ := strconv.ParseFloat(c.Query("z"), 64)
	if errX != nil || errZ != nil {
		badRequest(c, "требуются числовые параметры x и z")
		return
	}

	var resp PickResponse
	err := s.do(c, func(w *grid.World) error {
		if !w.IsInitialized() {
			return grid.ErrUninitialized
		}
		resp.Cell = w.WorldToGrid(wx, wz)
		resp.World = w.GridToWorld(resp.Cell.X, resp.Cell.Z)
		if t := w.Tile(resp.Cell.X, resp.Cell.Z); t != nil {
			info := t.Info()
			resp.Valid = true
			resp.Tile = &info
		}
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: resp})
}

// OccupierRequest - тело PUT /tiles/:x/:z/occupier
type OccupierRequest struct {
	Occupier string `json:"occupier" binding:"required"`
}

func (s *Server) handleSetOccupier(c *gin.Context) {
	x, z, ok := cellParams(c)
	if !ok {
		return
	}
	var req OccupierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "неверный формат запроса: %v", err)
		return
	}
	s.mutateTile(c, x, z, func(w *grid.World) {
		w.SetOccupier(x, z, grid.Occupant(req.Occupier))
	})
}

func (s *Server) handleClearOccupier(c *gin.Context) {
	x, z, ok := cellParams(c)
	if !ok {
		return
	}
	s.mutateTile(c, x, z, func(w *grid.World) {
		w.ClearOccupier(x, z)
	})
}

// mutateTile проверяет клетку, применяет изменение и возвращает новое состояние.
// Сама сетка молча игнорирует координаты вне границ; API сообщает о них явно.
func (s *Server) mutateTile(c *gin.Context, x, z int, mutate func(w *grid.World)) {
	var info grid.TileInfo
	err := s.do(c, func(w *grid.World) error {
		t, err := w.GetTile(x, z)
		if err != nil {
			return err
		}
		mutate(w)
		info = t.Info()
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: info})
}

// TileTypeRequest - тело PUT /tiles/:x/:z/type
type TileTypeRequest struct {
	Type string `json:"type" binding:"required"`
}

func (s *Server) handleSetTileType(c *gin.Context) {
	x, z, ok := cellParams(c)
	if !ok {
		return
	}
	var req TileTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "неверный формат запроса: %v", err)
		return
	}
	typ, err := terrain.Parse(req.Type)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	var info grid.TileInfo
	err = s.do(c, func(w *grid.World) error {
		if err := w.SetTileType(x, z, typ); err != nil {
			return err
		}
		info = w.Tile(x, z).Info()
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: info})
}

// readLevel разбирает YAML (или JSON) уровня из тела запроса
func readLevel(c *gin.Context) (*level.Config, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLevelBody))
	if err != nil {
		badRequest(c, "не удалось прочитать тело: %v", err)
		return nil, false
	}
	if len(body) == 0 {
		badRequest(c, "пустое тело запроса")
		return nil, false
	}
	cfg, err := level.Parse(body)
	if err != nil {
		badRequest(c, "%v", err)
		return nil, false
	}
	return cfg, true
}

func (s *Server) handleValidateLevel(c *gin.Context) {
	cfg, ok := readLevel(c)
	if !ok {
		return
	}
	report := level.Validate(cfg)
	c.JSON(http.StatusOK, GenericResponse{Success: report.OK(), Message: report.String(), Data: report})
}

// handleReloadLevel перезагружает сетку: ?name= берёт уровень из кеша,
// иначе уровень читается из тела запроса
func (s *Server) handleReloadLevel(c *gin.Context) {
	var cfg *level.Config
	if name := c.Query("name"); name != "" {
		if s.levels == nil {
			c.JSON(http.StatusNotImplemented, GenericResponse{Success: false, Message: "источник уровней не настроен"})
			return
		}
		loaded, err := s.levels.Get(name)
		if err != nil {
			fail(c, err)
			return
		}
		cfg = loaded
	} else {
		parsed, ok := readLevel(c)
		if !ok {
			return
		}
		cfg = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	if err := s.sess.Reload(ctx, cfg); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "уровень загружен", Data: level.Validate(cfg)})
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		c.JSON(http.StatusNotImplemented, GenericResponse{Success: false, Message: "хранилище уровней не настроено"})
		return false
	}
	return true
}

func (s *Server) handleListLevels(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	list, err := s.store.ListLevels()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: list})
}

func (s *Server) handleGetLevel(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	cfg, err := s.store.LoadLevel(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: cfg})
}

func (s *Server) handleSaveLevel(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	cfg, ok := readLevel(c)
	if !ok {
		return
	}
	if report := level.Validate(cfg); !report.OK() {
		c.JSON(http.StatusUnprocessableEntity, GenericResponse{Success: false, Message: report.String(), Data: report})
		return
	}

	name := c.Param("name")
	if err := s.store.SaveLevel(name, cfg); err != nil {
		fail(c, err)
		return
	}
	s.invalidate(c, name)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "уровень сохранён"})
}

func (s *Server) handleDeleteLevel(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	name := c.Param("name")
	if err := s.store.DeleteLevel(name); err != nil {
		fail(c, err)
		return
	}
	s.invalidate(c, name)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "уровень удалён"})
}

// invalidate сбрасывает уровень в локальном и общем кеше. Ошибка общего
// кеша не отменяет уже выполненную запись.
func (s *Server) invalidate(c *gin.Context, name string) {
	if s.levels != nil {
		s.levels.Invalidate(name)
	}
	if s.shared != nil {
		if err := s.shared.Invalidate(c.Request.Context(), name); err != nil {
			logging.Warn("[API] общий кеш: не удалось сбросить %q: %v", name, err)
		}
	}
}

func (s *Server) handlePause(c *gin.Context) {
	s.sess.Pause()
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: gin.H{"paused": true, "tick": s.sess.Tick()}})
}

func (s *Server) handleResume(c *gin.Context) {
	s.sess.Resume()
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: gin.H{"paused": false, "tick": s.sess.Tick()}})
}
