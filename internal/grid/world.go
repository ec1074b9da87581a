// Package grid содержит авторитетную модель поля боя: прямоугольную сетку
// клеток, их проходимость и возможность размещения, а также занятость.
//
// World однопоточен и не использует блокировок. Доступ из нескольких
// горутин организуется через session.Session.
package grid

import (
	"fmt"

	"github.com/HypocriteSnow/UandUTDD/internal/events"
	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/HypocriteSnow/UandUTDD/internal/vec"
)

// World - сетка клеток поля боя
type World struct {
	width       int
	depth       int
	cellSize    float64
	tiles       []Tile // Индекс x*depth + z
	initialized bool

	name       string
	goal       vec.Cell
	hasGoal    bool
	spawns     []vec.Cell
	generation uint64 // Растёт с каждым построением или сбросом
	occupied   int

	pub     Publisher
	metrics *Metrics
}

// NewWorld создаёт неинициализированный мир. pub может быть nil -
// тогда события не публикуются.
func NewWorld(pub Publisher) *World {
	return &World{pub: pub}
}

// SetMetrics подключает Prometheus-метрики
func (w *World) SetMetrics(m *Metrics) {
	w.metrics = m
	w.syncGauges()
}

// Init строит однородную сетку width×depth из клеток Ground.
// Размер ограничен level.MaxTiles.
func (w *World) Init(width, depth int, cellSize float64) error {
	if !level.SizeOK(width, depth) || !(cellSize > 0) {
		w.rejected()
		return fmt.Errorf("%w: %dx%d, cell_size %v", ErrInvalidDimension, width, depth, cellSize)
	}

	tiles := make([]Tile, width*depth)
	for x := 0; x < width; x++ {
		for z := 0; z < depth; z++ {
			tiles[x*depth+z] = newTile(x, z, terrain.Ground, 0, true, terrain.DefaultDeployTag)
		}
	}

	w.swap("", width, depth, cellSize, tiles, vec.Cell{}, false, nil)
	logging.Info("[Grid] сетка %dx%d инициализирована (cell_size %.2f)", width, depth, cellSize)
	return nil
}

// LoadFromConfig строит сетку по конфигурации уровня. При ошибке проверки
// возвращает *ConfigError и оставляет прежнее состояние нетронутым.
func (w *World) LoadFromConfig(cfg *level.Config) error {
	report := level.Validate(cfg)
	for _, d := range report.Warnings {
		logging.Warn("[Grid] %s", d.Message)
	}
	if !report.OK() {
		w.rejected()
		logging.Error("[Grid] конфигурация уровня отклонена: %s", report.String())
		return &ConfigError{Report: report}
	}

	width, depth := cfg.MapWidth, cfg.MapDepth
	tiles := make([]Tile, width*depth)

	defType := cfg.DefaultTileType
	for x := 0; x < width; x++ {
		for z := 0; z < depth; z++ {
			tiles[x*depth+z] = newTile(x, z, defType, 0, defType.Walkable(), terrain.DefaultDeployTag)
		}
	}

	for _, td := range cfg.SpecialTiles {
		if td.X < 0 || td.X >= width || td.Z < 0 || td.Z >= depth {
			continue
		}
		tiles[td.X*depth+td.Z] = newTile(td.X, td.Z, td.TileType, td.HeightLevel, td.Walkable, td.DeployTag)
	}

	// Точки появления и цель всегда проходимы: высота и метка сохраняются
	force := func(c vec.Cell) {
		t := &tiles[c.X*depth+c.Z]
		*t = newTile(c.X, c.Z, terrain.Ground, t.heightLevel, true, t.deployTag)
	}
	for _, sp := range cfg.SpawnPoints {
		force(sp)
	}
	force(cfg.GoalPoint)

	spawns := append([]vec.Cell(nil), cfg.SpawnPoints...)
	w.swap(cfg.Name, width, depth, cfg.CellSize, tiles, cfg.GoalPoint, true, spawns)

	logging.Info("[Grid] уровень %q загружен: %dx%d, особых клеток %d, точек появления %d",
		cfg.Name, width, depth, len(cfg.SpecialTiles), len(spawns))
	return nil
}

// swap заменяет состояние мира целиком
func (w *World) swap(name string, width, depth int, cellSize float64, tiles []Tile, goal vec.Cell, hasGoal bool, spawns []vec.Cell) {
	w.name = name
	w.width = width
	w.depth = depth
	w.cellSize = cellSize
	w.tiles = tiles
	w.goal = goal
	w.hasGoal = hasGoal
	w.spawns = spawns
	w.initialized = true
	w.occupied = 0
	w.generation++

	if w.metrics != nil {
		w.metrics.loads.Inc()
	}
	w.syncGauges()

	w.publish(Loaded{Name: name, Width: width, Depth: depth, CellSize: cellSize, Generation: w.generation})
}

// Clear сбрасывает сетку в неинициализированное состояние
func (w *World) Clear() {
	w.name = ""
	w.width = 0
	w.depth = 0
	w.cellSize = 0
	w.tiles = nil
	w.goal = vec.Cell{}
	w.hasGoal = false
	w.spawns = nil
	w.initialized = false
	w.occupied = 0
	w.generation++
	w.syncGauges()

	logging.Debug("[Grid] сетка очищена")
	w.publish(Cleared{Generation: w.generation})
}

// IsValid проверяет, лежит ли клетка в границах инициализированной сетки
func (w *World) IsValid(x, z int) bool {
	return w.initialized && x >= 0 && x < w.width && z >= 0 && z < w.depth
}

// GetTile возвращает клетку по координатам
func (w *World) GetTile(x, z int) (*Tile, error) {
	if !w.initialized {
		return nil, ErrUninitialized
	}
	if !w.IsValid(x, z) {
		return nil, fmt.Errorf("%w: (%d, %d) вне %dx%d", ErrOutOfRange, x, z, w.width, w.depth)
	}
	return &w.tiles[x*w.depth+z], nil
}

// Tile возвращает клетку или nil
func (w *World) Tile(x, z int) *Tile {
	if !w.IsValid(x, z) {
		return nil
	}
	return &w.tiles[x*w.depth+z]
}

// IsWalkable возвращает false для клеток вне сетки
func (w *World) IsWalkable(x, z int) bool {
	t := w.Tile(x, z)
	return t != nil && t.IsWalkable()
}

// IsDeployable возвращает false для клеток вне сетки
func (w *World) IsDeployable(x, z int) bool {
	t := w.Tile(x, z)
	return t != nil && t.IsDeployable()
}

// SetOccupier назначает занимающего клетки. Вне сетки - no-op.
// Повторная установка того же занимающего снова публикует GridChanged.
func (w *World) SetOccupier(x, z int, o Occupant) {
	t := w.Tile(x, z)
	if t == nil {
		return
	}
	if o == NoOccupant {
		w.ClearOccupier(x, z)
		return
	}

	wasDeployable := t.IsDeployable()
	if !t.IsOccupied() {
		w.occupied++
	}
	t.setOccupier(o)
	w.afterOccupancy(t, "set", wasDeployable)
}

// ClearOccupier освобождает клетку. Вне сетки - no-op; очистка пустой
// клетки всё равно публикует GridChanged.
func (w *World) ClearOccupier(x, z int) {
	t := w.Tile(x, z)
	if t == nil {
		return
	}

	wasDeployable := t.IsDeployable()
	if t.IsOccupied() {
		w.occupied--
	}
	t.clearOccupier()
	w.afterOccupancy(t, "clear", wasDeployable)
}

func (w *World) afterOccupancy(t *Tile, op string, wasDeployable bool) {
	if w.metrics != nil {
		w.metrics.occupancyOps.WithLabelValues(op).Inc()
		w.metrics.occupied.Set(float64(w.occupied))
	}

	w.publish(GridChanged{X: t.x, Z: t.z, Occupier: t.occupier})
	if now := t.IsDeployable(); now != wasDeployable {
		w.publish(TileDeployableChanged{X: t.x, Z: t.z, IsDeployable: now})
	}
}

// SetTileType заменяет тип клетки. Проходимость выводится из типа, высота,
// метка размещения и занимающий сохраняются. Точкам появления и цели
// нельзя назначить непроходимый тип.
func (w *World) SetTileType(x, z int, typ terrain.Type) error {
	t, err := w.GetTile(x, z)
	if err != nil {
		return err
	}
	if !typ.IsValid() {
		return fmt.Errorf("grid: недопустимый тип клетки %s", typ)
	}
	if !typ.Walkable() && w.isProtected(x, z) {
		return fmt.Errorf("%w: (%d, %d) -> %s", ErrProtectedCell, x, z, typ)
	}

	from := t.typ
	if from == typ {
		return nil
	}

	wasDeployable := t.IsDeployable()
	occupier := t.occupier
	*t = newTile(x, z, typ, t.heightLevel, typ.Walkable(), t.deployTag)
	t.occupier = occupier

	logging.Debug("[Grid] клетка (%d, %d): %s -> %s", x, z, from, typ)
	w.publish(TileTypeChanged{X: x, Z: z, From: from, To: typ})
	if now := t.IsDeployable(); now != wasDeployable {
		w.publish(TileDeployableChanged{X: x, Z: z, IsDeployable: now})
	}
	return nil
}

func (w *World) isProtected(x, z int) bool {
	if w.hasGoal && w.goal.X == x && w.goal.Z == z {
		return true
	}
	for _, sp := range w.spawns {
		if sp.X == x && sp.Z == z {
			return true
		}
	}
	return false
}

// OnTick - участник тиков сессии. Сетка пока не имеет поведения во времени.
func (w *World) OnTick(tick uint64) {}

func (w *World) publish(ev events.Event) {
	if w.pub != nil {
		w.pub.Publish(ev)
	}
}

func (w *World) rejected() {
	if w.metrics != nil {
		w.metrics.rejectedLoads.Inc()
	}
}

func (w *World) syncGauges() {
	if w.metrics == nil {
		return
	}
	w.metrics.tiles.Set(float64(len(w.tiles)))
	w.metrics.occupied.Set(float64(w.occupied))
}

func (w *World) Width() int { return w.width }
func (w *World) Depth() int { return w.depth }
func (w *World) CellSize() float64 { return w.cellSize }
func (w *World) IsInitialized() bool { return w.initialized }
func (w *World) Name() string { return w.name }
func (w *World) Generation() uint64 { return w.generation }
func (w *World) OccupiedCount() int { return w.occupied }

// Goal возвращает цель; false, если сетка построена через Init или не построена
func (w *World) Goal() (vec.Cell, bool) {
	return w.goal, w.hasGoal
}

// Spawns возвращает копию списка точек появления
func (w *World) Spawns() []vec.Cell {
	return append([]vec.Cell(nil), w.spawns...)
}

// IsSpawnPoint проверяет, является ли клетка точкой появления
func (w *World) IsSpawnPoint(x, z int) bool {
	for _, sp := range w.spawns {
		if sp.X == x && sp.Z == z {
			return true
		}
	}
	return false
}

// IsGoalPoint проверяет, является ли клетка целью
func (w *World) IsGoalPoint(x, z int) bool {
	return w.hasGoal && w.goal.X == x && w.goal.Z == z
}

// Mapper возвращает преобразователь координат текущей сетки
func (w *World) Mapper() Mapper {
	return Mapper{CellSize: w.cellSize}
}

// GridToWorld возвращает мировую позицию клетки с учётом её высоты.
// Для клеток вне сетки высота считается нулевой.
func (w *World) GridToWorld(x, z int) vec.Vec3 {
	h := 0
	if t := w.Tile(x, z); t != nil {
		h = t.heightLevel
	}
	return w.Mapper().GridToWorld(x, z, h)
}

// WorldToGrid возвращает ближайшую клетку; результат не проверяется на границы.
// Для неинициализированной сетки возвращает (-1, -1).
func (w *World) WorldToGrid(worldX, worldZ float64) vec.Cell {
	return w.Mapper().WorldToGrid(worldX, worldZ)
}

// Tiles возвращает снимок всех клеток в порядке (x, z)
func (w *World) Tiles() []TileInfo {
	out := make([]TileInfo, 0, len(w.tiles))
	for i := range w.tiles {
		out = append(out, w.tiles[i].Info())
	}
	return out
}
