package level

import (
	"fmt"

	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
	"github.com/HypocriteSnow/UandUTDD/internal/vec"
	"github.com/aquilax/go-perlin"
)

// Пороги шума для генерации (шум нормализован в [0,1])
const (
	HoleMax        = 0.25 // Ниже - ямы
	ForbiddenMax   = 0.35 // Ниже - запретные зоны
	HighGroundFrom = 0.70 // Выше - высоты
)

// Generator строит черновик уровня по шуму Перлина
type Generator struct {
	Seed       int64   // Сид шума
	NoiseScale float64 // Масштаб шума (сглаженность рельефа)
	noise      *perlin.Perlin
}

// NewGenerator создаёт генератор с указанным сидом
func NewGenerator(seed int64) *Generator {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &Generator{
		Seed:       seed,
		NoiseScale: 0.15,
		noise:      perlin.NewPerlin(alpha, beta, n, seed),
	}
}

// sample возвращает значение шума в [0,1]
func (g *Generator) sample(x, z int) float64 {
	v := (g.noise.Noise2D(float64(x)*g.NoiseScale, float64(z)*g.NoiseScale) + 1.0) / 2.0
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// tileFor возвращает тип клетки для значения шума
func tileFor(v float64) (terrain.Type, int) {
	switch {
	case v < HoleMax:
		return terrain.Hole, 0
	case v < ForbiddenMax:
		return terrain.Forbidden, 0
	case v >= HighGroundFrom:
		return terrain.HighGround, 1
	default:
		return terrain.Ground, 0
	}
}

// Generate строит уровень width×depth: появление у левого края, цель у правого.
// Клетки Ground хранятся как тип по умолчанию, остальные - особыми записями.
func (g *Generator) Generate(width, depth int, cellSize float64) (*Config, error) {
	if !SizeOK(width, depth) || !(cellSize > 0) {
		return nil, fmt.Errorf("недопустимые размеры %dx%d, cell_size %v", width, depth, cellSize)
	}

	cfg := &Config{
		Name:            fmt.Sprintf("generated-%d", g.Seed),
		MapWidth:        width,
		MapDepth:        depth,
		CellSize:        cellSize,
		DefaultTileType: terrain.Ground,
		GoalPoint:       vec.Cell{X: width - 1, Z: depth / 2},
		SpawnPoints:     []vec.Cell{{X: 0, Z: depth / 2}},
	}

	for x := 0; x < width; x++ {
		for z := 0; z < depth; z++ {
			if cfg.IsSpawnPoint(x, z) || cfg.IsGoalPoint(x, z) {
				continue
			}
			typ, height := tileFor(g.sample(x, z))
			td := NewTileData(x, z)
			td.TileType = typ
			td.HeightLevel = height
			td.Walkable = typ.Walkable()
			cfg.SetTileData(x, z, &td)
		}
	}

	return cfg, nil
}
