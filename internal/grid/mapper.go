package grid

import (
	"math"

	"github.com/HypocriteSnow/UandUTDD/internal/vec"
)

// Mapper переводит логические координаты клеток в мировые и обратно.
// CellSize должен быть положительным.
type Mapper struct {
	CellSize float64
}

// GridToWorld возвращает мировую позицию клетки; высота тоже измеряется в CellSize
func (m Mapper) GridToWorld(x, z, heightLevel int) vec.Vec3 {
	return vec.Vec3{
		X: float64(x) * m.CellSize,
		Y: float64(heightLevel) * m.CellSize,
		Z: float64(z) * m.CellSize,
	}
}

// WorldToGrid возвращает ближайшую клетку. Половины округляются к чётному.
// Результат может лежать вне сетки - границы проверяет вызывающий.
func (m Mapper) WorldToGrid(worldX, worldZ float64) vec.Cell {
	if !(m.CellSize > 0) {
		return vec.Cell{X: -1, Z: -1}
	}
	return vec.Cell{
		X: roundIndex(worldX / m.CellSize),
		Z: roundIndex(worldZ / m.CellSize),
	}
}

// maxExactIndex - граница целых, точно представимых в float64 (2^53)
const maxExactIndex = 1 << 53

// roundIndex округляет к чётному и ограничивает результат диапазоном
// [-2^53, 2^53], в котором GridToWorld и WorldToGrid взаимно обратны; NaN даёт -1
func roundIndex(v float64) int {
	if math.IsNaN(v) {
		return -1
	}
	r := math.RoundToEven(v)
	switch {
	case r > maxExactIndex:
		return maxExactIndex
	case r < -maxExactIndex:
		return -maxExactIndex
	}
	return int(r)
}
