package grid

import (
	"math"
	"testing"

	"github.com/HypocriteSnow/UandUTDD/internal/vec"
	"github.com/stretchr/testify/assert"
)

func TestMapper_GridToWorld(t *testing.T) {
	m := Mapper{CellSize: 2}
	assert.Equal(t, vec.Vec3{X: 6, Y: 2, Z: 10}, m.GridToWorld(3, 5, 1))
	assert.Equal(t, vec.Vec3{X: -2, Y: 0, Z: 0}, m.GridToWorld(-1, 0, 0))
}

func TestMapper_WorldToGrid(t *testing.T) {
	m := Mapper{CellSize: 1}

	tests := []struct {
		name   string
		wx, wz float64
		want   vec.Cell
	}{
		{"exact", 3, 4, vec.Cell{X: 3, Z: 4}},
		{"nearest", 2.6, 4.4, vec.Cell{X: 3, Z: 4}},
		{"half to even down", 2.5, 0.5, vec.Cell{X: 2, Z: 0}},
		{"half to even up", 3.5, 1.5, vec.Cell{X: 4, Z: 2}},
		{"negative", -0.6, -3, vec.Cell{X: -1, Z: -3}},
		{"nan", math.NaN(), 1, vec.Cell{X: -1, Z: 1}},
		{"huge", 1e20, -1e20, vec.Cell{X: 1 << 53, Z: -(1 << 53)}},
		{"beyond int32", 1 << 40, -(1 << 33), vec.Cell{X: 1 << 40, Z: -(1 << 33)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.WorldToGrid(tt.wx, tt.wz))
		})
	}
}

func TestMapper_RoundTrip(t *testing.T) {
	for _, cs := range []float64{0.5, 1, 1.3, 2.75, 10} {
		m := Mapper{CellSize: cs}
		for x := -20; x <= 20; x++ {
			for z := -20; z <= 20; z += 3 {
				p := m.GridToWorld(x, z, 2)
				assert.Equal(t, vec.Cell{X: x, Z: z}, m.WorldToGrid(p.X, p.Z), "cell %v at (%d,%d)", cs, x, z)
			}
		}
	}
}

func TestMapper_RoundTripLargeIndices(t *testing.T) {
	for _, cs := range []float64{0.5, 1, 2} {
		m := Mapper{CellSize: cs}
		for _, x := range []int{math.MaxInt32 + 1, 1 << 40, -(1 << 45), 1 << 52} {
			p := m.GridToWorld(x, -x, 0)
			assert.Equal(t, vec.Cell{X: x, Z: -x}, m.WorldToGrid(p.X, p.Z), "cell %v at %d", cs, x)
		}
	}
}

func TestMapper_NonPositiveCellSize(t *testing.T) {
	assert.Equal(t, vec.Cell{X: -1, Z: -1}, Mapper{}.WorldToGrid(3, 3))
	assert.Equal(t, vec.Cell{X: -1, Z: -1}, Mapper{CellSize: -1}.WorldToGrid(3, 3))
}
