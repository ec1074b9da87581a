package vec

// Cell представляет логические координаты клетки сетки (X - ширина, Z - глубина)
type Cell struct {
	X int `yaml:"x" json:"x"`
	Z int `yaml:"z" json:"z"`
}

// In проверяет, что клетка лежит в прямоугольнике [0,width)×[0,depth)
func (c Cell) In(width, depth int) bool {
	return c.X >= 0 && c.X < width && c.Z >= 0 && c.Z < depth
}

// Vec3 представляет точку мирового пространства (Y - высота)
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}
