// Package level описывает авторские данные уровня: размеры поля, точки
// появления и цели, особые клетки. Данные только читаются ядром сетки.
package level

import (
	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
	"github.com/HypocriteSnow/UandUTDD/internal/vec"
	"gopkg.in/yaml.v3"
)

// TileData - авторская настройка одной клетки
type TileData struct {
	X           int          `yaml:"x" json:"x"`
	Z           int          `yaml:"z" json:"z"`
	TileType    terrain.Type `yaml:"tile_type" json:"tile_type"`
	HeightLevel int          `yaml:"height_level" json:"height_level"` // 0 - земля, 1 - высота
	Walkable    bool         `yaml:"walkable" json:"walkable"`
	DeployTag   string       `yaml:"deploy_tag" json:"deploy_tag"`
}

// NewTileData возвращает настройку клетки со значениями по умолчанию
func NewTileData(x, z int) TileData {
	return TileData{
		X:         x,
		Z:         z,
		TileType:  terrain.Ground,
		Walkable:  true,
		DeployTag: terrain.DefaultDeployTag,
	}
}

// UnmarshalYAML заполняет пропущенные поля значениями по умолчанию
func (td *TileData) UnmarshalYAML(node *yaml.Node) error {
	type plain TileData
	raw := plain(NewTileData(0, 0))
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*td = TileData(raw)
	return nil
}

// Config - конфигурация уровня
type Config struct {
	Name            string       `yaml:"name,omitempty" json:"name,omitempty"`
	MapWidth        int          `yaml:"map_width" json:"map_width"` // Клеток по оси X
	MapDepth        int          `yaml:"map_depth" json:"map_depth"` // Клеток по оси Z
	CellSize        float64      `yaml:"cell_size" json:"cell_size"`
	DefaultTileType terrain.Type `yaml:"default_tile_type" json:"default_tile_type"`
	GoalPoint       vec.Cell     `yaml:"goal_point" json:"goal_point"`
	SpawnPoints     []vec.Cell   `yaml:"spawn_points" json:"spawn_points"`
	SpecialTiles    []TileData   `yaml:"special_tiles,omitempty" json:"special_tiles,omitempty"`
}

// Default возвращает конфигурацию нового уровня: 10×10, всё запрещено,
// цель в (9,9), появление в (0,0)
func Default() *Config {
	return &Config{
		MapWidth:        10,
		MapDepth:        10,
		CellSize:        1.0,
		DefaultTileType: terrain.Forbidden,
		GoalPoint:       vec.Cell{X: 9, Z: 9},
		SpawnPoints:     []vec.Cell{{X: 0, Z: 0}},
	}
}

// Clone возвращает глубокую копию конфигурации
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.SpawnPoints = append([]vec.Cell(nil), c.SpawnPoints...)
	out.SpecialTiles = append([]TileData(nil), c.SpecialTiles...)
	return &out
}

// IsSpawnPoint проверяет, является ли клетка точкой появления
func (c *Config) IsSpawnPoint(x, z int) bool {
	for _, p := range c.SpawnPoints {
		if p.X == x && p.Z == z {
			return true
		}
	}
	return false
}

// IsGoalPoint проверяет, является ли клетка целью
func (c *Config) IsGoalPoint(x, z int) bool {
	return c.GoalPoint.X == x && c.GoalPoint.Z == z
}

// specialIndex возвращает индекс особой клетки или -1
func (c *Config) specialIndex(x, z int) int {
	for i, td := range c.SpecialTiles {
		if td.X == x && td.Z == z {
			return i
		}
	}
	return -1
}

// SpecialTile возвращает особую настройку клетки, если она есть
func (c *Config) SpecialTile(x, z int) (TileData, bool) {
	if i := c.specialIndex(x, z); i >= 0 {
		return c.SpecialTiles[i], true
	}
	return TileData{}, false
}

// TileDataAt возвращает авторскую настройку клетки: особую запись, иначе
// Ground для точек появления и цели, иначе тип по умолчанию.
func (c *Config) TileDataAt(x, z int) TileData {
	if td, ok := c.SpecialTile(x, z); ok {
		return td
	}

	if c.IsSpawnPoint(x, z) || c.IsGoalPoint(x, z) {
		return NewTileData(x, z)
	}

	td := NewTileData(x, z)
	td.TileType = c.DefaultTileType
	td.Walkable = c.DefaultTileType.Walkable()
	return td
}

// SetTileData записывает настройку клетки обратно в конфигурацию.
// Хранятся только клетки, отличающиеся от умолчания: nil или запись
// с типом по умолчанию и нулевой высотой удаляет особую запись.
func (c *Config) SetTileData(x, z int, data *TileData) {
	i := c.specialIndex(x, z)

	if data == nil || (data.TileType == c.DefaultTileType && data.HeightLevel == 0) {
		if i >= 0 {
			c.SpecialTiles = append(c.SpecialTiles[:i], c.SpecialTiles[i+1:]...)
		}
		return
	}

	td := *data
	td.X, td.Z = x, z
	if i >= 0 {
		c.SpecialTiles[i] = td
		return
	}
	c.SpecialTiles = append(c.SpecialTiles, td)
}
