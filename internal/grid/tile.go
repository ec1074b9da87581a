package grid

import (
	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
	"github.com/HypocriteSnow/UandUTDD/internal/vec"
)

// Occupant - непрозрачный идентификатор того, кто занимает клетку
// (юнит, враг, препятствие). Пустая строка означает отсутствие.
// Сетка не интерпретирует его, кроме проверки на пустоту.
type Occupant string

// NoOccupant - отсутствие занимающего
const NoOccupant Occupant = ""

// Tile - клетка поля. Все поля, кроме занимающего, неизменны после создания;
// занимающего меняет только World.
type Tile struct {
	x, z         int
	typ          terrain.Type
	heightLevel  int
	baseWalkable bool
	deployTag    string
	occupier     Occupant
}

func newTile(x, z int, typ terrain.Type, heightLevel int, walkable bool, deployTag string) Tile {
	return Tile{
		x:            x,
		z:            z,
		typ:          typ,
		heightLevel:  heightLevel,
		baseWalkable: walkable,
		deployTag:    deployTag,
	}
}

func (t *Tile) X() int { return t.x }
func (t *Tile) Z() int { return t.z }
func (t *Tile) Cell() vec.Cell { return vec.Cell{X: t.x, Z: t.z} }
func (t *Tile) Type() terrain.Type { return t.typ }
func (t *Tile) HeightLevel() int { return t.heightLevel }
func (t *Tile) BaseWalkable() bool { return t.baseWalkable }
func (t *Tile) DeployTag() string { return t.deployTag }
func (t *Tile) Occupier() Occupant { return t.occupier }
func (t *Tile) IsOccupied() bool { return t.occupier != NoOccupant }

// IsWalkable - базовая проходимость и отсутствие занимающего
func (t *Tile) IsWalkable() bool {
	return t.baseWalkable && t.occupier == NoOccupant
}

// IsDeployable - нет занимающего и тип допускает размещение
func (t *Tile) IsDeployable() bool {
	return t.occupier == NoOccupant && t.typ.Deployable()
}

func (t *Tile) setOccupier(o Occupant) { t.occupier = o }
func (t *Tile) clearOccupier() { t.occupier = NoOccupant }

// TileInfo - снимок клетки для внешних потребителей (API, отладка)
type TileInfo struct {
	X            int          `json:"x"`
	Z            int          `json:"z"`
	Type         terrain.Type `json:"type"`
	HeightLevel  int          `json:"height_level"`
	BaseWalkable bool         `json:"base_walkable"`
	DeployTag    string       `json:"deploy_tag"`
	Occupier     Occupant     `json:"occupier,omitempty"`
	Walkable     bool         `json:"walkable"`
	Deployable   bool         `json:"deployable"`
}

// Info возвращает снимок клетки
func (t *Tile) Info() TileInfo {
	return TileInfo{
		X:            t.x,
		Z:            t.z,
		Type:         t.typ,
		HeightLevel:  t.heightLevel,
		BaseWalkable: t.baseWalkable,
		DeployTag:    t.deployTag,
		Occupier:     t.occupier,
		Walkable:     t.IsWalkable(),
		Deployable:   t.IsDeployable(),
	}
}
