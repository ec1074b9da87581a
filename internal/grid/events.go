package grid

import (
	"fmt"

	"github.com/HypocriteSnow/UandUTDD/internal/events"
	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
)

// Типы событий сетки
const (
	KindGridChanged           events.Kind = "grid.changed"
	KindTileDeployableChanged events.Kind = "grid.tile_deployable"
	KindTileTypeChanged       events.Kind = "grid.tile_type"
	KindLoaded                events.Kind = "grid.loaded"
	KindCleared               events.Kind = "grid.cleared"
)

// Publisher принимает события сетки. *events.Channel удовлетворяет интерфейсу.
type Publisher interface {
	Publish(ev events.Event)
}

// GridChanged публикуется при каждой установке или снятии занимающего.
// Occupier пуст при снятии.
type GridChanged struct {
	X        int      `json:"x"`
	Z        int      `json:"z"`
	Occupier Occupant `json:"occupier,omitempty"`
}

func (GridChanged) Kind() events.Kind { return KindGridChanged }

func (e GridChanged) String() string {
	if e.Occupier == NoOccupant {
		return fmt.Sprintf("(%d,%d) освобождена", e.X, e.Z)
	}
	return fmt.Sprintf("(%d,%d) занята %s", e.X, e.Z, e.Occupier)
}

// TileDeployableChanged публикуется, когда возможность размещения на клетке
// действительно изменилась
type TileDeployableChanged struct {
	X            int  `json:"x"`
	Z            int  `json:"z"`
	IsDeployable bool `json:"is_deployable"`
}

func (TileDeployableChanged) Kind() events.Kind { return KindTileDeployableChanged }

// TileTypeChanged публикуется при авторской правке типа клетки
type TileTypeChanged struct {
	X    int          `json:"x"`
	Z    int          `json:"z"`
	From terrain.Type `json:"from"`
	To   terrain.Type `json:"to"`
}

func (TileTypeChanged) Kind() events.Kind { return KindTileTypeChanged }

// Loaded публикуется после успешных Init и LoadFromConfig
type Loaded struct {
	Name       string  `json:"name,omitempty"`
	Width      int     `json:"width"`
	Depth      int     `json:"depth"`
	CellSize   float64 `json:"cell_size"`
	Generation uint64  `json:"generation"`
}

func (Loaded) Kind() events.Kind { return KindLoaded }

// Cleared публикуется после Clear
type Cleared struct {
	Generation uint64 `json:"generation"`
}

func (Cleared) Kind() events.Kind { return KindCleared }
