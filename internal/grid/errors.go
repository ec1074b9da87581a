package grid

import (
	"errors"
	"fmt"

	"github.com/HypocriteSnow/UandUTDD/internal/level"
)

var (
	// ErrInvalidDimension - неположительные ширина, глубина или размер клетки,
	// либо карта больше level.MaxTiles
	ErrInvalidDimension = errors.New("grid: invalid dimension")
	// ErrInvalidConfig - конфигурация уровня не прошла проверку
	ErrInvalidConfig = errors.New("grid: invalid level config")
	// ErrOutOfRange - координаты вне текущих границ
	ErrOutOfRange = errors.New("grid: coordinate out of range")
	// ErrUninitialized - обращение к сетке до Init/LoadFromConfig
	ErrUninitialized = errors.New("grid: not initialized")
	// ErrProtectedCell - правка сделала бы точку появления или цель непроходимой
	ErrProtectedCell = errors.New("grid: spawn and goal cells must stay traversable")
)

// ConfigError возвращается LoadFromConfig при отклонённой конфигурации
// и несёт полный отчёт проверки.
type ConfigError struct {
	Report level.Report
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidConfig, e.Report.String())
}

// Unwrap позволяет errors.Is(err, ErrInvalidConfig)
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
