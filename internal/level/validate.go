package level

import (
	"fmt"
	"strings"

	"github.com/HypocriteSnow/UandUTDD/internal/grid/terrain"
)

// MaxTiles - предельное число клеток карты
const MaxTiles = 1 << 22

// SizeOK проверяет, что обе стороны положительны и width*depth не превышает MaxTiles.
// Произведение не вычисляется до проверки, поэтому переполнение невозможно.
func SizeOK(width, depth int) bool {
	return width > 0 && depth > 0 && width <= MaxTiles/depth
}

// Severity - серьёзность диагностики
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Коды диагностик
const (
	CodeInvalidSize      = "invalid_size"
	CodeInvalidCellSize  = "invalid_cell_size"
	CodeGoalOutOfBounds  = "goal_out_of_bounds"
	CodeNoSpawn          = "no_spawn"
	CodeSpawnOutOfBounds = "spawn_out_of_bounds"
	CodeTileOutOfBounds  = "tile_out_of_bounds"
	CodeInvalidTile      = "invalid_tile"
	CodeSpawnForbidden   = "spawn_forbidden"
	CodeGoalForbidden    = "goal_forbidden"
)

// Diagnostic описывает одну найденную проблему конфигурации
type Diagnostic struct {
	Severity Severity `json:"-"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s (%s)", d.Severity, d.Message, d.Code)
}

// Report - результат проверки конфигурации
type Report struct {
	Errors   []Diagnostic `json:"errors,omitempty"`
	Warnings []Diagnostic `json:"warnings,omitempty"`
}

// OK возвращает true, если ошибок нет (предупреждения допустимы)
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// Diagnostics возвращает ошибки, затем предупреждения
func (r Report) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// String собирает все ошибки в одну строку
func (r Report) String() string {
	parts := make([]string, 0, len(r.Errors))
	for _, d := range r.Errors {
		parts = append(parts, d.Message)
	}
	return strings.Join(parts, "; ")
}

func (r *Report) errorf(code, format string, args ...interface{}) {
	r.Errors = append(r.Errors, Diagnostic{Severity: SeverityError, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(code, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, Diagnostic{Severity: SeverityWarning, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Validate проверяет структурную корректность конфигурации. Функция чистая:
// ошибки данных возвращаются в отчёте, а не паникой или error.
// Выполняются все проверки, а не только до первой ошибки.
func Validate(cfg *Config) Report {
	var r Report

	if cfg == nil {
		r.errorf(CodeInvalidSize, "конфигурация уровня отсутствует")
		return r
	}

	w, d := cfg.MapWidth, cfg.MapDepth
	if w <= 0 || d <= 0 {
		r.errorf(CodeInvalidSize, "недопустимый размер карты %dx%d: ширина и глубина должны быть положительными", w, d)
	} else if !SizeOK(w, d) {
		r.errorf(CodeInvalidSize, "недопустимый размер карты %dx%d: больше %d клеток", w, d, MaxTiles)
	}

	if !(cfg.CellSize > 0) {
		r.errorf(CodeInvalidCellSize, "недопустимый cell_size %v: должен быть положительным", cfg.CellSize)
	}

	if !cfg.GoalPoint.In(w, d) {
		r.errorf(CodeGoalOutOfBounds, "цель (%d, %d) вне границ карты", cfg.GoalPoint.X, cfg.GoalPoint.Z)
	}

	if len(cfg.SpawnPoints) == 0 {
		r.errorf(CodeNoSpawn, "требуется хотя бы одна точка появления")
	}
	for _, sp := range cfg.SpawnPoints {
		if !sp.In(w, d) {
			r.errorf(CodeSpawnOutOfBounds, "точка появления (%d, %d) вне границ карты", sp.X, sp.Z)
		}
	}

	if !cfg.DefaultTileType.IsValid() {
		r.errorf(CodeInvalidTile, "недопустимый тип клетки по умолчанию %s", cfg.DefaultTileType)
	}

	for _, td := range cfg.SpecialTiles {
		if td.X < 0 || td.X >= w || td.Z < 0 || td.Z >= d {
			r.errorf(CodeTileOutOfBounds, "особая клетка (%d, %d) вне границ карты", td.X, td.Z)
		}
		if !td.TileType.IsValid() || td.HeightLevel < 0 {
			r.errorf(CodeInvalidTile, "особая клетка (%d, %d): тип %s, высота %d", td.X, td.Z, td.TileType, td.HeightLevel)
		}
	}

	// Противоречия авторских данных: при загрузке исправляются, но автор должен их увидеть
	for _, sp := range cfg.SpawnPoints {
		if td, ok := cfg.SpecialTile(sp.X, sp.Z); ok && td.TileType == terrain.Forbidden {
			r.warnf(CodeSpawnForbidden, "точка появления (%d, %d) явно помечена как Forbidden; при загрузке будет заменена на Ground", sp.X, sp.Z)
		}
	}
	if td, ok := cfg.SpecialTile(cfg.GoalPoint.X, cfg.GoalPoint.Z); ok && td.TileType == terrain.Forbidden {
		r.warnf(CodeGoalForbidden, "цель (%d, %d) явно помечена как Forbidden; при загрузке будет заменена на Ground", cfg.GoalPoint.X, cfg.GoalPoint.Z)
	}

	return r
}
