// Package terrain описывает типы клеток поля боя и их фиксированную семантику
// проходимости и размещения.
package terrain

import (
	"fmt"
	"strings"
)

// Type представляет тип клетки. Набор значений закрыт.
type Type uint8

const (
	Ground     Type = iota // Земля - проходима, можно размещать ближний бой
	HighGround             // Высота - проходима, можно размещать дальний бой
	Forbidden              // Запретная зона - непроходима, размещать нельзя
	Hole                   // Яма - наземные юниты не проходят, размещать нельзя

	typeCount
)

var typeNames = [typeCount]string{
	Ground:     "Ground",
	HighGround: "HighGround",
	Forbidden:  "Forbidden",
	Hole:       "Hole",
}

// DefaultDeployTag - тег размещения по умолчанию
const DefaultDeployTag = "All"

// All возвращает все типы в порядке объявления
func All() []Type {
	return []Type{Ground, HighGround, Forbidden, Hole}
}

// IsValid проверяет, что значение входит в перечисление
func (t Type) IsValid() bool {
	return t < typeCount
}

// String возвращает имя типа
func (t Type) String() string {
	if !t.IsValid() {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	return typeNames[t]
}

// Walkable - базовая проходимость по соглашению: всё, кроме Forbidden и Hole
func (t Type) Walkable() bool {
	return t == Ground || t == HighGround
}

// Deployable - разрешает ли тип размещение юнитов
func (t Type) Deployable() bool {
	return t == Ground || t == HighGround
}

// Parse разбирает имя типа (без учёта регистра)
func Parse(s string) (Type, error) {
	for i, name := range typeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("неизвестный тип клетки %q", s)
}

// MarshalText кодирует тип именем (используется yaml.v3 и encoding/json)
func (t Type) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("недопустимый тип клетки %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText декодирует тип из имени
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
