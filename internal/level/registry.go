package level

import (
	"fmt"

	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/dgraph-io/ristretto"
)

// Source загружает уровень по ключу (путь к файлу, имя в хранилище и т.п.)
type Source interface {
	LoadLevel(key string) (*Config, error)
}

// SourceFunc адаптирует функцию к Source
type SourceFunc func(key string) (*Config, error)

// LoadLevel вызывает f(key)
func (f SourceFunc) LoadLevel(key string) (*Config, error) { return f(key) }

// FileSource читает уровни из YAML-файлов
var FileSource Source = SourceFunc(LoadFile)

// Registry кеширует разобранные уровни по ключу источника.
// Возвращает копии, поэтому вызывающий может менять результат.
type Registry struct {
	source Source
	cache  *ristretto.Cache
}

// NewRegistry создаёт кеш на capacity уровней
func NewRegistry(source Source, capacity int64) (*Registry, error) {
	if source == nil {
		source = FileSource
	}
	if capacity <= 0 {
		capacity = 64
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания кеша уровней: %w", err)
	}

	return &Registry{source: source, cache: cache}, nil
}

// Get возвращает уровень из кеша либо загружает его из источника
func (r *Registry) Get(key string) (*Config, error) {
	if v, ok := r.cache.Get(key); ok {
		return v.(*Config).Clone(), nil
	}

	cfg, err := r.source.LoadLevel(key)
	if err != nil {
		logging.Warn("Уровень %q не найден: %v", key, err)
		return nil, err
	}

	r.cache.Set(key, cfg.Clone(), 1)
	r.cache.Wait()
	return cfg, nil
}

// LoadLevel делает Registry источником уровней (level.Source)
func (r *Registry) LoadLevel(key string) (*Config, error) {
	return r.Get(key)
}

// Preload загружает уровни заранее; возвращает первую ошибку
func (r *Registry) Preload(keys []string) error {
	for _, key := range keys {
		if _, err := r.Get(key); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate удаляет уровень из кеша
func (r *Registry) Invalidate(key string) {
	r.cache.Del(key)
}

// Clear очищает кеш
func (r *Registry) Clear() {
	r.cache.Clear()
}

// Close освобождает ресурсы кеша
func (r *Registry) Close() {
	r.cache.Close()
}
