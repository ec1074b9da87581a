// Package cache - общий для нескольких узлов кеш уровней в Redis
// с рассылкой инвалидаций через NATS.
//
// Использование:
//
//	lc, _ := cache.NewLevelCache(ctx, cache.Config{RedisAddr: "localhost:6379"}, store, inv)
//	reg, _ := level.NewRegistry(lc, 32)
//	cfg, _ := reg.Get("arena")
//	_ = lc.Invalidate(ctx, "arena")
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/go-redis/redis/v8"
)

// DefaultPrefix - префикс ключей уровней в Redis
const DefaultPrefix = "battlefield:level:"

// ErrCacheMiss - уровня нет ни в кеше, ни в источнике
var ErrCacheMiss = errors.New("cache: miss")

// Config содержит конфигурацию кеша уровней
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
	TTL           time.Duration // 0 - без истечения
}

// Invalidator рассылает инвалидации другим узлам
type Invalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
}

// Metrics содержит счётчики кеша
type Metrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`
}

// LevelCache реализует level.Source: сначала Redis, при промахе -
// холодный источник (обычно storage.LevelStore) с прогревом кеша.
type LevelCache struct {
	client      *redis.Client
	config      Config
	cold        level.Source
	invalidator Invalidator

	requests int64
	hits     int64
	misses   int64
}

// NewLevelCache подключается к Redis и проверяет соединение.
// cold и invalidator могут быть nil.
func NewLevelCache(ctx context.Context, config Config, cold level.Source, invalidator Invalidator) (*LevelCache, error) {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.RedisAddr,
		Password:     config.RedisPassword,
		DB:           config.RedisDB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("[Cache] кеш уровней в Redis: %s (префикс %s)", config.RedisAddr, config.Prefix)
	return &LevelCache{
		client:      rdb,
		config:      config,
		cold:        cold,
		invalidator: invalidator,
	}, nil
}

func (c *LevelCache) key(name string) string {
	return c.config.Prefix + name
}

// LoadLevel возвращает уровень из Redis или из холодного источника
func (c *LevelCache) LoadLevel(name string) (*level.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Get(ctx, name)
}

// Get читает уровень (Read-Through)
func (c *LevelCache) Get(ctx context.Context, name string) (*level.Config, error) {
	atomic.AddInt64(&c.requests, 1)

	data, err := c.client.Get(ctx, c.key(name)).Bytes()
	if err == nil {
		cfg, perr := level.Parse(data)
		if perr == nil {
			atomic.AddInt64(&c.hits, 1)
			if cfg.Name == "" {
				cfg.Name = name
			}
			return cfg, nil
		}
		// Битая запись: удаляем и читаем из источника
		logging.Warn("[Cache] повреждённая запись %s: %v", name, perr)
		c.client.Del(ctx, c.key(name))
	} else if !errors.Is(err, redis.Nil) {
		logging.Error("[Cache] Redis Get %s: %v", name, err)
	}

	atomic.AddInt64(&c.misses, 1)
	if c.cold == nil {
		return nil, fmt.Errorf("%w: %q", ErrCacheMiss, name)
	}

	cfg, err := c.cold.LoadLevel(name)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, name, cfg); err != nil {
		logging.Warn("[Cache] не удалось прогреть %s: %v", name, err)
	}
	return cfg, nil
}

// Set сохраняет уровень в Redis
func (c *LevelCache) Set(ctx context.Context, name string, cfg *level.Config) error {
	data, err := level.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(name), data, c.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Invalidate удаляет уровень из Redis и оповещает другие узлы
func (c *LevelCache) Invalidate(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, c.key(name)).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	if c.invalidator != nil {
		return c.invalidator.PublishInvalidation(ctx, name)
	}
	return nil
}

// GetMetrics возвращает счётчики кеша
func (c *LevelCache) GetMetrics() Metrics {
	m := Metrics{
		TotalRequests: atomic.LoadInt64(&c.requests),
		CacheHits:     atomic.LoadInt64(&c.hits),
		CacheMisses:   atomic.LoadInt64(&c.misses),
	}
	if m.TotalRequests > 0 {
		m.HitRatio = float64(m.CacheHits) / float64(m.TotalRequests)
	}
	return m
}

// Close закрывает соединение с Redis
func (c *LevelCache) Close() error {
	return c.client.Close()
}
