// Package config читает конфигурацию приложения battlefield.
// Приоритет значений: файл конфигурации → переменная окружения → умолчание.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath - переменная окружения с путём к файлу конфигурации
const EnvConfigPath = "BATTLEFIELD_CONFIG"

// Config корневая структура конфигурации приложения.
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Level    LevelConfig    `yaml:"level"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type SessionConfig struct {
	TickMs    int `yaml:"tick_ms"`
	QueueSize int `yaml:"queue_size"`
}

// LevelConfig выбирает стартовый уровень: файл или имя в хранилище.
// Если не задано ни то, ни другое, сетка строится через Init по умолчанию.
type LevelConfig struct {
	File      string `yaml:"file"`
	Stored    string `yaml:"stored"`
	CacheSize int64  `yaml:"cache_size"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // none | memory | nats | redis
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	QueueSize int    `yaml:"queue_size"`
}

type StorageConfig struct {
	DataPath string `yaml:"data_path"`
}

// CacheConfig включает общий кеш уровней в Redis и рассылку
// инвалидаций через NATS для нескольких экземпляров
type CacheConfig struct {
	RedisAddr  string `yaml:"redis_addr"` // Пусто - общий кеш отключён
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	NATSURL    string `yaml:"nats_url"` // Пусто - без рассылки инвалидаций
	NodeID     string `yaml:"node_id"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{}
}

// TickInterval возвращает период тика сессии
func (s *SessionConfig) TickInterval() time.Duration {
	ms := getIntWithEnvFallback(s.TickMs, "BATTLEFIELD_TICK_MS", 33)
	return time.Duration(ms) * time.Millisecond
}

// GetQueueSize возвращает ёмкость очереди команд
func (s *SessionConfig) GetQueueSize() int {
	return getIntWithEnvFallback(s.QueueSize, "BATTLEFIELD_QUEUE_SIZE", 256)
}

// GetCacheSize возвращает ёмкость кеша уровней
func (l *LevelConfig) GetCacheSize() int64 {
	if l.CacheSize > 0 {
		return l.CacheSize
	}
	return 32
}

// GetBackend возвращает тип внешней шины событий
func (e *EventBusConfig) GetBackend() string {
	return strings.ToLower(getStringWithEnvFallback(e.Backend, "BATTLEFIELD_EVENTBUS", "none"))
}

// GetURL возвращает адрес внешней шины с умолчанием для выбранного типа
func (e *EventBusConfig) GetURL() string {
	switch e.GetBackend() {
	case "nats":
		return getStringWithEnvFallback(e.URL, "NATS_URL", "nats://127.0.0.1:4222")
	case "redis":
		return getStringWithEnvFallback(e.URL, "REDIS_ADDR", "localhost:6379")
	}
	return e.URL
}

// GetRetention возвращает срок хранения событий в JetStream
func (e *EventBusConfig) GetRetention() time.Duration {
	hours := e.Retention
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// GetTTL возвращает срок жизни записей общего кеша (0 - без истечения)
func (c *CacheConfig) GetTTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// GetDataPath возвращает каталог данных BadgerDB
func (s *StorageConfig) GetDataPath() string {
	return getStringWithEnvFallback(s.DataPath, "BATTLEFIELD_DATA", "data")
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getIntWithEnvFallback(s.RESTPort, "BATTLEFIELD_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getIntWithEnvFallback(s.MetricsPort, "BATTLEFIELD_METRICS_PORT", 2112)
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	// Если значение задано в конфиге и больше 0, используем его
	if configVal > 0 {
		return configVal
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	// Используем дефолтное значение
	return defaultVal
}

func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать путь из BATTLEFIELD_CONFIG;
// если и он не задан, возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения, которые нельзя исправить умолчаниями
func (c *Config) Validate() error {
	switch c.EventBus.GetBackend() {
	case "none", "memory", "nats", "redis":
	default:
		return fmt.Errorf("config: неизвестный eventbus.backend %q", c.EventBus.Backend)
	}
	if c.Level.File != "" && c.Level.Stored != "" {
		return fmt.Errorf("config: level.file и level.stored взаимоисключающие")
	}
	return nil
}
