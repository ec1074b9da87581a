package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "battlefield.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 33*time.Millisecond, cfg.Session.TickInterval())
	assert.Equal(t, 8088, cfg.Server.GetRESTPort())
	assert.Equal(t, 2112, cfg.Server.GetMetricsPort())
	assert.Equal(t, "none", cfg.EventBus.GetBackend())
	assert.Equal(t, int64(32), cfg.Level.GetCacheSize())
	assert.Equal(t, 24*time.Hour, cfg.EventBus.GetRetention())
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
session:
  tick_ms: 50
level:
  file: levels/bridge.yaml
eventbus:
  backend: NATS
  stream: GRID
  retention_hours: 2
server:
  rest_port: 9000
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, cfg.Session.TickInterval())
	assert.Equal(t, "levels/bridge.yaml", cfg.Level.File)
	assert.Equal(t, "nats", cfg.EventBus.GetBackend())
	assert.Equal(t, 2*time.Hour, cfg.EventBus.GetRetention())
	assert.Equal(t, 9000, cfg.Server.GetRESTPort())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  metrics_port: 9100\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.GetMetricsPort())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "session: [oops"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "eventbus:\n  backend: kafka\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "level:\n  file: a.yaml\n  stored: a\n"))
	assert.Error(t, err)
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("BATTLEFIELD_REST_PORT", "7001")
	t.Setenv("BATTLEFIELD_TICK_MS", "not-a-number")
	t.Setenv("BATTLEFIELD_EVENTBUS", "redis")
	t.Setenv("REDIS_ADDR", "")

	var s ServerConfig
	assert.Equal(t, 7001, s.GetRESTPort())
	s.RESTPort = 8000
	assert.Equal(t, 8000, s.GetRESTPort(), "значение из файла важнее окружения")

	var sess SessionConfig
	assert.Equal(t, 33*time.Millisecond, sess.TickInterval(), "нечисловое значение игнорируется")

	var eb EventBusConfig
	assert.Equal(t, "redis", eb.GetBackend())
	assert.Equal(t, "localhost:6379", eb.GetURL())
}
