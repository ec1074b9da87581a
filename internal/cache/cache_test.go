package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOfflineInvalidator создаёт invalidator без соединения для проверки приёма
func newOfflineInvalidator(nodeID string) *NATSInvalidator {
	cfg := &InvalidatorConfig{}
	applyInvalidatorDefaults(cfg)
	return &NATSInvalidator{
		config:     cfg,
		subject:    cfg.Subject,
		nodeID:     nodeID,
		stopCh:     make(chan struct{}),
		recentKeys: make(map[string]time.Time),
	}
}

func encode(t *testing.T, msg InvalidationMessage) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestInvalidator_Receive(t *testing.T) {
	n := newOfflineInvalidator("node-a")
	var got []string
	n.handler = func(key string) error {
		got = append(got, key)
		return nil
	}

	now := time.Now()
	foreign := InvalidationMessage{Key: "arena", Timestamp: now, NodeID: "node-b"}

	n.receive(encode(t, foreign))
	n.receive(encode(t, foreign)) // повторная доставка
	n.receive(encode(t, InvalidationMessage{Key: "arena", Timestamp: now.Add(time.Millisecond), NodeID: "node-b"}))
	n.receive(encode(t, InvalidationMessage{Key: "bridge", Timestamp: now, NodeID: "node-a"})) // своё
	n.receive([]byte("{broken"))

	assert.Equal(t, []string{"arena", "arena"}, got, "новое сохранение того же уровня не теряется")
	m := n.Stats()
	assert.Equal(t, int64(5), m.Received)
	assert.Equal(t, int64(1), m.Errors)
}

func TestInvalidator_HandlerError(t *testing.T) {
	n := newOfflineInvalidator("node-a")
	n.handler = func(string) error { return errors.New("boom") }

	n.receive(encode(t, InvalidationMessage{Key: "arena", Timestamp: time.Now(), NodeID: "node-b"}))
	assert.Equal(t, int64(1), n.Stats().Errors)
}

func TestInvalidator_DedupeCleanup(t *testing.T) {
	n := newOfflineInvalidator("node-a")
	n.config.DedupeWindow = 10 * time.Millisecond

	n.recordKey("x")
	assert.True(t, n.isDuplicate("x"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, n.isDuplicate("x"))
	n.cleanupDedupe()
	assert.Empty(t, n.recentKeys)
}

func TestLevelCache_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR не задан")
	}

	loads := 0
	cold := level.SourceFunc(func(name string) (*level.Config, error) {
		loads++
		if name == "missing" {
			return nil, errors.New("not found")
		}
		cfg := level.Default()
		cfg.Name = name
		return cfg, nil
	})

	ctx := context.Background()
	lc, err := NewLevelCache(ctx, Config{RedisAddr: addr, Prefix: "battlefield-test:" + time.Now().Format("150405.000") + ":"}, cold, nil)
	require.NoError(t, err)
	defer lc.Close()

	first, err := lc.Get(ctx, "arena")
	require.NoError(t, err)
	assert.Equal(t, 10, first.MapWidth)

	_, err = lc.LoadLevel("arena")
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "второе чтение из Redis")

	require.NoError(t, lc.Invalidate(ctx, "arena"))
	_, err = lc.Get(ctx, "arena")
	require.NoError(t, err)
	assert.Equal(t, 2, loads)

	_, err = lc.Get(ctx, "missing")
	assert.Error(t, err)

	m := lc.GetMetrics()
	assert.Equal(t, int64(4), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
}

func TestInvalidator_NATS(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL не задан")
	}

	a, err := NewNATSInvalidator(&InvalidatorConfig{NATSURL: url, Subject: "battlefield.test.invalidate"}, "node-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewNATSInvalidator(&InvalidatorConfig{NATSURL: url, Subject: "battlefield.test.invalidate"}, "node-b")
	require.NoError(t, err)
	defer b.Close()

	got := make(chan string, 1)
	require.NoError(t, b.SubscribeInvalidations(context.Background(), func(key string) error {
		got <- key
		return nil
	}))
	require.NoError(t, b.conn.Flush())

	require.NoError(t, a.PublishInvalidation(context.Background(), "arena"))
	select {
	case key := <-got:
		assert.Equal(t, "arena", key)
	case <-time.After(2 * time.Second):
		t.Fatal("инвалидация не доставлена")
	}
}
