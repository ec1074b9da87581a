package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr     string // Адрес Redis сервера
	Password string // Пароль (пустой если не требуется)
	DB       int    // Номер базы данных
	Prefix   string // Префикс каналов
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: SubjectPrefix + ":",
	}
}

// RedisBus реализует EventBus поверх Redis Pub/Sub. Доставка «не более
// одного раза»: события, опубликованные без подписчиков, теряются.
type RedisBus struct {
	client *redis.Client
	prefix string

	published uint64
	consumed  uint64
	dropped   uint64

	mu   sync.Mutex
	subs map[*redisSub]struct{}
}

// NewRedisBus подключается к Redis и проверяет соединение
func NewRedisBus(ctx context.Context, cfg *RedisConfig) (*RedisBus, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = SubjectPrefix + ":"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	logging.Info("[EventBus] Redis подключён: %s", cfg.Addr)
	return &RedisBus{
		client: client,
		prefix: cfg.Prefix,
		subs:   make(map[*redisSub]struct{}),
	}, nil
}

func (rb *RedisBus) channel(eventType string) string {
	return rb.prefix + eventType
}

// Publish публикует Envelope в канал <prefix><type>
func (rb *RedisBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		atomic.AddUint64(&rb.dropped, 1)
		return err
	}
	if err := rb.client.Publish(ctx, rb.channel(ev.EventType), data).Err(); err != nil {
		atomic.AddUint64(&rb.dropped, 1)
		return fmt.Errorf("redis publish: %w", err)
	}
	atomic.AddUint64(&rb.published, 1)
	return nil
}

// Subscribe подписывается по шаблону и фильтрует события на стороне клиента
func (rb *RedisBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	pattern := rb.prefix + "*"
	if len(f.Types) == 1 {
		pattern = rb.channel(f.Types[0])
	}

	ps := rb.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis psubscribe %s: %w", pattern, err)
	}

	cctx, cancel := context.WithCancel(ctx)
	sub := &redisSub{bus: rb, ps: ps, cancel: cancel, done: make(chan struct{})}

	rb.mu.Lock()
	rb.subs[sub] = struct{}{}
	rb.mu.Unlock()

	go func() {
		defer close(sub.done)
		msgs := ps.Channel()
		for {
			select {
			case <-cctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					atomic.AddUint64(&rb.dropped, 1)
					logging.Warn("[EventBus] повреждённое сообщение в %s: %v", msg.Channel, err)
					continue
				}
				if !matchFilter(&ev, f) {
					continue
				}
				h(cctx, &ev)
				atomic.AddUint64(&rb.consumed, 1)
			}
		}
	}()

	return sub, nil
}

// Metrics возвращает текущие метрики.
func (rb *RedisBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&rb.published),
		Consumed:  atomic.LoadUint64(&rb.consumed),
		Dropped:   atomic.LoadUint64(&rb.dropped),
	}
}

// Close отписывает всех подписчиков и закрывает клиент
func (rb *RedisBus) Close() error {
	rb.mu.Lock()
	subs := make([]*redisSub, 0, len(rb.subs))
	for s := range rb.subs {
		subs = append(subs, s)
	}
	rb.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	return rb.client.Close()
}

type redisSub struct {
	bus    *RedisBus
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *redisSub) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		_ = s.ps.Close()
		<-s.done

		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
}
