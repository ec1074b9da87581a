package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubject - subject уведомлений об изменённых уровнях
const DefaultSubject = "battlefield.levels.invalidate"

// InvalidationHandler обрабатывает уведомление об изменённом уровне
type InvalidationHandler func(key string) error

// NATSInvalidator рассылает имена изменённых уровней между узлами,
// чтобы локальные кеши (level.Registry) сбрасывали устаревшие записи.
// Собственные сообщения узла и повторные доставки игнорируются.
type NATSInvalidator struct {
	conn    *nats.Conn
	config  *InvalidatorConfig
	subject string
	nodeID  string

	// Подписки
	subscription *nats.Subscription
	handler      InvalidationHandler

	// Graceful shutdown
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	subMu     sync.Mutex

	// Дедупликация
	recentKeys map[string]time.Time
	keysMutex  sync.RWMutex

	// Метрики (используем atomic для thread safety)
	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

// InvalidatorConfig содержит конфигурацию для NATS invalidator.
type InvalidatorConfig struct {
	// NATS подключение
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`

	// Retry настройки
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`

	// Дедупликация
	DedupeWindow time.Duration `yaml:"dedupe_window"`

	// Timeouts
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// InvalidationMessage представляет сообщение об инвалидации кеша.
type InvalidationMessage struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Reason    string    `json:"reason,omitempty"`
}

// id идентифицирует сообщение для дедупликации
func (m InvalidationMessage) id() string {
	return m.NodeID + "|" + m.Key + "|" + m.Timestamp.Format(time.RFC3339Nano)
}

// NewNATSInvalidator подключается к NATS. nodeID отличает собственные
// сообщения узла; пустой nodeID заменяется случайным UUID.
func NewNATSInvalidator(config *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	applyInvalidatorDefaults(config)

	// Настройки NATS соединения
	opts := []nats.Option{
		nats.Name("battlefield-levels-" + nodeID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("NATS connection closed")
		}),
	}

	// Подключаемся к NATS
	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	invalidator := &NATSInvalidator{
		conn:       conn,
		config:     config,
		subject:    config.Subject,
		nodeID:     nodeID,
		stopCh:     make(chan struct{}),
		recentKeys: make(map[string]time.Time),
	}

	// Запускаем очистку дедупликации
	invalidator.startDedupeCleanup()

	logging.Info("[Cache] NATS invalidator: %s (subject: %s, node %s)", config.NATSURL, config.Subject, nodeID)
	return invalidator, nil
}

func applyInvalidatorDefaults(config *InvalidatorConfig) {
	if config.Subject == "" {
		config.Subject = DefaultSubject
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = time.Second
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = 5 * time.Second
	}
}

// PublishInvalidation оповещает узлы об изменении уровня key.
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	msg := &InvalidationMessage{
		Key:       key,
		Timestamp: time.Now(),
		NodeID:    n.getNodeID(),
		Reason:    "level_changed",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	err = n.conn.Publish(n.subject, data)
	if err == nil {
		// Дожидаемся отправки, чтобы ошибка соединения вернулась вызывающему
		ctx, cancel := context.WithTimeout(ctx, n.config.PublishTimeout)
		defer cancel()
		err = n.conn.FlushWithContext(ctx)
	}
	if err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Failed to publish invalidation for key %s: %v", key, err)
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}

	atomic.AddInt64(&n.publishedCount, 1)

	logging.Debug("Published invalidation for key: %s", key)
	return nil
}

// SubscribeInvalidations подписывается на уведомления других узлов.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if n.subscription != nil {
		return fmt.Errorf("already subscribed to invalidations")
	}

	n.handler = handler

	// Создаём подписку
	sub, err := n.conn.Subscribe(n.subject, n.handleInvalidationMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidations: %w", err)
	}

	n.subscription = sub

	// Запускаем мониторинг контекста для graceful shutdown
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
			n.unsubscribe()
		case <-n.stopCh:
			n.unsubscribe()
		}
	}()

	logging.Info("Subscribed to cache invalidations on subject: %s", n.subject)
	return nil
}

// Close закрывает соединение с NATS.
func (n *NATSInvalidator) Close() error {
	n.closeOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
	n.unsubscribe()

	n.conn.Close()
	logging.Info("NATS invalidator closed")
	return nil
}

// InvalidatorStats - счётчики invalidator
type InvalidatorStats struct {
	Published int64 `json:"published_count"`
	Received  int64 `json:"received_count"`
	Errors    int64 `json:"errors_count"`
	Connected bool  `json:"connected"`
}

// Stats возвращает счётчики invalidator
func (n *NATSInvalidator) Stats() InvalidatorStats {
	return InvalidatorStats{
		Published: atomic.LoadInt64(&n.publishedCount),
		Received:  atomic.LoadInt64(&n.receivedCount),
		Errors:    atomic.LoadInt64(&n.errorsCount),
		Connected: n.conn != nil && n.conn.IsConnected(),
	}
}

// handleInvalidationMessage обрабатывает входящие сообщения об инвалидации.
func (n *NATSInvalidator) handleInvalidationMessage(msg *nats.Msg) {
	n.receive(msg.Data)
}

func (n *NATSInvalidator) receive(data []byte) {
	atomic.AddInt64(&n.receivedCount, 1)

	var invalidationMsg InvalidationMessage
	if err := json.Unmarshal(data, &invalidationMsg); err != nil {
		atomic.AddInt64(&n.errorsCount, 1)
		logging.Error("Failed to unmarshal invalidation message: %v", err)
		return
	}

	// Проверяем что это не наше собственное сообщение
	if invalidationMsg.NodeID == n.getNodeID() {
		logging.Debug("Ignoring own invalidation message for key: %s", invalidationMsg.Key)
		return
	}

	// Повторная доставка того же сообщения
	id := invalidationMsg.id()
	if n.isDuplicate(id) {
		logging.Debug("Ignoring duplicate invalidation for key: %s", invalidationMsg.Key)
		return
	}
	n.recordKey(id)

	// Вызываем обработчик
	if n.handler != nil {
		if err := n.handler(invalidationMsg.Key); err != nil {
			atomic.AddInt64(&n.errorsCount, 1)
			logging.Error("Invalidation handler failed for key %s: %v", invalidationMsg.Key, err)
		} else {
			logging.Debug("Processed invalidation for key: %s", invalidationMsg.Key)
		}
	}
}

// unsubscribe отписывается от уведомлений.
func (n *NATSInvalidator) unsubscribe() {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if n.subscription != nil {
		if err := n.subscription.Unsubscribe(); err != nil {
			logging.Error("Failed to unsubscribe from invalidations: %v", err)
		} else {
			logging.Info("Unsubscribed from cache invalidations")
		}
		n.subscription = nil
	}
}

// isDuplicate проверяет, является ли ключ дублированным.
func (n *NATSInvalidator) isDuplicate(key string) bool {
	n.keysMutex.RLock()
	defer n.keysMutex.RUnlock()

	lastSeen, exists := n.recentKeys[key]
	if !exists {
		return false
	}

	// Проверяем окно дедупликации
	return time.Since(lastSeen) < n.config.DedupeWindow
}

// recordKey записывает ключ в дедупликацию.
func (n *NATSInvalidator) recordKey(key string) {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()

	n.recentKeys[key] = time.Now()
}

// startDedupeCleanup запускает периодическую очистку дедупликации.
func (n *NATSInvalidator) startDedupeCleanup() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ticker := time.NewTicker(n.config.DedupeWindow)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.cleanupDedupe()
			case <-n.stopCh:
				return
			}
		}
	}()
}

// cleanupDedupe удаляет старые записи из дедупликации.
func (n *NATSInvalidator) cleanupDedupe() {
	n.keysMutex.Lock()
	defer n.keysMutex.Unlock()

	now := time.Now()
	for key, timestamp := range n.recentKeys {
		if now.Sub(timestamp) > n.config.DedupeWindow {
			delete(n.recentKeys, key)
		}
	}
}

// getNodeID возвращает идентификатор узла.
func (n *NATSInvalidator) getNodeID() string {
	return n.nodeID
}
