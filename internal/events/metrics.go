package events

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter периодически переносит Stats канала в Prometheus-метрики.
// Экспортер опирается только на Stats и не вмешивается в доставку.
type MetricsExporter struct {
	ch   *Channel
	quit chan struct{}
	done chan struct{}

	published   prometheus.Counter
	delivered   prometheus.Counter
	failed      prometheus.Counter
	dropped     prometheus.Counter
	subscribers prometheus.Gauge

	prev Stats
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg.
func NewMetricsExporter(ch *Channel, reg prometheus.Registerer) *MetricsExporter {
	me := &MetricsExporter{
		ch:   ch,
		quit: make(chan struct{}),
		done: make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grid_events",
			Name:      "published_total",
			Help:      "Общее число опубликованных событий.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grid_events",
			Name:      "delivered_total",
			Help:      "Успешные вызовы подписчиков.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grid_events",
			Name:      "handler_failures_total",
			Help:      "Вызовы подписчиков, завершившиеся ошибкой или паникой.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grid_events",
			Name:      "dropped_total",
			Help:      "События, отброшенные защитой от рекурсивной рассылки.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grid_events",
			Name:      "subscribers",
			Help:      "Количество активных подписчиков.",
		}),
	}

	reg.MustRegister(me.published, me.delivered, me.failed, me.dropped, me.subscribers)
	return me
}

// Collect переносит приращения счётчиков с момента прошлого вызова
func (m *MetricsExporter) Collect() {
	stats := m.ch.Stats()

	if d := stats.Published - m.prev.Published; d > 0 {
		m.published.Add(float64(d))
	}
	if d := stats.Delivered - m.prev.Delivered; d > 0 {
		m.delivered.Add(float64(d))
	}
	if d := stats.Failed - m.prev.Failed; d > 0 {
		m.failed.Add(float64(d))
	}
	if d := stats.Dropped - m.prev.Dropped; d > 0 {
		m.dropped.Add(float64(d))
	}
	m.subscribers.Set(float64(stats.Subscribers))

	m.prev = stats
}

// Start запускает периодический сбор. Метод неблокирующий.
func (m *MetricsExporter) Start(every time.Duration) {
	go m.loop(every)
}

// Stop останавливает сбор метрик
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.Collect()
		case <-m.quit:
			return
		}
	}
}
