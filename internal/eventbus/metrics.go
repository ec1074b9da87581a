package eventbus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter периодически переносит Stats шины и Relay в Prometheus-метрики.
// Экспортер не делает предположений о конкретной реализации шины –
// он опирается исключительно на интерфейс EventBus.
type MetricsExporter struct {
	bus   EventBus
	relay *Relay
	quit  chan struct{}
	done  chan struct{}

	published      prometheus.Counter
	consumed       prometheus.Counter
	dropped        prometheus.Counter
	inflight       prometheus.Gauge
	relayForwarded prometheus.Counter
	relayFailed    prometheus.Counter
	relayDropped   prometheus.Counter

	prev      Stats
	prevRelay RelayStats
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg.
// relay может быть nil.
func NewMetricsExporter(bus EventBus, relay *Relay, reg prometheus.Registerer) *MetricsExporter {
	me := &MetricsExporter{
		bus:   bus,
		relay: relay,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных сообщений.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число доставленных сообщений подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или ограничения back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "messages_inflight",
			Help:      "Количество сообщений, находящихся в очереди (не доставленных).",
		}),
		relayForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "relay_forwarded_total",
			Help:      "События сетки, переданные во внешнюю шину.",
		}),
		relayFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "relay_failed_total",
			Help:      "События сетки, которые не удалось передать.",
		}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "relay_dropped_total",
			Help:      "События сетки, отброшенные из-за переполнения очереди.",
		}),
	}

	reg.MustRegister(me.published, me.consumed, me.dropped, me.inflight,
		me.relayForwarded, me.relayFailed, me.relayDropped)
	return me
}

// Start запускает периодическое обновление метрик. Метод неблокирующий.
func (m *MetricsExporter) Start(every time.Duration) {
	go m.loop(every)
}

// Stop останавливает обновление метрик.
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

// Collect переносит приращения счётчиков в Prometheus
func (m *MetricsExporter) Collect() {
	stats := m.bus.Metrics()
	addDelta(m.published, stats.Published, m.prev.Published)
	addDelta(m.consumed, stats.Consumed, m.prev.Consumed)
	addDelta(m.dropped, stats.Dropped, m.prev.Dropped)
	m.inflight.Set(float64(stats.InFlight))
	m.prev = stats

	if m.relay == nil {
		return
	}
	rs := m.relay.Stats()
	addDelta(m.relayForwarded, rs.Forwarded, m.prevRelay.Forwarded)
	addDelta(m.relayFailed, rs.Failed, m.prevRelay.Failed)
	addDelta(m.relayDropped, rs.Dropped, m.prevRelay.Dropped)
	m.prevRelay = rs
}

func addDelta(c prometheus.Counter, cur, prev uint64) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}
