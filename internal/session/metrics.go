package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - Prometheus-метрики тикового цикла
type Metrics struct {
	ticks           prometheus.Counter
	tickDuration    prometheus.Histogram
	tickPanics      prometheus.Counter
	tickables       prometheus.Gauge
	commands        *prometheus.CounterVec
	commandDuration prometheus.Histogram
	queue           prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "ticks_total",
			Help:      "Выполненные тики.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "session",
			Name:      "tick_duration_seconds",
			Help:      "Длительность обработки тика.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.033, 0.1},
		}),
		tickPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "tick_panics_total",
			Help:      "Паники участников тиков.",
		}),
		tickables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "session",
			Name:      "tickables",
			Help:      "Зарегистрированные участники тиков.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "commands_total",
			Help:      "Команды по результату (ok, error, expired).",
		}, []string{"result"}),
		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "session",
			Name:      "command_duration_seconds",
			Help:      "Длительность выполнения команды.",
			Buckets:   prometheus.DefBuckets,
		}),
		queue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "session",
			Name:      "command_queue",
			Help:      "Команды в очереди.",
		}),
	}

	reg.MustRegister(m.ticks, m.tickDuration, m.tickPanics, m.tickables, m.commands, m.commandDuration, m.queue)
	return m
}
