package grid

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - Prometheus-метрики сетки
type Metrics struct {
	occupied      prometheus.Gauge
	tiles         prometheus.Gauge
	loads         prometheus.Counter
	rejectedLoads prometheus.Counter
	occupancyOps  *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grid",
			Name:      "occupied_tiles",
			Help:      "Количество занятых клеток.",
		}),
		tiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "grid",
			Name:      "tiles",
			Help:      "Количество клеток текущей сетки.",
		}),
		loads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grid",
			Name:      "loads_total",
			Help:      "Успешные построения сетки (Init и LoadFromConfig).",
		}),
		rejectedLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "grid",
			Name:      "rejected_loads_total",
			Help:      "Отклонённые загрузки уровня.",
		}),
		occupancyOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grid",
			Name:      "occupancy_ops_total",
			Help:      "Операции с занимающим клетки.",
		}, []string{"op"}),
	}

	reg.MustRegister(m.occupied, m.tiles, m.loads, m.rejectedLoads, m.occupancyOps)
	return m
}
