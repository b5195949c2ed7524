package pending

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusSent         prometheus.Counter
	prometheusAlreadySpent prometheus.Counter
	prometheusSelfHealed   prometheus.Counter
	prometheusEvicted      *prometheus.CounterVec
	prometheusTracked      prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "pending",
		Name:      "sent",
		Help:      "Number of transactions sent and tracked",
	})
	prometheusAlreadySpent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "pending",
		Name:      "already_spent",
		Help:      "Number of sends refused because an input is already spent",
	})
	prometheusSelfHealed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "pending",
		Name:      "self_healed",
		Help:      "Number of tracked transactions dropped after their cells were seen confirmed",
	})
	prometheusEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "pending",
		Name:      "evicted",
		Help:      "Number of tracked transactions evicted by reconciliation, by final status",
	}, []string{"status"})
	prometheusTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cellindex",
		Subsystem: "pending",
		Name:      "tracked",
		Help:      "Number of tracked transactions at the start of the last reconciliation",
	})
}
