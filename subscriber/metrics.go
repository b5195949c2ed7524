package subscriber

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusPolls           prometheus.Counter
	prometheusPollErrors      prometheus.Counter
	prometheusEventsPublished prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "subscriber",
		Name:      "polls",
		Help:      "Number of polling ticks",
	})
	prometheusPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "subscriber",
		Name:      "poll_errors",
		Help:      "Number of polling ticks that failed at least partly",
	})
	prometheusEventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "subscriber",
		Name:      "events_published",
		Help:      "Number of change and median time events published",
	})
}
