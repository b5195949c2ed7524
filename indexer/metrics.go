package indexer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusCellPages      prometheus.Counter
	prometheusCellsCollected prometheus.Counter
	prometheusTxPages        prometheus.Counter
	prometheusTxResolved     prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusCellPages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "indexer",
		Name:      "cell_pages",
		Help:      "Number of get_cells pages fetched",
	})
	prometheusCellsCollected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "indexer",
		Name:      "cells_collected",
		Help:      "Number of cells yielded by cell collectors",
	})
	prometheusTxPages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "indexer",
		Name:      "transaction_pages",
		Help:      "Number of get_transactions pages fetched",
	})
	prometheusTxResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cellindex",
		Subsystem: "indexer",
		Name:      "transactions_resolved",
		Help:      "Number of transactions resolved from the node",
	})
}
