package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cellindex",
			Subsystem: "rpc",
			Name:      "requests",
			Help:      "Number of JSON-RPC calls by method",
		},
		[]string{"method"},
	)
	prometheusErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cellindex",
			Subsystem: "rpc",
			Name:      "errors",
			Help:      "Number of failed JSON-RPC calls by method",
		},
		[]string{"method"},
	)
)
