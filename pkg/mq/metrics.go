package mq

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	clientCalls    *prometheus.CounterVec
	clientLatency  *prometheus.HistogramVec
	clientInflight prometheus.Gauge

	serverRequests *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventsConsumed  *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		clientCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mq",
			Name:      "rpc_client_calls_total",
			Help:      "Total RPC calls issued, by method and outcome.",
		}, []string{"method", "result"}),
		clientLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mq",
			Name:      "rpc_client_call_duration_seconds",
			Help:      "Latency distribution of RPC calls.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"method", "result"}),
		clientInflight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "mq",
			Name:      "rpc_client_inflight",
			Help:      "Current number of in-flight RPC calls.",
		}),
		serverRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mq",
			Name:      "rpc_server_requests_total",
			Help:      "Total RPC requests handled, by method and outcome.",
		}, []string{"method", "result"}),
		eventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mq",
			Name:      "events_published_total",
			Help:      "Total events published, by routing key.",
		}, []string{"routing_key"}),
		eventsConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mq",
			Name:      "events_consumed_total",
			Help:      "Total events consumed, by routing key and outcome.",
		}, []string{"routing_key", "result"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}

const (
	resultSuccess   = "success"
	resultTimeout   = "timeout"
	resultTransport = "transport_error"
	resultApp       = "app_error"
	resultUnknown   = "unknown_method"
	resultFailure   = "failure"
)
