package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type syncMetrics struct {
	resyncTotal   *prometheus.CounterVec
	eventsApplied *prometheus.CounterVec
	state         prometheus.Gauge
	lastResync    prometheus.Gauge
}

var syncMetricsSingleton = sync.OnceValue(func() *syncMetrics {
	return &syncMetrics{
		resyncTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache_sync",
			Name:      "resync_total",
			Help:      "Total full resync passes, by outcome.",
		}, []string{"result"}),
		eventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache_sync",
			Name:      "events_applied_total",
			Help:      "Total lifecycle events applied to the cache, by kind.",
		}, []string{"kind"}),
		state: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalog",
			Subsystem: "cache_sync",
			Name:      "state",
			Help:      "Synchronizer state (0 = cold, 1 = warm).",
		}),
		lastResync: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "catalog",
			Subsystem: "cache_sync",
			Name:      "last_resync_timestamp_seconds",
			Help:      "Unix time of the last successful full resync.",
		}),
	}
})

func getSyncMetrics() *syncMetrics {
	return syncMetricsSingleton()
}
