package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_indexer_activity_events_total",
			Help: "Total number of activity events received by the recorder",
		},
		[]string{"status"},
	)

	ActivityFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_indexer_activity_flush_total",
			Help: "Total number of activity batch flushes",
		},
		[]string{"status"},
	)

	ActivityFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bonds_indexer_activity_flush_duration_seconds",
			Help:    "Duration of activity batch flushes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
	)

	ActivityRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bonds_indexer_activity_rows_written_total",
			Help: "Total number of activity rows written to ClickHouse",
		},
	)
)
