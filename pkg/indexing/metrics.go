package indexing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmindexor_indexing_fetch_duration_seconds",
			Help:    "Duration of a single windowed log fetch, by network.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network"},
	)

	rangeShrinks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindexor_indexing_range_shrinks_total",
			Help: "Number of times a fetch window was shrunk after a range-too-wide error.",
		},
		[]string{"network"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindexor_indexing_dispatch_total",
			Help: "Number of batches dispatched, by delivery mode.",
		},
		[]string{"mode"},
	)

	permitsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindexor_indexing_permits_in_use",
			Help: "Number of concurrency permits currently held by in-flight units.",
		},
	)

	reorgClamps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindexor_indexing_reorg_clamps_total",
			Help: "Number of times a unit's end or polled head was clamped by the reorg safe distance.",
		},
		[]string{"network"},
	)
)

func observeFetchDuration(network string, d time.Duration) {
	fetchDuration.WithLabelValues(network).Observe(d.Seconds())
}

func incRangeShrink(network string) {
	rangeShrinks.WithLabelValues(network).Inc()
}

func incDispatch(mode string) {
	dispatchTotal.WithLabelValues(mode).Inc()
}

func incReorgClamp(network string) {
	reorgClamps.WithLabelValues(network).Inc()
}
