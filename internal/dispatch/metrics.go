package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments both dispatcher pools. All collectors are namespaced
// "signalcheck_dispatch" and labeled by pool ("bus" or "tests").
type Metrics struct {
	Inflight  *prometheus.GaugeVec
	Depth     *prometheus.GaugeVec
	Processed *prometheus.CounterVec
	Latency   *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalcheck",
			Subsystem: "dispatch",
			Name:      "inflight_workers",
			Help:      "Workers currently processing a message.",
		}, []string{"pool"}),
		Depth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalcheck",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Messages queued across the pool's worker shards.",
		}, []string{"pool"}),
		Processed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalcheck",
			Subsystem: "dispatch",
			Name:      "processed_total",
			Help:      "Messages processed, by outcome.",
		}, []string{"pool", "outcome"}),
		Latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalcheck",
			Subsystem: "dispatch",
			Name:      "handle_seconds",
			Help:      "Per-message handling latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"pool"}),
	}
}
