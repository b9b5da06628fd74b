// Package metrics exposes the gateway's operational surface: Prometheus
// collectors fed from call results, and a small HTTP server publishing them
// alongside health and governor state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sawpanic/tradegate/internal/models"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradegate",
		Name:      "calls_total",
		Help:      "Completed facade calls by provider, operation and outcome.",
	}, []string{"provider", "operation", "outcome"})

	callAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradegate",
		Name:      "call_attempts",
		Help:      "Dispatch attempts per call.",
		Buckets:   []float64{1, 2, 3, 5, 10, 20},
	}, []string{"provider", "operation"})

	phaseSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradegate",
		Name:      "call_phase_seconds",
		Help:      "Per-phase call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
	}, []string{"provider", "operation", "phase"})

	governorUsage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradegate",
		Name:      "governor_usage_fraction",
		Help:      "Fractional window usage per governor ledger; 1 is exhausted.",
	}, []string{"provider", "kind"})
)

// Observe records one completed call from its result envelope.
func Observe[T any](provider, operation string, res models.Result[T]) {
	outcome := "ok"
	if !res.OK {
		outcome = "fail"
	}
	callsTotal.WithLabelValues(provider, operation, outcome).Inc()

	if tp := res.TimeProfile; tp != nil {
		if tp.Attempts > 0 {
			callAttempts.WithLabelValues(provider, operation).Observe(float64(tp.Attempts))
		}
		phaseSeconds.WithLabelValues(provider, operation, "queue").Observe(tp.QueueWait().Seconds())
		phaseSeconds.WithLabelValues(provider, operation, "wire").Observe(tp.WireTime().Seconds())
		phaseSeconds.WithLabelValues(provider, operation, "total").Observe(tp.Total().Seconds())
	}
	for _, u := range res.Usage {
		governorUsage.WithLabelValues(provider, string(u.Kind)).Set(u.Fraction)
	}
}
