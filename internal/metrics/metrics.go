// Package metrics exposes the rate-limit and call-latency series on a private
// prometheus registry. The stdio servers have no scrape endpoint, so the
// registry is surfaced through Snapshot and served by the stats tool instead.
package metrics

import (
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "tgmcp"

// LatencyBuckets are the upper bounds of the call latency histogram, seconds.
var LatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5}

// Metrics bundles the counters the rate-limit kernel reports into.
type Metrics struct {
	registry *prometheus.Registry

	RateLimitRequests  prometheus.Counter
	RateLimitThrottled prometheus.Counter
	FloodWaitEvents    prometheus.Counter
	CallLatency        prometheus.Histogram
}

// New builds a metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RateLimitRequests: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_requests_total",
			Help:      "Guarded calls that entered the rate limiter.",
		}),
		RateLimitThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_throttled_total",
			Help:      "Acquisitions that had to wait for bucket refill.",
		}),
		FloodWaitEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_wait_events_total",
			Help:      "FLOOD_WAIT responses observed from Telegram.",
		}),
		CallLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_latency_seconds",
			Help:      "Latency of underlying Telegram calls.",
			Buckets:   LatencyBuckets,
		}),
	}
}

// Registry returns the backing registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveCall records one call latency.
func (m *Metrics) ObserveCall(d time.Duration) {
	m.CallLatency.Observe(d.Seconds())
}

// Snapshot gathers the registry into the stats-tool payload. Histogram counts
// are reported per bucket rather than cumulatively, plus a +Inf overflow.
func (m *Metrics) Snapshot() map[string]any {
	out := map[string]any{
		"rate_limit_requests_total":  float64(0),
		"rate_limit_throttled_total": float64(0),
		"flood_wait_events_total":    float64(0),
		"call_latency_seconds":       emptyBuckets(),
	}
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		metric := mf.GetMetric()[0]
		switch mf.GetName() {
		case namespace + "_rate_limit_requests_total":
			out["rate_limit_requests_total"] = metric.GetCounter().GetValue()
		case namespace + "_rate_limit_throttled_total":
			out["rate_limit_throttled_total"] = metric.GetCounter().GetValue()
		case namespace + "_flood_wait_events_total":
			out["flood_wait_events_total"] = metric.GetCounter().GetValue()
		case namespace + "_call_latency_seconds":
			out["call_latency_seconds"] = bucketCounts(metric.GetHistogram())
		}
	}
	return out
}

func emptyBuckets() map[string]uint64 {
	out := make(map[string]uint64, len(LatencyBuckets)+1)
	for _, b := range LatencyBuckets {
		out[bucketLabel(b)] = 0
	}
	out["+Inf"] = 0
	return out
}

func bucketCounts(h *dto.Histogram) map[string]uint64 {
	out := emptyBuckets()
	var prev uint64
	for _, b := range h.GetBucket() {
		upper := b.GetUpperBound()
		if math.IsInf(upper, 1) {
			continue
		}
		cum := b.GetCumulativeCount()
		out[bucketLabel(upper)] = cum - prev
		prev = cum
	}
	out["+Inf"] = h.GetSampleCount() - prev
	return out
}

func bucketLabel(upper float64) string {
	return strconv.FormatFloat(upper, 'g', -1, 64)
}
