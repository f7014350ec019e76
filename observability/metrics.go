package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bountydMetricsOnce sync.Once
	bountydRegistry    *BountydMetrics
)

// BountydMetrics wraps collectors tracking lifecycle engine and scheduler
// health.
type BountydMetrics struct {
	escalations  *prometheus.CounterVec
	claims       *prometheus.CounterVec
	railErrors   *prometheus.CounterVec
	reconTasks   *prometheus.CounterVec
	reconBacklog prometheus.Gauge
	scanDuration prometheus.Histogram
}

// Bountyd exposes the lazily-initialised metrics registry for the service.
func Bountyd() *BountydMetrics {
	bountydMetricsOnce.Do(func() {
		bountydRegistry = &BountydMetrics{
			escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountybot",
				Subsystem: "engine",
				Name:      "escalations_total",
				Help:      "Escalation attempts segmented by outcome.",
			}, []string{"outcome"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountybot",
				Subsystem: "engine",
				Name:      "claims_total",
				Help:      "Claim settlements segmented by outcome.",
			}, []string{"outcome"}),
			railErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountybot",
				Subsystem: "engine",
				Name:      "rail_errors_total",
				Help:      "External rail failures segmented by rail and error class.",
			}, []string{"rail", "class"}),
			reconTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bountybot",
				Subsystem: "recon",
				Name:      "tasks_total",
				Help:      "Reconciliation tasks segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			reconBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "bountybot",
				Subsystem: "recon",
				Name:      "backlog",
				Help:      "Count of pending reconciliation tasks.",
			}),
			scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "bountybot",
				Subsystem: "escalation",
				Name:      "scan_duration_seconds",
				Help:      "Latency distribution for scheduler scan runs.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			bountydRegistry.escalations,
			bountydRegistry.claims,
			bountydRegistry.railErrors,
			bountydRegistry.reconTasks,
			bountydRegistry.reconBacklog,
			bountydRegistry.scanDuration,
		)
	})
	return bountydRegistry
}

// RecordEscalation counts an escalation attempt outcome.
func (m *BountydMetrics) RecordEscalation(outcome string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(label(outcome)).Inc()
}

// RecordClaim counts a claim settlement outcome.
func (m *BountydMetrics) RecordClaim(outcome string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(label(outcome)).Inc()
}

// RecordRailError counts a classified rail failure.
func (m *BountydMetrics) RecordRailError(railName, class string) {
	if m == nil {
		return
	}
	m.railErrors.WithLabelValues(label(railName), label(class)).Inc()
}

// RecordReconTask counts a reconciliation task transition.
func (m *BountydMetrics) RecordReconTask(kind, outcome string) {
	if m == nil {
		return
	}
	m.reconTasks.WithLabelValues(label(kind), label(outcome)).Inc()
}

// SetReconBacklog publishes the pending task count.
func (m *BountydMetrics) SetReconBacklog(count int64) {
	if m == nil {
		return
	}
	m.reconBacklog.Set(float64(count))
}

// ObserveScan records the duration of one scheduler scan.
func (m *BountydMetrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}

func label(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unspecified"
	}
	return trimmed
}
