package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	submissions       *prometheus.CounterVec
	pollTicks         *prometheus.CounterVec
	lifecycleOutcomes *prometheus.CounterVec
	activeSessions    prometheus.Gauge
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bfa_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_submissions_total",
				Help: "Transaction submission attempts by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		pollTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_poll_ticks_total",
				Help: "Status polling ticks by observed status (or \"error\").",
			},
			[]string{"status"},
		),
		lifecycleOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bfa_lifecycle_outcomes_total",
				Help: "Lifecycles ended by kind and final status.",
			},
			[]string{"kind", "status"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bfa_polling_sessions_active",
				Help: "Polling sessions currently running.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrSubmission counts a submission attempt.
func (m *Metrics) IncrSubmission(kind, outcome string) {
	m.submissions.WithLabelValues(kind, outcome).Inc()
}

// IncrPollTick counts one polling tick.
func (m *Metrics) IncrPollTick(status string) {
	m.pollTicks.WithLabelValues(status).Inc()
}

// IncrLifecycleOutcome counts a lifecycle that ended.
func (m *Metrics) IncrLifecycleOutcome(kind, status string) {
	m.lifecycleOutcomes.WithLabelValues(kind, status).Inc()
}

// SessionStarted and SessionEnded track the active polling sessions gauge.
func (m *Metrics) SessionStarted() { m.activeSessions.Inc() }
func (m *Metrics) SessionEnded()   { m.activeSessions.Dec() }

// LifecycleSnapshot is served by GET /v1/metrics/lifecycle.
type LifecycleSnapshot struct {
	ActiveSessions     int64   `json:"activeSessions"`
	Submitted          int64   `json:"submitted"`
	Rejected           int64   `json:"rejected"`
	PollTicks          int64   `json:"pollTicks"`
	PollErrors         int64   `json:"pollErrors"`
	PollErrorRate      float64 `json:"pollErrorRate"`
	Completed          int64   `json:"completed"`
	Failed             int64   `json:"failed"`
	StatusCacheHitRate float64 `json:"statusCacheHitRate"`
	GatewayErrors      int64   `json:"gatewayErrors"`
}

// Snapshot gathers the cumulative counters into a LifecycleSnapshot.
func (m *Metrics) Snapshot() *LifecycleSnapshot {
	var submitted, rejected, completed, failed float64
	for _, kind := range []string{"deposit", "withdrawal", "transfer"} {
		submitted += counterValue(m.submissions, kind, "accepted")
		rejected += counterValue(m.submissions, kind, "rejected") + counterValue(m.submissions, kind, "undelivered")
		completed += counterValue(m.lifecycleOutcomes, kind, "COMPLETED")
		failed += counterValue(m.lifecycleOutcomes, kind, "FAILED")
	}

	pollErrors := counterValue(m.pollTicks, "error")
	pollTicks := pollErrors
	for _, status := range []string{"PENDING", "COMPLETED", "FAILED", "RETAINED"} {
		pollTicks += counterValue(m.pollTicks, status)
	}

	hits := counterValue(m.cacheHits, "status")
	misses := counterValue(m.cacheMisses, "status")

	snap := &LifecycleSnapshot{
		ActiveSessions: int64(gaugeValue(m.activeSessions)),
		Submitted:      int64(submitted),
		Rejected:       int64(rejected),
		PollTicks:      int64(pollTicks),
		PollErrors:     int64(pollErrors),
		Completed:      int64(completed),
		Failed:         int64(failed),
		GatewayErrors:  int64(counterValue(m.externalErrors, "gateway")),
	}
	if pollTicks > 0 {
		snap.PollErrorRate = pollErrors / pollTicks
	}
	if hits+misses > 0 {
		snap.StatusCacheHitRate = hits / (hits + misses)
	}
	return snap
}

// counterValue extracts the current float64 value from a CounterVec for the given labels.
func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	if m.Gauge != nil && m.Gauge.Value != nil {
		return *m.Gauge.Value
	}
	return 0
}
