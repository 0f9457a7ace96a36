package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shpitdev/contact-reveal/pkg/failover"
	"github.com/shpitdev/contact-reveal/pkg/provider"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	Attempts           *prometheus.CounterVec
	AttemptDuration    *prometheus.HistogramVec
	HealthTransitions  *prometheus.CounterVec
	HealthyCredentials prometheus.Gauge
	Polls              *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	BillingWarnings    prometheus.Counter
	Requeues           *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
}

// New creates and registers all metrics with reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_provider_attempts_total",
			Help: "Provider attempts by operation and outcome",
		}, []string{"op", "outcome"}),
		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reveal_provider_attempt_duration_seconds",
			Help:    "Duration of one provider attempt",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"op"}),
		HealthTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_credential_health_transitions_total",
			Help: "Credential health transitions by credential index and new state",
		}, []string{"credential", "state"}),
		HealthyCredentials: f.NewGauge(prometheus.GaugeOpts{
			Name: "reveal_credentials_healthy",
			Help: "Current number of healthy credentials",
		}),
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_job_polls_total",
			Help: "Job status polls by observed status",
		}, []string{"status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reveal_job_duration_seconds",
			Help:    "Time from job creation to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"result"}),
		BillingWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "reveal_job_billing_warning_with_data_total",
			Help: "Jobs flagged failed for billing that still returned usable data",
		}),
		Requeues: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_dispatch_requeues_total",
			Help: "Items put back on the dispatch queue by reason",
		}, []string{"reason"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reveal_cache_lookups_total",
			Help: "Result cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) Attempt(op string, outcome failover.Outcome, d time.Duration) {
	m.Attempts.WithLabelValues(op, string(outcome)).Inc()
	m.AttemptDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) HealthChanged(index int, healthy bool) {
	state := "unhealthy"
	if healthy {
		state = "healthy"
	}
	m.HealthTransitions.WithLabelValues(strconv.Itoa(index), state).Inc()
}

func (m *Metrics) HealthyCount(n int) {
	m.HealthyCredentials.Set(float64(n))
}

func (m *Metrics) Poll(status provider.Status) {
	m.Polls.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) JobFinished(result string, d time.Duration) {
	m.JobDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) BillingWarning() {
	m.BillingWarnings.Inc()
}

func (m *Metrics) Requeued(reason failover.Outcome) {
	m.Requeues.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) CacheHit() {
	m.CacheLookups.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	m.CacheLookups.WithLabelValues("miss").Inc()
}
