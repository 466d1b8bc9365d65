package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sequence metrics
	ActionsTotal   *prometheus.CounterVec
	SendsTotal     *prometheus.CounterVec
	SendDuration   prometheus.Histogram
	LockWait       prometheus.Histogram
	DedupedReplays prometheus.Counter
}

// New creates a Metrics instance registered on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequence_actions_total",
				Help: "Sequence actions by name and outcome",
			},
			[]string{"action", "outcome"},
		),
		SendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sequence_sends_total",
				Help: "Sequence and manual sends by template and delivery status",
			},
			[]string{"template_key", "status"},
		),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sequence_send_duration_seconds",
			Help:    "Time spent in the message transport per send",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}),
		LockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sequence_lock_wait_seconds",
			Help:    "Time spent waiting for the per-recipient lock",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		DedupedReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "transport_deduplicated_sends_total",
			Help: "Sends answered from the idempotency cache instead of the provider",
		}),
	}
}

// RecordAction counts one sequence action outcome
func (m *Metrics) RecordAction(action, outcome string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordSend counts one send and its transport latency
func (m *Metrics) RecordSend(templateKey, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.SendsTotal.WithLabelValues(templateKey, status).Inc()
	m.SendDuration.Observe(took.Seconds())
}

// RecordLockWait observes time spent acquiring a recipient lock
func (m *Metrics) RecordLockWait(took time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.Observe(took.Seconds())
}

// RecordDedupedReplay counts a send answered from the idempotency cache
func (m *Metrics) RecordDedupedReplay() {
	if m == nil {
		return
	}
	m.DedupedReplays.Inc()
}
