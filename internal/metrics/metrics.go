// Package metrics holds the Prometheus collectors for the claim pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ClaimsDetected   prometheus.Counter
	Transitions      *prometheus.CounterVec
	PayoutFailures   *prometheus.CounterVec
	StuckClaims      prometheus.Counter
	StoreWriteErrors prometheus.Counter
	Dropped          *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	StepDuration     *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		ClaimsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paybridge",
			Name:      "claims_detected_total",
			Help:      "Claims inserted for the first time.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paybridge",
			Name:      "claim_transitions_total",
			Help:      "Applied claim status transitions.",
		}, []string{"to"}),
		PayoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paybridge",
			Name:      "payout_failures_total",
			Help:      "Payout attempts that did not succeed, by reason.",
		}, []string{"reason"}),
		StuckClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paybridge",
			Name:      "claims_stuck_total",
			Help:      "Claims that need operator action.",
		}),
		StoreWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paybridge",
			Name:      "store_write_errors_total",
			Help:      "Store writes that failed after retries.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paybridge",
			Name:      "broadcast_dropped_total",
			Help:      "Broadcast messages dropped, by sink.",
		}, []string{"sink"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paybridge",
			Name:      "queue_depth",
			Help:      "Claim events waiting for a worker.",
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paybridge",
			Name:      "step_duration_seconds",
			Help:      "External call latency by pipeline step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
	}
	reg.MustRegister(
		m.ClaimsDetected,
		m.Transitions,
		m.PayoutFailures,
		m.StuckClaims,
		m.StoreWriteErrors,
		m.Dropped,
		m.QueueDepth,
		m.StepDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncDetected() {
	if m != nil {
		m.ClaimsDetected.Inc()
	}
}

func (m *Metrics) IncTransition(to string) {
	if m != nil {
		m.Transitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) IncPayoutFailure(reason string) {
	if m != nil {
		m.PayoutFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncStuck() {
	if m != nil {
		m.StuckClaims.Inc()
	}
}

func (m *Metrics) IncStoreWriteError() {
	if m != nil {
		m.StoreWriteErrors.Inc()
	}
}

func (m *Metrics) IncDropped(sink string) {
	if m != nil {
		m.Dropped.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) ObserveStep(step string, seconds float64) {
	if m != nil {
		m.StepDuration.WithLabelValues(step).Observe(seconds)
	}
}
