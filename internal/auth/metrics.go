package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes.
const (
	statusSuccess   = "success"
	statusFailure   = "failure"
	statusAnonymous = "anonymous"
)

// Metrics holds Prometheus metrics for request authentication. A nil
// *Metrics records nothing.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	authFailureTotal *prometheus.CounterVec
	registerer       prometheus.Registerer
}

// NewMetrics creates a new Metrics instance registered with
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom
// registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avabearer"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{registerer: registerer}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Total number of authenticated requests by transport and outcome",
		},
		[]string{"transport", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "request_duration_seconds",
			Help:      "Authentication duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"transport"},
	)

	m.authFailureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failure_total",
			Help:      "Total number of failed authentications by reason",
		},
		[]string{"transport", "reason"},
	)

	// Duplicate registrations are ignored; the descriptors are identical.
	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.authFailureTotal} {
		_ = m.registerer.Register(c)
	}

	return m
}

// Init pre-initializes label combinations so that the series are exported
// before the first request.
func (m *Metrics) Init() {
	for _, transport := range []string{TransportHTTP, TransportGRPC} {
		for _, status := range []string{statusSuccess, statusFailure, statusAnonymous} {
			m.requestsTotal.WithLabelValues(transport, status)
		}
		m.requestDuration.WithLabelValues(transport)
	}
}

// RecordSuccess records an authenticated request.
func (m *Metrics) RecordSuccess(transport string, d time.Duration) {
	m.record(transport, statusSuccess, d)
}

// RecordAnonymous records a request let through without credentials.
func (m *Metrics) RecordAnonymous(transport string, d time.Duration) {
	m.record(transport, statusAnonymous, d)
}

// RecordFailure records a rejected request.
func (m *Metrics) RecordFailure(transport, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.authFailureTotal.WithLabelValues(transport, reason).Inc()
	m.record(transport, statusFailure, d)
}

func (m *Metrics) record(transport, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(transport, status).Inc()
	m.requestDuration.WithLabelValues(transport).Observe(d.Seconds())
}
