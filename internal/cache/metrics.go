package cache

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results.
const (
	resultStored = "stored"
	resultExists = "exists"
	resultError  = "error"
)

// Metrics holds Prometheus metrics for store operations. A nil *Metrics
// records nothing.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	evictionsTotal    *prometheus.CounterVec
	sizeGauge         *prometheus.GaugeVec
}

// NewMetrics creates store metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avabearer"
	}

	return &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "operations_total",
				Help:      "Total number of cache store operations by result",
			},
			[]string{"backend", "operation", "result"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "operation_duration_seconds",
				Help:      "Duration of cache store operations",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
			},
			[]string{"backend", "operation"},
		),
		evictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Total number of expired keys removed from the memory store",
			},
			[]string{"backend"},
		),
		sizeGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "size",
				Help:      "Current number of keys in the memory store",
			},
			[]string{"backend"},
		),
	}
}

// MustRegister registers the metrics with registry, ignoring collectors that
// are already registered.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		m.operationsTotal, m.operationDuration, m.evictionsTotal, m.sizeGauge,
	} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func (m *Metrics) recordOp(backend, op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(backend, op, result).Inc()
	m.operationDuration.WithLabelValues(backend, op).Observe(d.Seconds())
}

func (m *Metrics) addEvictions(backend string, n int) {
	if m == nil {
		return
	}
	m.evictionsTotal.WithLabelValues(backend).Add(float64(n))
}

func (m *Metrics) setSize(backend string, n int) {
	if m == nil {
		return
	}
	m.sizeGauge.WithLabelValues(backend).Set(float64(n))
}
