package jwks

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for key set fetching. A nil *Metrics
// records nothing.
type Metrics struct {
	fetchTotal    *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	cooldownTotal prometheus.Counter
}

// NewMetrics creates key set metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avabearer"
	}

	return &Metrics{
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwks",
				Name:      "fetch_total",
				Help:      "Total number of JSON Web Key Set fetches",
			},
			[]string{"status"},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jwks",
				Name:      "fetch_duration_seconds",
				Help:      "JSON Web Key Set fetch duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		cooldownTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwks",
				Name:      "cooldown_suppressed_total",
				Help:      "Refetches for an unknown key suppressed by the cooldown window",
			},
		),
	}
}

// MustRegister registers the metrics with registry, ignoring collectors that
// are already registered.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	for _, c := range []prometheus.Collector{m.fetchTotal, m.fetchDuration, m.cooldownTotal} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func (m *Metrics) recordFetch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(status).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) recordCooldown() {
	if m == nil {
		return
	}
	m.cooldownTotal.Inc()
}
