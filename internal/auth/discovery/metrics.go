package discovery

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for metadata discovery. A nil *Metrics
// records nothing.
type Metrics struct {
	discoveryTotal    *prometheus.CounterVec
	discoveryDuration prometheus.Histogram
	candidateTotal    *prometheus.CounterVec
}

// NewMetrics creates discovery metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avabearer"
	}

	return &Metrics{
		discoveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "total",
				Help:      "Total number of authorization server discovery attempts",
			},
			[]string{"status"},
		),
		discoveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "duration_seconds",
				Help:      "Authorization server discovery duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		candidateTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "discovery",
				Name:      "candidate_total",
				Help:      "Total number of well-known metadata locations fetched, by outcome",
			},
			[]string{"status"},
		),
	}
}

// MustRegister registers the metrics with registry, ignoring collectors that
// are already registered.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	for _, c := range []prometheus.Collector{m.discoveryTotal, m.discoveryDuration, m.candidateTotal} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func (m *Metrics) recordDiscovery(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.discoveryTotal.WithLabelValues(status).Inc()
	m.discoveryDuration.Observe(d.Seconds())
}

func (m *Metrics) recordCandidate(status string) {
	if m == nil {
		return
	}
	m.candidateTotal.WithLabelValues(status).Inc()
}
