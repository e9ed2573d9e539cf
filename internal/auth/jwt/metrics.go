package jwt

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Verification stages reported in metrics and logs.
const (
	StageDiscovery = "discovery"
	StageKey       = "key"
	StageSignature = "signature"
	StageClaims    = "claims"
)

// Metrics holds Prometheus metrics for token verification. A nil *Metrics
// records nothing.
type Metrics struct {
	verifyTotal    *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
}

// NewMetrics creates verification metrics under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "avabearer"
	}

	return &Metrics{
		verifyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "verification_total",
				Help:      "Total number of access token verifications by outcome and failing stage",
			},
			[]string{"status", "stage"},
		),
		verifyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "jwt",
				Name:      "verification_duration_seconds",
				Help:      "Access token verification duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"status"},
		),
	}
}

// Init pre-creates label combinations so the series are exported before the
// first verification.
func (m *Metrics) Init() {
	m.verifyTotal.WithLabelValues("success", "")
	for _, stage := range []string{StageDiscovery, StageKey, StageSignature, StageClaims} {
		m.verifyTotal.WithLabelValues("error", stage)
	}
	m.verifyDuration.WithLabelValues("success")
	m.verifyDuration.WithLabelValues("error")
}

// MustRegister registers the metrics with registry, ignoring collectors that
// are already registered.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	for _, c := range []prometheus.Collector{m.verifyTotal, m.verifyDuration} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func (m *Metrics) record(stage string, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if stage != "" {
		status = "error"
	}
	m.verifyTotal.WithLabelValues(status, stage).Inc()
	m.verifyDuration.WithLabelValues(status).Observe(d.Seconds())
}
