package health

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records probe activity. A nil *Metrics records nothing.
type Metrics struct {
	checksTotal *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

// NewMetrics creates unregistered health collectors.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of health probes served",
			},
			[]string{"type"},
		),
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Current check status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		),
	}
}

// MustRegister registers the collectors. Already registered collectors are
// ignored.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	for _, c := range []prometheus.Collector{m.checksTotal, m.checkStatus} {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
	m.checksTotal.WithLabelValues("liveness")
	m.checksTotal.WithLabelValues("readiness")
}

func (m *Metrics) recordProbe(probe string) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(probe).Inc()
}

func (m *Metrics) setStatus(check string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.checkStatus.WithLabelValues(check).Set(v)
}
