package fetch

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// BreakerConfig configures the circuit breaker guarding an upstream.
type BreakerConfig struct {
	Name string
	// Threshold is the minimum number of requests in an interval before the
	// failure ratio is considered.
	Threshold uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
}

// NewCircuitBreaker returns a breaker that trips when at least half of
// Threshold consecutive requests fail. Non-200 responses below 500 and
// malformed bodies do not count as failures: the upstream answered.
func NewCircuitBreaker(cfg BreakerConfig, logger observability.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.Timeout,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.Threshold && ratio >= 0.5
		},
		IsSuccessful: isUpstreamHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
}

func isUpstreamHealthy(err error) bool {
	if err == nil || errors.Is(err, ErrMalformedResponse) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode < 500
	}
	return false
}
