package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// DefaultReadinessTimeout bounds a readiness probe.
const DefaultReadinessTimeout = 5 * time.Second

// Probe status values.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusDraining = "draining"
)

const (
	headerContentType = "Content-Type"
	contentTypeJSON   = "application/json"
)

// HealthCheck is a named readiness dependency.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Handler serves the probes.
type Handler struct {
	logger    observability.Logger
	metrics   *Metrics
	timeout   time.Duration
	startTime time.Time
	draining  atomic.Bool

	mu     sync.RWMutex
	checks []HealthCheck
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger observability.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics records probe outcomes.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithReadinessTimeout bounds each readiness probe.
func WithReadinessTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// NewHandler creates a probe handler with no checks.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:    observability.NopLogger(),
		timeout:   DefaultReadinessTimeout,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck registers a readiness check.
func (h *Handler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// SetDraining makes readiness fail regardless of the checks.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// LivenessHTTPHandler always reports ok.
func (h *Handler) LivenessHTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h.metrics.recordProbe("liveness")
		h.write(w, http.StatusOK, &HealthStatus{
			Status:    StatusOK,
			Timestamp: time.Now().UTC(),
			Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		})
	})
}

// ReadinessHTTPHandler runs the checks and answers 503 when any fails.
func (h *Handler) ReadinessHTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.metrics.recordProbe("readiness")

		if h.draining.Load() {
			h.metrics.setStatus("overall", false)
			h.write(w, http.StatusServiceUnavailable, &HealthStatus{
				Status:    StatusDraining,
				Timestamp: time.Now().UTC(),
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		status := h.runChecks(ctx)
		code := http.StatusOK
		if status.Status != StatusOK {
			code = http.StatusServiceUnavailable
		}
		h.metrics.setStatus("overall", code == http.StatusOK)
		h.write(w, code, status)
	})
}

// RegisterRoutes mounts /healthz, /livez and /readyz on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /healthz", h.LivenessHTTPHandler())
	mux.Handle("GET /livez", h.LivenessHTTPHandler())
	mux.Handle("GET /readyz", h.ReadinessHTTPHandler())
}

func (h *Handler) runChecks(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, check := range checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := c.Check(ctx)
			elapsed := time.Since(start)

			result := &CheckResult{Status: StatusOK, Duration: elapsed.String()}
			if err != nil {
				result.Status = StatusError
				result.Error = err.Error()
				h.logger.Warn("readiness check failed",
					observability.String("check", c.Name()),
					observability.Duration("duration", elapsed),
					observability.Error(err),
				)
			}
			h.metrics.setStatus(c.Name(), err == nil)

			mu.Lock()
			defer mu.Unlock()
			status.Checks[c.Name()] = result
			if err != nil {
				status.Status = StatusError
			}
		}(check)
	}
	wg.Wait()

	return status
}

func (h *Handler) write(w http.ResponseWriter, code int, status *HealthStatus) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("failed to write probe response", observability.Error(err))
	}
}
