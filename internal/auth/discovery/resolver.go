package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avabearer/internal/auth/memo"
	"github.com/vyrodovalexey/avabearer/internal/fetch"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// Discovery errors.
var (
	// ErrDiscoveryFailed is returned when no candidate location yields
	// usable metadata.
	ErrDiscoveryFailed = errors.New("Failed to fetch authorization server metadata") //nolint:staticcheck // surfaced verbatim in error_description

	// ErrMissingIssuer is returned for a metadata document without an issuer.
	ErrMissingIssuer = errors.New("'issuer' not found in authorization server metadata")
)

// Resolver resolves and memoizes the metadata of one authorization server.
// A successful resolution is kept for the lifetime of the Resolver; a failed
// one is retried on the next call.
type Resolver struct {
	candidates []string
	fetcher    fetch.JSONFetcher
	logger     observability.Logger
	metrics    *Metrics
	cell       *memo.Cell[*Metadata]
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a Resolver for the issuer at baseURL.
func NewResolver(baseURL string, fetcher fetch.JSONFetcher, opts ...Option) (*Resolver, error) {
	candidates, err := CandidateURLs(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer base URL: %w", err)
	}
	if fetcher == nil {
		fetcher = fetch.New()
	}

	r := &Resolver{
		candidates: candidates,
		fetcher:    fetcher,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cell = memo.New(r.discover)

	return r, nil
}

// Candidates returns the metadata URLs this Resolver tries, in order.
func (r *Resolver) Candidates() []string {
	return append([]string(nil), r.candidates...)
}

// Resolve returns the authorization server metadata. Concurrent calls made
// before the first successful resolution share one set of fetches.
func (r *Resolver) Resolve(ctx context.Context) (*Metadata, error) {
	return r.cell.Get(ctx)
}

// Resolved reports whether metadata has been resolved successfully.
func (r *Resolver) Resolved() bool {
	return r.cell.State() == memo.StateReady
}

func (r *Resolver) discover(ctx context.Context) (*Metadata, error) {
	start := time.Now()

	if len(r.candidates) == 1 {
		md, err := r.fetchCandidate(ctx, r.candidates[0])
		r.record(err, start)
		return md, err
	}

	for _, candidate := range r.candidates {
		md, err := r.fetchCandidate(ctx, candidate)
		if err != nil {
			r.logger.Debug("discovery candidate failed",
				observability.String("url", candidate),
				observability.Error(err),
			)
			continue
		}
		r.record(nil, start)
		return md, nil
	}

	r.logger.Warn("authorization server discovery failed",
		observability.Strings("candidates", r.candidates),
	)
	r.record(ErrDiscoveryFailed, start)
	return nil, ErrDiscoveryFailed
}

func (r *Resolver) fetchCandidate(ctx context.Context, url string) (*Metadata, error) {
	var md Metadata
	if err := r.fetcher.FetchJSON(ctx, url, &md); err != nil {
		r.metrics.recordCandidate("error")
		return nil, err
	}
	if md.Issuer == "" {
		r.metrics.recordCandidate("invalid")
		return nil, ErrMissingIssuer
	}

	r.metrics.recordCandidate("success")
	r.logger.Info("resolved authorization server metadata",
		observability.String("url", url),
		observability.String("issuer", md.Issuer),
	)
	return &md, nil
}

func (r *Resolver) record(err error, start time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.metrics.recordDiscovery(status, time.Since(start))
}
