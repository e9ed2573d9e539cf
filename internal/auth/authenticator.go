package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
	"github.com/vyrodovalexey/avabearer/internal/auth/claimcheck"
	"github.com/vyrodovalexey/avabearer/internal/auth/jwt"
	"github.com/vyrodovalexey/avabearer/internal/auth/replay"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// Transports reported in metrics and logs.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// TokenVerifier verifies an access token. *jwt.Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*jwt.Result, error)
}

var _ TokenVerifier = (*jwt.Verifier)(nil)

// Authenticator authenticates requests carrying bearer access tokens.
type Authenticator struct {
	verifier  TokenVerifier
	replay    *replay.Detector
	logger    observability.Logger
	metrics   *Metrics
	skipPaths map[string]bool
	optional  bool
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// WithReplayDetector rejects tokens whose jti was already accepted.
func WithReplayDetector(d *replay.Detector) Option {
	return func(a *Authenticator) {
		a.replay = d
	}
}

// WithSkipPaths lists HTTP paths, or gRPC full method names, that are served
// without authentication.
func WithSkipPaths(paths ...string) Option {
	return func(a *Authenticator) {
		for _, p := range paths {
			a.skipPaths[p] = true
		}
	}
}

// WithCredentialsOptional lets requests without any access token through
// unauthenticated. A token that is present must still be valid.
func WithCredentialsOptional(optional bool) Option {
	return func(a *Authenticator) {
		a.optional = optional
	}
}

// NewAuthenticator creates an Authenticator for verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) (*Authenticator, error) {
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}

	a := &Authenticator{
		verifier:  verifier,
		logger:    observability.NopLogger(),
		skipPaths: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate extracts and verifies the access token of r. It returns a nil
// result and a nil error when credentials are optional and r carries none.
// Errors are *bearer.Error values.
func (a *Authenticator) Authenticate(r *http.Request) (*jwt.Result, error) {
	return a.authenticate(r.Context(), TransportHTTP, bearer.RequestFromHTTP(r))
}

// AuthenticateContext is Authenticate for incoming gRPC metadata.
func (a *Authenticator) AuthenticateContext(ctx context.Context) (*jwt.Result, error) {
	return a.authenticate(ctx, TransportGRPC, bearer.RequestFromMetadata(ctx))
}

func (a *Authenticator) authenticate(ctx context.Context, transport string, req bearer.Request) (*jwt.Result, error) {
	start := time.Now()

	token, err := bearer.GetToken(req)
	if err != nil {
		if a.optional && errors.Is(err, bearer.ErrUnauthorized) {
			a.metrics.RecordAnonymous(transport, time.Since(start))
			return nil, nil
		}
		return nil, a.fail(transport, start, err)
	}

	result, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, a.fail(transport, start, err)
	}

	if a.replay != nil {
		if err := a.replay.Check(ctx, result.Payload); err != nil {
			return nil, a.fail(transport, start, err)
		}
	}

	a.metrics.RecordSuccess(transport, time.Since(start))
	return result, nil
}

func (a *Authenticator) fail(transport string, start time.Time, err error) *bearer.Error {
	be := bearer.AsError(err)
	a.metrics.RecordFailure(transport, be.Kind.String(), time.Since(start))
	return be
}

func (a *Authenticator) skip(path string) bool {
	return a.skipPaths[path]
}

func (a *Authenticator) logFailure(ctx context.Context, transport, target string, err error) {
	be := bearer.AsError(err)
	a.logger.WithContext(ctx).Warn("authentication failed",
		observability.String("transport", transport),
		observability.String("target", target),
		observability.String("reason", be.Kind.String()),
		observability.Error(err),
	)
}

type resultContextKey struct{}

// ContextWithResult returns a copy of ctx carrying result.
func ContextWithResult(ctx context.Context, result *jwt.Result) context.Context {
	return context.WithValue(ctx, resultContextKey{}, result)
}

// ResultFromContext returns the verified token stored by the middleware or
// interceptors, if any.
func ResultFromContext(ctx context.Context) (*jwt.Result, bool) {
	result, ok := ctx.Value(resultContextKey{}).(*jwt.Result)
	return result, ok && result != nil
}

// requireToken runs checks after rejecting a missing payload.
func requireToken(checks ...claimcheck.Check) claimcheck.Check {
	check := claimcheck.All(checks...)
	return func(payload map[string]any) error {
		if payload == nil {
			return bearer.ErrUnauthorized
		}
		return check(payload)
	}
}

func payloadFromContext(ctx context.Context) map[string]any {
	if result, ok := ResultFromContext(ctx); ok {
		return result.Payload
	}
	return nil
}
