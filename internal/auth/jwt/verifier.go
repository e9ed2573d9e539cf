package jwt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
	"github.com/vyrodovalexey/avabearer/internal/auth/discovery"
	"github.com/vyrodovalexey/avabearer/internal/auth/jwks"
	"github.com/vyrodovalexey/avabearer/internal/fetch"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

var tracer = otel.Tracer("avabearer/jwt")

// ErrNoJWKSURI is returned when neither configuration nor discovery supplies
// a key set location.
var ErrNoJWKSURI = errors.New("'jwks_uri' not found in authorization server metadata")

// Result is a verified access token.
type Result struct {
	Header  map[string]any
	Payload map[string]any
	Token   string
}

// Verifier verifies bearer access tokens. It is safe for concurrent use.
// Discovery metadata, the remote key set and the validator table are created
// on first use and shared for the lifetime of the Verifier.
type Verifier struct {
	cfg       Config
	logger    observability.Logger
	metrics   *Metrics
	now       func() time.Time
	signature SignatureVerifier
	fetcher   fetch.JSONFetcher

	resolver  *discovery.Resolver
	secretKey jwk.Key

	jwksOpts []jwks.Option

	mu         sync.Mutex
	keySet     *jwks.RemoteKeySet
	validators Validators
}

type verifierOptions struct {
	env          map[string]string
	envSet       bool
	logger       observability.Logger
	metrics      *Metrics
	now          func() time.Time
	signature    SignatureVerifier
	fetcher      fetch.JSONFetcher
	breaker      *gobreaker.CircuitBreaker
	discoveryMet *discovery.Metrics
	jwksMet      *jwks.Metrics
}

// Option configures a Verifier.
type Option func(*verifierOptions)

// WithEnv replaces the process environment snapshot consulted for unset
// options. Nil disables environment fallback.
func WithEnv(env map[string]string) Option {
	return func(o *verifierOptions) {
		o.env = env
		o.envSet = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *verifierOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the verification metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(o *verifierOptions) {
		o.metrics = m
	}
}

// WithDiscoveryMetrics sets the discovery metrics collector.
func WithDiscoveryMetrics(m *discovery.Metrics) Option {
	return func(o *verifierOptions) {
		o.discoveryMet = m
	}
}

// WithKeySetMetrics sets the key set metrics collector.
func WithKeySetMetrics(m *jwks.Metrics) Option {
	return func(o *verifierOptions) {
		o.jwksMet = m
	}
}

// WithClock overrides the wall clock used for time-based claims and the key
// set cooldown.
func WithClock(now func() time.Time) Option {
	return func(o *verifierOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSignatureVerifier replaces the signature verification delegate.
func WithSignatureVerifier(sv SignatureVerifier) Option {
	return func(o *verifierOptions) {
		if sv != nil {
			o.signature = sv
		}
	}
}

// WithFetcher replaces the JSON fetcher used for discovery and the key set.
// Options.HTTPClient and the timeout are ignored when a fetcher is supplied.
func WithFetcher(f fetch.JSONFetcher) Option {
	return func(o *verifierOptions) {
		o.fetcher = f
	}
}

// WithCircuitBreaker guards outbound metadata and key set requests.
func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(o *verifierOptions) {
		o.breaker = cb
	}
}

// NewVerifier resolves and validates the configuration and returns a
// Verifier. Configuration errors wrap ErrInvalidConfig.
func NewVerifier(opts Options, options ...Option) (*Verifier, error) {
	o := verifierOptions{
		logger:    observability.NopLogger(),
		now:       time.Now,
		signature: JWSVerifier{},
	}
	for _, opt := range options {
		opt(&o)
	}
	if !o.envSet {
		o.env = EnvSnapshot()
	}

	cfg, err := ResolveConfig(opts, o.env)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = fetch.New(
			fetch.WithHTTPClient(cfg.HTTPClient),
			fetch.WithTimeout(cfg.TimeoutDuration),
			fetch.WithLogger(o.logger),
			fetch.WithCircuitBreaker(o.breaker),
		)
	}

	v := &Verifier{
		cfg:       cfg,
		logger:    o.logger,
		metrics:   o.metrics,
		now:       o.now,
		signature: o.signature,
		fetcher:   fetcher,
		jwksOpts: []jwks.Option{
			jwks.WithCooldown(cfg.CooldownDuration),
			jwks.WithClock(o.now),
			jwks.WithLogger(o.logger),
			jwks.WithMetrics(o.jwksMet),
		},
	}

	if cfg.IssuerBaseURL != "" {
		v.resolver, err = discovery.NewResolver(cfg.IssuerBaseURL, fetcher,
			discovery.WithLogger(o.logger),
			discovery.WithMetrics(o.discoveryMet),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	if cfg.Secret != "" {
		v.secretKey, err = jwk.FromRaw([]byte(cfg.Secret))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return v, nil
}

// Config returns the effective configuration.
func (v *Verifier) Config() Config {
	return v.cfg
}

// Ready reports whether the verifier can verify tokens without first
// resolving issuer metadata.
func (v *Verifier) Ready() bool {
	return v.resolver == nil || v.resolver.Resolved()
}

// Warmup resolves issuer metadata ahead of the first request. It is a no-op
// without discovery and cheap once metadata is cached.
func (v *Verifier) Warmup(ctx context.Context) error {
	if v.resolver == nil {
		return nil
	}
	_, err := v.resolver.Resolve(ctx)
	return err
}

// Verify verifies token and returns its decoded header and payload. Every
// failure is reported as a bearer error of kind KindInvalidToken carrying the
// originating message.
func (v *Verifier) Verify(ctx context.Context, token string) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "jwt.verify", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	result, stage, err := v.verify(ctx, token)
	v.metrics.record(stage, time.Since(start))

	if err != nil {
		span.SetAttributes(attribute.String("jwt.failed_stage", stage))
		observability.RecordError(span, err)
		v.logger.WithContext(ctx).Debug("access token rejected",
			observability.String("stage", stage),
			observability.Error(err),
		)
		return nil, bearer.InvalidTokenFrom(err)
	}

	if sub, ok := result.Payload["sub"].(string); ok {
		span.SetAttributes(attribute.String("enduser.id", sub))
	}
	return result, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (*Result, string, error) {
	issuer, jwksURI := v.cfg.Issuer, v.cfg.JWKSURI
	var allowedAlgs []string

	if v.resolver != nil {
		md, err := v.resolver.Resolve(ctx)
		if err != nil {
			return nil, StageDiscovery, err
		}
		issuer, jwksURI, allowedAlgs = md.Issuer, md.JWKSURI, md.IDTokenSigningAlgValuesSupported
	}

	validators := v.validatorTable(issuer, allowedAlgs)

	keys, err := v.keyResolver(jwksURI)
	if err != nil {
		return nil, StageKey, err
	}

	decoded, err := v.signature.Verify(ctx, token, keys, Constraints{
		Algorithms:     v.acceptedAlgorithms(),
		ClockTolerance: v.cfg.ClockTolerance,
		Now:            v.now,
	})
	if err != nil {
		var ke *KeyError
		if errors.As(err, &ke) {
			return nil, StageKey, err
		}
		return nil, StageSignature, err
	}

	if err := Validate(ctx, decoded.Payload, decoded.Header, validators); err != nil {
		return nil, StageClaims, err
	}

	return &Result{Header: decoded.Header, Payload: decoded.Payload, Token: token}, "", nil
}

// validatorTable builds the effective validators once, after the issuer and
// allowed algorithms are known.
func (v *Verifier) validatorTable(issuer string, allowedAlgs []string) Validators {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.validators == nil {
		v.validators = DefaultValidators(ValidatorParams{
			Issuer:          issuer,
			Audience:        v.cfg.Audience,
			ClockTolerance:  v.cfg.ClockTolerance,
			MaxTokenAge:     v.cfg.MaxTokenAge,
			Strict:          v.cfg.Strict,
			AllowedAlgs:     allowedAlgs,
			TokenSigningAlg: v.cfg.TokenSigningAlg,
			Now:             v.now,
		}).Merge(v.cfg.Validators)
	}
	return v.validators
}

func (v *Verifier) keyResolver(jwksURI string) (KeyResolver, error) {
	if v.secretKey != nil {
		key := v.secretKey
		return KeyResolverFunc(func(context.Context, string, string) (jwk.Key, error) {
			return key, nil
		}), nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keySet == nil {
		if jwksURI == "" {
			return nil, ErrNoJWKSURI
		}
		ks, err := jwks.NewRemoteKeySet(jwksURI, v.fetcher, v.jwksOpts...)
		if err != nil {
			return nil, err
		}
		v.keySet = ks
	}
	return v.keySet, nil
}

func (v *Verifier) acceptedAlgorithms() []string {
	if v.secretKey != nil {
		return SymmetricAlgorithms
	}
	return AsymmetricAlgorithms
}
