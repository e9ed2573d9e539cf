// Package replay rejects access tokens that are presented more than once.
//
// A Detector records the issuer and jti of every accepted token in a
// cache.Store until the token expires. It runs after verification, so only
// tokens with a valid signature consume store capacity.
package replay

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
	"github.com/vyrodovalexey/avabearer/internal/auth/claims"
	"github.com/vyrodovalexey/avabearer/internal/cache"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// Defaults for NewDetector.
const (
	DefaultMaxTTL     = 24 * time.Hour
	DefaultDefaultTTL = time.Hour
)

// MessageReplayed describes a token that was presented before.
const MessageReplayed = "Token replay detected"

// Detector remembers token identifiers.
type Detector struct {
	store      cache.Store
	logger     observability.Logger
	now        func() time.Time
	maxTTL     time.Duration
	defaultTTL time.Duration
	tolerance  time.Duration
	failOpen   bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// WithClock overrides the clock used to derive record lifetimes.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithMaxTTL bounds how long an identifier is remembered.
func WithMaxTTL(ttl time.Duration) Option {
	return func(d *Detector) {
		if ttl > 0 {
			d.maxTTL = ttl
		}
	}
}

// WithDefaultTTL sets the lifetime for tokens without an exp claim.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(d *Detector) {
		if ttl > 0 {
			d.defaultTTL = ttl
		}
	}
}

// WithClockTolerance extends record lifetimes by the leeway the verifier
// grants exp, so a token accepted within that leeway is still recorded.
func WithClockTolerance(tolerance time.Duration) Option {
	return func(d *Detector) {
		if tolerance > 0 {
			d.tolerance = tolerance
		}
	}
}

// WithFailOpen accepts tokens when the store cannot be reached. By default a
// store failure rejects the token.
func WithFailOpen(failOpen bool) Option {
	return func(d *Detector) {
		d.failOpen = failOpen
	}
}

// NewDetector creates a Detector backed by store.
func NewDetector(store cache.Store, opts ...Option) (*Detector, error) {
	if store == nil {
		return nil, errors.New("replay: store is required")
	}

	d := &Detector{
		store:      store,
		logger:     observability.NopLogger(),
		now:        time.Now,
		maxTTL:     DefaultMaxTTL,
		defaultTTL: DefaultDefaultTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Check records the token described by payload. It returns an invalid token
// error when the payload has no string jti or when the identifier was
// already recorded and has not expired.
func (d *Detector) Check(ctx context.Context, payload map[string]any) error {
	jti, _ := payload["jti"].(string)
	if jti == "" {
		return bearer.InvalidToken("Missing 'jti' claim")
	}
	iss, _ := payload["iss"].(string)

	ttl := d.ttl(payload)
	if ttl <= 0 {
		return bearer.InvalidToken("Unexpected 'exp' value")
	}

	fresh, err := d.store.SetNX(ctx, iss+"|"+jti, ttl)
	if err != nil {
		d.logger.WithContext(ctx).Error("replay store unavailable",
			observability.Bool("failOpen", d.failOpen),
			observability.Error(err))
		if d.failOpen {
			return nil
		}
		return bearer.InvalidTokenFrom(err)
	}

	if !fresh {
		d.logger.WithContext(ctx).Warn("access token replay detected",
			observability.String("iss", iss),
			observability.String("jti", jti))
		return bearer.InvalidToken(MessageReplayed)
	}
	return nil
}

// ttl is the time until exp plus the clock tolerance, capped at maxTTL.
func (d *Detector) ttl(payload map[string]any) time.Duration {
	exp, ok := claims.Number(payload["exp"])
	if !ok {
		return d.defaultTTL
	}

	ttl := time.Unix(int64(exp), 0).Add(d.tolerance).Sub(d.now())
	return min(ttl, d.maxTTL)
}
