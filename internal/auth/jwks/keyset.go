package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vyrodovalexey/avabearer/internal/auth/memo"
	"github.com/vyrodovalexey/avabearer/internal/fetch"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// DefaultCooldown is the minimum interval between two fetches of the key set
// triggered by an unknown key.
const DefaultCooldown = 30 * time.Second

// Key selection errors.
var (
	ErrNoMatchingKey        = errors.New("no applicable key found in the JSON Web Key Set")
	ErrMultipleMatchingKeys = errors.New("multiple matching keys found in the JSON Web Key Set")
)

// RemoteKeySet serves signing keys from a remote JSON Web Key Set. The set is
// fetched on first use and refetched when a token names a key it does not
// contain, at most once per cooldown window.
type RemoteKeySet struct {
	url      string
	fetcher  fetch.JSONFetcher
	cooldown time.Duration
	now      func() time.Time
	logger   observability.Logger
	metrics  *Metrics
	cell     *memo.Cell[jwk.Set]
}

// Option configures a RemoteKeySet.
type Option func(*RemoteKeySet)

// WithCooldown sets the refetch cooldown.
func WithCooldown(d time.Duration) Option {
	return func(s *RemoteKeySet) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithClock overrides the clock used for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(s *RemoteKeySet) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *RemoteKeySet) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *RemoteKeySet) {
		s.metrics = m
	}
}

// NewRemoteKeySet creates a key set backed by the document at url.
func NewRemoteKeySet(url string, fetcher fetch.JSONFetcher, opts ...Option) (*RemoteKeySet, error) {
	if url == "" {
		return nil, errors.New("JWKS URL is required")
	}
	if fetcher == nil {
		fetcher = fetch.New()
	}

	s := &RemoteKeySet{
		url:      url,
		fetcher:  fetcher,
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cell = memo.New(s.load, memo.WithClock(s.now))

	return s, nil
}

// URL returns the key set location.
func (s *RemoteKeySet) URL() string {
	return s.url
}

// LastFetch returns the time of the last successful fetch.
func (s *RemoteKeySet) LastFetch() time.Time {
	return s.cell.FetchedAt()
}

// Resolve returns the key that verifies a token signed with alg and
// identified by kid. kid may be empty when the set holds a single
// applicable key.
func (s *RemoteKeySet) Resolve(ctx context.Context, kid, alg string) (jwk.Key, error) {
	set, err := s.cell.Get(ctx)
	if err != nil {
		return nil, err
	}

	key, err := SelectKey(set, kid, alg)
	if !errors.Is(err, ErrNoMatchingKey) {
		return key, err
	}

	set, refreshed, ferr := s.cell.Refresh(ctx, s.cooldown)
	if !refreshed {
		s.metrics.recordCooldown()
		s.logger.Debug("key set refetch suppressed by cooldown",
			observability.String("kid", kid),
			observability.Time("last_fetch", s.cell.FetchedAt()),
		)
		return nil, err
	}
	if ferr != nil {
		return nil, ferr
	}

	return SelectKey(set, kid, alg)
}

func (s *RemoteKeySet) load(ctx context.Context) (jwk.Set, error) {
	start := time.Now()

	var raw json.RawMessage
	if err := s.fetcher.FetchJSON(ctx, s.url, &raw); err != nil {
		s.metrics.recordFetch("error", time.Since(start))
		s.logger.Warn("failed to fetch JSON Web Key Set",
			observability.String("url", s.url),
			observability.Error(err),
		)
		return nil, err
	}

	set, err := jwk.Parse(raw)
	if err != nil {
		s.metrics.recordFetch("error", time.Since(start))
		return nil, fmt.Errorf("failed to parse JSON Web Key Set from %s: %w", s.url, err)
	}

	s.metrics.recordFetch("success", time.Since(start))
	s.logger.Debug("fetched JSON Web Key Set",
		observability.String("url", s.url),
		observability.Int("keys", set.Len()),
	)
	return set, nil
}

// SelectKey picks the single key in set applicable to kid and alg.
func SelectKey(set jwk.Set, kid, alg string) (jwk.Key, error) {
	var match jwk.Key
	count := 0

	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || !applicable(key, kid, alg) {
			continue
		}
		match = key
		count++
	}

	switch count {
	case 0:
		return nil, ErrNoMatchingKey
	case 1:
		return match, nil
	default:
		return nil, ErrMultipleMatchingKeys
	}
}

func applicable(key jwk.Key, kid, alg string) bool {
	if kid != "" && key.KeyID() != kid {
		return false
	}
	if use := key.KeyUsage(); use != "" && use != string(jwk.ForSignature) {
		return false
	}
	if ka := key.Algorithm().String(); ka != "" && ka != alg {
		return false
	}
	if key.KeyType() != keyTypeFor(alg) {
		return false
	}
	if crv := curveFor(alg); crv != "" {
		c, ok := key.(curvedKey)
		if !ok || c.Crv().String() != crv {
			return false
		}
	}
	return true
}

type curvedKey interface {
	Crv() jwa.EllipticCurveAlgorithm
}

func keyTypeFor(alg string) jwa.KeyType {
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		return jwa.RSA
	case strings.HasPrefix(alg, "ES"):
		return jwa.EC
	case alg == "EdDSA":
		return jwa.OKP
	case strings.HasPrefix(alg, "HS"):
		return jwa.OctetSeq
	default:
		return jwa.InvalidKeyType
	}
}

func curveFor(alg string) string {
	switch alg {
	case "ES256":
		return "P-256"
	case "ES384":
		return "P-384"
	case "ES512":
		return "P-521"
	case "ES256K":
		return "secp256k1"
	default:
		return ""
	}
}
