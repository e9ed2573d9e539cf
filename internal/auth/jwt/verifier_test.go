package jwt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avabearer/internal/auth/authtest"
	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
	"github.com/vyrodovalexey/avabearer/internal/auth/discovery"
	"github.com/vyrodovalexey/avabearer/internal/auth/jwks"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

const testAudience = "https://api.example"

type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newIssuer(t *testing.T) *authtest.Issuer {
	t.Helper()

	issuer, err := authtest.NewIssuer()
	require.NoError(t, err)
	t.Cleanup(issuer.Close)
	return issuer
}

func newDiscoveryVerifier(t *testing.T, issuer *authtest.Issuer, opts Options, options ...Option) *Verifier {
	t.Helper()

	opts.IssuerBaseURL = issuer.BaseURL()
	if opts.Audience == nil {
		opts.Audience = []string{testAudience}
	}
	v, err := NewVerifier(opts, append([]Option{WithEnv(nil)}, options...)...)
	require.NoError(t, err)
	return v
}

func signed(t *testing.T, issuer *authtest.Issuer, claims map[string]any, opts ...authtest.SignOption) string {
	t.Helper()

	token, err := issuer.Sign(claims, opts...)
	require.NoError(t, err)
	return token
}

func requireInvalidToken(t *testing.T, err error, msg string) {
	t.Helper()

	require.Error(t, err)
	assert.ErrorIs(t, err, bearer.ErrInvalidToken)
	if msg != "" {
		assert.Equal(t, msg, err.Error())
	}
}

func TestVerifier_Discovery(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	v := newDiscoveryVerifier(t, issuer, Options{})
	assert.False(t, v.Ready())

	token := signed(t, issuer, issuer.Claims("alice", testAudience))
	result, err := v.Verify(context.Background(), token)
	require.NoError(t, err)

	assert.Equal(t, token, result.Token)
	assert.Equal(t, "alice", result.Payload["sub"])
	assert.Equal(t, "RS256", result.Header["alg"])
	assert.Equal(t, "key-1", result.Header["kid"])
	assert.True(t, v.Ready())
	assert.Equal(t, 1, issuer.DiscoveryRequests())
	assert.Equal(t, 1, issuer.JWKSRequests())

	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 1, issuer.DiscoveryRequests())
	assert.Equal(t, 1, issuer.JWKSRequests())
}

func TestVerifier_Warmup(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	v := newDiscoveryVerifier(t, issuer, Options{})

	require.NoError(t, v.Warmup(context.Background()))
	require.NoError(t, v.Warmup(context.Background()))
	assert.True(t, v.Ready())
	assert.Equal(t, 1, issuer.DiscoveryRequests())
	assert.Zero(t, issuer.JWKSRequests())

	static, err := NewVerifier(Options{
		Issuer:          "https://issuer.example.com/",
		Secret:          string(testSecret),
		TokenSigningAlg: "HS256",
		Audience:        []string{testAudience},
	}, WithEnv(nil))
	require.NoError(t, err)
	assert.NoError(t, static.Warmup(context.Background()))
}

func TestVerifier_UnknownSigningKey(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	v := newDiscoveryVerifier(t, issuer, Options{})

	hidden, err := issuer.UnpublishedKey()
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), signed(t, issuer, issuer.Claims("alice", testAudience), authtest.WithKeyID(hidden)))
	requireInvalidToken(t, err, "no applicable key found in the JSON Web Key Set")
	assert.ErrorIs(t, err, jwks.ErrNoMatchingKey)
}

func TestVerifier_ConstructionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts Options
	}{
		{
			name: "missing audience",
			opts: Options{IssuerBaseURL: "https://issuer.example/"},
		},
		{
			name: "secret and jwks uri",
			opts: Options{
				Issuer:          "https://issuer.example/",
				JWKSURI:         "https://issuer.example/jwks",
				Secret:          "shh",
				TokenSigningAlg: "HS256",
				Audience:        []string{"api"},
			},
		},
		{
			name: "no key source",
			opts: Options{Audience: []string{"api"}},
		},
		{
			name: "issuer base url without scheme",
			opts: Options{IssuerBaseURL: "issuer.example", Audience: []string{"api"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v, err := NewVerifier(tt.opts, WithEnv(nil))
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, v)
		})
	}
}

func TestVerifier_EnvironmentFallback(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	v, err := NewVerifier(Options{}, WithEnv(map[string]string{
		EnvIssuerBaseURL: issuer.BaseURL(),
		EnvAudience:      "other," + testAudience,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"other", testAudience}, v.Config().Audience)

	_, err = v.Verify(context.Background(), signed(t, issuer, issuer.Claims("alice", testAudience)))
	assert.NoError(t, err)
}

func TestVerifier_SingleFlightDiscovery(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	v := newDiscoveryVerifier(t, issuer, Options{})
	token := signed(t, issuer, issuer.Claims("alice", testAudience))

	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), token)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, issuer.DiscoveryRequests())
	assert.Equal(t, 1, issuer.JWKSRequests())
}

func TestVerifier_Audience(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)

	t.Run("string aud in configured set", func(t *testing.T) {
		t.Parallel()

		v := newDiscoveryVerifier(t, issuer, Options{Audience: []string{"a", "b"}})
		_, err := v.Verify(context.Background(), signed(t, issuer, issuer.Claims("alice", "a")))
		assert.NoError(t, err)
	})

	t.Run("disjoint aud array", func(t *testing.T) {
		t.Parallel()

		v := newDiscoveryVerifier(t, issuer, Options{Audience: []string{"a"}})
		claims := issuer.Claims("alice")
		claims["aud"] = []string{"c"}
		_, err := v.Verify(context.Background(), signed(t, issuer, claims))
		requireInvalidToken(t, err, "Unexpected 'aud' value")
	})
}

func TestVerifier_ClockTolerance(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	claims := issuer.Claims("alice", testAudience)
	claims["exp"] = time.Now().Add(-100 * time.Second).Unix()
	token := signed(t, issuer, claims)

	strictTolerance := 5 * time.Second
	v := newDiscoveryVerifier(t, issuer, Options{ClockTolerance: &strictTolerance})
	_, err := v.Verify(context.Background(), token)
	requireInvalidToken(t, err, "Unexpected 'exp' value")

	lenient := 200 * time.Second
	v = newDiscoveryVerifier(t, issuer, Options{ClockTolerance: &lenient})
	_, err = v.Verify(context.Background(), token)
	assert.NoError(t, err)
}

func TestVerifier_Strict(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	claims := issuer.Claims("alice", testAudience)
	delete(claims, "sub")
	claims["client_id"] = "cli"
	token := signed(t, issuer, claims)

	strict := true
	_, err := newDiscoveryVerifier(t, issuer, Options{Strict: &strict}).Verify(context.Background(), token)
	requireInvalidToken(t, err, "Unexpected 'sub' value")

	lax := false
	_, err = newDiscoveryVerifier(t, issuer, Options{Strict: &lax}).Verify(context.Background(), token)
	assert.NoError(t, err)
}

func TestVerifier_KeyRotation(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	clock := &mutableClock{now: time.Now()}
	cooldown := 30 * time.Second
	v := newDiscoveryVerifier(t, issuer, Options{CooldownDuration: &cooldown}, WithClock(clock.Now))

	_, err := v.Verify(context.Background(), signed(t, issuer, issuer.Claims("alice", testAudience)))
	require.NoError(t, err)

	_, err = issuer.Rotate()
	require.NoError(t, err)
	rotated := signed(t, issuer, issuer.Claims("alice", testAudience))

	_, err = v.Verify(context.Background(), rotated)
	requireInvalidToken(t, err, "")
	assert.Equal(t, 1, issuer.JWKSRequests())

	clock.Advance(31 * time.Second)

	_, err = v.Verify(context.Background(), rotated)
	require.NoError(t, err)
	assert.Equal(t, 2, issuer.JWKSRequests())
}

func TestVerifier_IssuerAndJWKSURI(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	v, err := NewVerifier(Options{
		Issuer:          issuer.Issuer(),
		JWKSURI:         issuer.JWKSURL(),
		Audience:        []string{testAudience},
		TokenSigningAlg: "RS256",
	}, WithEnv(nil))
	require.NoError(t, err)
	assert.True(t, v.Ready())

	_, err = v.Verify(context.Background(), signed(t, issuer, issuer.Claims("alice", testAudience)))
	require.NoError(t, err)
	assert.Equal(t, 0, issuer.DiscoveryRequests())

	claims := issuer.Claims("alice", testAudience)
	claims["iss"] = "https://impostor.example/"
	_, err = v.Verify(context.Background(), signed(t, issuer, claims))
	requireInvalidToken(t, err, "Unexpected 'iss' value")
}

func TestVerifier_Secret(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier(Options{
		Issuer:          "https://issuer.example/",
		Secret:          string(testSecret),
		TokenSigningAlg: "HS256",
		Audience:        []string{testAudience},
	}, WithEnv(nil))
	require.NoError(t, err)

	now := time.Now()
	claims := map[string]any{
		"iss": "https://issuer.example/",
		"aud": testAudience,
		"sub": "svc",
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}

	token, err := authtest.SignSymmetric(claims, jwa.HS256, testSecret)
	require.NoError(t, err)
	result, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "svc", result.Payload["sub"])

	wrongAlg, err := authtest.SignSymmetric(claims, jwa.HS512, testSecret)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), wrongAlg)
	requireInvalidToken(t, err, "Unexpected 'alg' value")

	forged, err := authtest.SignSymmetric(claims, jwa.HS256, []byte("a-different-secret-of-enough-len"))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), forged)
	requireInvalidToken(t, err, ErrInvalidSignature.Error())
}

func TestVerifier_DiscoveryFailureNotCached(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	var up atomic.Bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.Redirect(w, r, issuer.BaseURL()+r.URL.Path, http.StatusTemporaryRedirect)
	}))
	t.Cleanup(proxy.Close)

	v, err := NewVerifier(Options{IssuerBaseURL: proxy.URL, Audience: []string{testAudience}}, WithEnv(nil))
	require.NoError(t, err)

	token := signed(t, issuer, issuer.Claims("alice", testAudience))

	_, err = v.Verify(context.Background(), token)
	requireInvalidToken(t, err, "Failed to fetch authorization server metadata")
	assert.ErrorIs(t, err, discovery.ErrDiscoveryFailed)

	up.Store(true)
	_, err = v.Verify(context.Background(), token)
	assert.NoError(t, err)
}

func TestVerifier_CustomValidators(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	v := newDiscoveryVerifier(t, issuer, Options{
		Validators: Validators{
			"tenant": Equals("acme"),
			"exp":    Disabled(),
		},
	})

	claims := issuer.Claims("alice", testAudience)
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	claims["tenant"] = "acme"
	_, err := v.Verify(context.Background(), signed(t, issuer, claims))
	require.NoError(t, err)

	claims["tenant"] = "globex"
	_, err = v.Verify(context.Background(), signed(t, issuer, claims))
	requireInvalidToken(t, err, "Unexpected 'tenant' value")
}

func TestVerifier_Metrics(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics("test")
	metrics.Init()
	metrics.MustRegister(registry)
	metrics.MustRegister(registry)

	jwksMetrics := jwks.NewMetrics("test")
	jwksMetrics.MustRegister(registry)
	discoveryMetrics := discovery.NewMetrics("test")
	discoveryMetrics.MustRegister(registry)

	v := newDiscoveryVerifier(t, issuer, Options{},
		WithMetrics(metrics),
		WithKeySetMetrics(jwksMetrics),
		WithDiscoveryMetrics(discoveryMetrics),
		WithLogger(observability.NopLogger()),
	)

	_, err := v.Verify(context.Background(), signed(t, issuer, issuer.Claims("alice", testAudience)))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), "not-a-token")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.verifyTotal.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.verifyTotal.WithLabelValues("error", StageSignature)))
}

func TestVerifier_MalformedToken(t *testing.T) {
	t.Parallel()

	issuer := newIssuer(t)
	v := newDiscoveryVerifier(t, issuer, Options{})

	_, err := v.Verify(context.Background(), "a.b")
	requireInvalidToken(t, err, ErrMalformedToken.Error())

	var be *bearer.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnauthorized, be.Status())
	assert.Contains(t, be.WWWAuthenticate(), `error="invalid_token"`)
}
