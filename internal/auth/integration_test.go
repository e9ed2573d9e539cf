package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avabearer/internal/auth/authtest"
	"github.com/vyrodovalexey/avabearer/internal/auth/claimcheck"
	"github.com/vyrodovalexey/avabearer/internal/auth/jwt"
	"github.com/vyrodovalexey/avabearer/internal/auth/replay"
	"github.com/vyrodovalexey/avabearer/internal/cache"
)

func TestHTTPMiddleware_WithVerifier(t *testing.T) {
	t.Parallel()

	issuer, err := authtest.NewIssuer()
	require.NoError(t, err)
	t.Cleanup(issuer.Close)

	verifier, err := jwt.NewVerifier(jwt.Options{
		IssuerBaseURL: issuer.BaseURL(),
		Audience:      []string{"https://api.example"},
	}, jwt.WithEnv(nil))
	require.NoError(t, err)

	authn, err := NewAuthenticator(verifier)
	require.NoError(t, err)

	handler := authn.HTTPMiddleware()(
		RequireClaims(claimcheck.RequiredScopes("read:orders"))(okHandler()),
	)

	claims := issuer.Claims("alice", "https://api.example")
	claims["scope"] = "openid read:orders"
	token, err := issuer.Sign(claims)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, bearerRequest(token))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	claims["aud"] = "https://other.example"
	token, err = issuer.Sign(claims)
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bearerRequest(token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t,
		`Bearer realm="api", error="invalid_token", error_description="Unexpected 'aud' value"`,
		rec.Header().Get(HeaderWWWAuthenticate))
}

func TestAuthenticator_ReplayWithinClockTolerance(t *testing.T) {
	t.Parallel()

	issuer, err := authtest.NewIssuer()
	require.NoError(t, err)
	t.Cleanup(issuer.Close)

	tolerance := 200 * time.Second
	verifier, err := jwt.NewVerifier(jwt.Options{
		IssuerBaseURL:  issuer.BaseURL(),
		Audience:       []string{"https://api.example"},
		ClockTolerance: &tolerance,
	}, jwt.WithEnv(nil))
	require.NoError(t, err)

	store, err := cache.New(context.Background(), cache.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	detector, err := replay.NewDetector(store, replay.WithClockTolerance(verifier.Config().ClockTolerance))
	require.NoError(t, err)

	authn, err := NewAuthenticator(verifier, WithReplayDetector(detector))
	require.NoError(t, err)

	claims := issuer.Claims("alice", "https://api.example")
	claims["iat"] = time.Now().Add(-time.Hour).Unix()
	claims["exp"] = time.Now().Add(-100 * time.Second).Unix()
	token, err := issuer.Sign(claims)
	require.NoError(t, err)

	_, err = authn.Authenticate(bearerRequest(token))
	require.NoError(t, err, "expired within tolerance")

	_, err = authn.Authenticate(bearerRequest(token))
	require.Error(t, err)
	assert.Equal(t, replay.MessageReplayed, err.Error())
}
