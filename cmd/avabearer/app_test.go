package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avabearer/internal/auth"
	"github.com/vyrodovalexey/avabearer/internal/auth/authtest"
	"github.com/vyrodovalexey/avabearer/internal/config"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

const testAudience = "orders-api"

// upstreamEcho reports what the protected service received.
type upstreamEcho struct {
	Path    string      `json:"path"`
	Body    string      `json:"body"`
	Headers http.Header `json:"headers"`
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(upstreamEcho{Path: r.URL.Path, Body: string(body), Headers: r.Header})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestIssuer(t *testing.T) *authtest.Issuer {
	t.Helper()

	issuer, err := authtest.NewIssuer()
	require.NoError(t, err)
	t.Cleanup(issuer.Close)
	return issuer
}

func testConfig(issuer *authtest.Issuer, upstream string) *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Listen:    "127.0.0.1:0",
			Upstream:  upstream,
			SkipPaths: []string{"/public"},
		},
		Verifier: config.VerifierConfig{
			IssuerBaseURL: issuer.BaseURL(),
			Audience:      []string{testAudience},
		},
		Routes: []config.RouteConfig{
			{Name: "orders", PathPrefix: "/orders", Scopes: []string{"read:orders"}},
			{Name: "admin", PathPrefix: "/orders/admin", ClaimIncludes: map[string][]any{"roles": {"admin"}}},
		},
		Observability: config.ObservabilityConfig{
			Metrics: config.MetricsConfig{Enabled: true},
		},
	}
	cfg.SetDefaults()
	cfg.Observability.Metrics.Namespace = "test"
	return cfg
}

func newTestApplication(t *testing.T, cfg *config.Config) *application {
	t.Helper()

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background()) })
	return app
}

func token(t *testing.T, issuer *authtest.Issuer, mutate func(claims map[string]any)) string {
	t.Helper()

	claims := issuer.Claims("alice", testAudience)
	claims["scope"] = "read:orders"
	claims["client_id"] = "web"
	if mutate != nil {
		mutate(claims)
	}
	tok, err := issuer.Sign(claims)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func bearerRequest(method, target, tok string) *http.Request {
	req := httptest.NewRequest(method, target, http.NoBody)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req
}

func TestApplication_Proxy(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	app := newTestApplication(t, testConfig(issuer, upstream.URL))

	good := token(t, issuer, nil)
	admin := token(t, issuer, func(c map[string]any) { c["roles"] = []string{"admin"} })
	noScope := token(t, issuer, func(c map[string]any) { delete(c, "scope") })

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantError  string
		wantChall  string
	}{
		{
			name:       "no token",
			req:        bearerRequest(http.MethodGet, "/orders", ""),
			wantStatus: http.StatusUnauthorized,
			wantError:  "unauthorized",
			wantChall:  `Bearer realm="api"`,
		},
		{
			name:       "garbage token",
			req:        bearerRequest(http.MethodGet, "/orders", "not-a-jwt"),
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_token",
		},
		{
			name:       "valid token on unrouted path",
			req:        bearerRequest(http.MethodGet, "/invoices", noScope),
			wantStatus: http.StatusOK,
		},
		{
			name:       "valid token with scope",
			req:        bearerRequest(http.MethodGet, "/orders/1", good),
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing scope",
			req:        bearerRequest(http.MethodGet, "/orders/1", noScope),
			wantStatus: http.StatusForbidden,
			wantError:  "insufficient_scope",
			wantChall:  `scope="read:orders"`,
		},
		{
			name:       "longest prefix wins",
			req:        bearerRequest(http.MethodGet, "/orders/admin/users", good),
			wantStatus: http.StatusUnauthorized,
			wantError:  "invalid_token",
		},
		{
			name:       "admin role accepted",
			req:        bearerRequest(http.MethodGet, "/orders/admin/users", admin),
			wantStatus: http.StatusOK,
		},
		{
			name:       "skip path",
			req:        bearerRequest(http.MethodGet, "/public", ""),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := do(t, app.handler, tt.req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			if tt.wantError != "" {
				var body auth.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantError, body.Error)
			}
			if tt.wantChall != "" {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), tt.wantChall)
			}
		})
	}
}

func TestApplication_IdentityHeaders(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	app := newTestApplication(t, testConfig(issuer, upstream.URL))

	req := bearerRequest(http.MethodGet, "/orders/1", token(t, issuer, nil))
	req.Header.Set(HeaderAuthSubject, "mallory")

	rec := do(t, app.handler, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var echo upstreamEcho
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &echo))
	assert.Equal(t, "/orders/1", echo.Path)
	assert.Equal(t, "alice", echo.Headers.Get(HeaderAuthSubject))
	assert.Equal(t, "web", echo.Headers.Get(HeaderAuthClientID))
	assert.Equal(t, "read:orders", echo.Headers.Get(HeaderAuthScope))
	assert.NotEmpty(t, echo.Headers.Get("X-Request-ID"))
}

func TestApplication_FormBodyForwarded(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	app := newTestApplication(t, testConfig(issuer, upstream.URL))

	form := url.Values{"access_token": {token(t, issuer, nil)}, "item": {"book"}}
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := do(t, app.handler, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var echo upstreamEcho
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &echo))
	forwarded, err := url.ParseQuery(echo.Body)
	require.NoError(t, err)
	assert.Equal(t, "book", forwarded.Get("item"))
}

func TestApplication_Replay(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	cfg := testConfig(issuer, upstream.URL)
	cfg.Replay = config.ReplayConfig{Enabled: true}
	app := newTestApplication(t, cfg)

	tok := token(t, issuer, nil)

	rec := do(t, app.handler, bearerRequest(http.MethodGet, "/orders", tok))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app.handler, bearerRequest(http.MethodGet, "/orders", tok))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Token replay detected")

	rec = do(t, app.handler, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "replay-store")
}

func TestApplication_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	app := newTestApplication(t, testConfig(issuer, upstream.URL))

	rec := do(t, app.handler, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app.handler, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, issuer.DiscoveryRequests())

	do(t, app.handler, bearerRequest(http.MethodGet, "/orders", token(t, issuer, nil)))

	rec = do(t, app.handler, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "test_auth_requests_total")
	assert.Contains(t, body, "test_health_checks_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestApplication_ReadinessFailsWhenIssuerDown(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	cfg := testConfig(issuer, upstream.URL)
	issuer.Close()

	app := newTestApplication(t, cfg)

	rec := do(t, app.handler, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "authorization-server")
}

func TestApplication_UpstreamDown(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	cfg := testConfig(issuer, upstream.URL)
	upstream.Close()

	app := newTestApplication(t, cfg)

	rec := do(t, app.handler, bearerRequest(http.MethodGet, "/orders", token(t, issuer, nil)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestApplication_ReloadRoutes(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	cfg := testConfig(issuer, upstream.URL)
	app := newTestApplication(t, cfg)

	tok := token(t, issuer, nil)
	require.Equal(t, http.StatusOK, do(t, app.handler, bearerRequest(http.MethodGet, "/invoices", tok)).Code)

	updated := *cfg
	updated.Routes = []config.RouteConfig{{Name: "invoices", PathPrefix: "/invoices", Scopes: []string{"read:invoices"}}}
	app.reloadRoutes(&updated)
	assert.Equal(t, http.StatusForbidden, do(t, app.handler, bearerRequest(http.MethodGet, "/invoices", tok)).Code)

	broken := *cfg
	broken.Routes = []config.RouteConfig{{Name: "bad", PathPrefix: "/", Expression: "claims.("}}
	app.reloadRoutes(&broken)
	assert.Equal(t, http.StatusForbidden, do(t, app.handler, bearerRequest(http.MethodGet, "/invoices", tok)).Code,
		"a rejected reload keeps the previous routes")
}

func TestNewApplication_Errors(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)

	t.Run("verifier configuration", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(issuer, "http://127.0.0.1:1")
		cfg.Verifier = config.VerifierConfig{IssuerBaseURL: issuer.BaseURL(), Audience: []string{testAudience}, Secret: "x"}
		_, err := newApplication(context.Background(), cfg, observability.NopLogger())
		assert.ErrorContains(t, err, "failed to create verifier")
	})

	t.Run("route expression", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(issuer, "http://127.0.0.1:1")
		cfg.Routes = []config.RouteConfig{{Name: "bad", PathPrefix: "/", Expression: "claims.("}}
		_, err := newApplication(context.Background(), cfg, observability.NopLogger())
		assert.ErrorContains(t, err, `routes[0] "bad"`)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(issuer, "http://127.0.0.1:1")
		cfg.Replay = config.ReplayConfig{Enabled: true, Cache: config.CacheConfig{
			Type:  "redis",
			Redis: &config.RedisConfig{URL: "redis://127.0.0.1:1", ConnectTimeout: config.Duration(50 * time.Millisecond)},
		}}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := newApplication(ctx, cfg, observability.NopLogger())
		assert.ErrorContains(t, err, "failed to create replay store")
	})
}

func TestApplication_Serve(t *testing.T) {
	t.Parallel()

	issuer := newTestIssuer(t)
	upstream := newUpstream(t)
	app := newTestApplication(t, testConfig(issuer, upstream.URL))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln, "") }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz") //nolint:noctx // test helper
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/orders", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, issuer, nil))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	rec := do(t, app.handler, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
