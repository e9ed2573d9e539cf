package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avabearer/internal/fetch"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestResolver_OIDCFirst(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case OIDCDiscoveryPath:
			writeJSON(w, map[string]any{"issuer": server.URL + "/", "jwks_uri": server.URL + "/jwks"})
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	r, err := NewResolver(server.URL+"/", fetch.New())
	require.NoError(t, err)

	md, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/", md.Issuer)
	assert.Equal(t, server.URL+"/jwks", md.JWKSURI)
	assert.True(t, r.Resolved())
}

func TestResolver_FallsBackToOAuth2(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		oidc http.HandlerFunc
	}{
		{
			name: "oidc 404",
			oidc: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
		},
		{
			name: "oidc malformed",
			oidc: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("not json")) },
		},
		{
			name: "oidc missing issuer",
			oidc: func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, map[string]any{"jwks_uri": "x"}) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			mux.HandleFunc("/tenant"+OIDCDiscoveryPath, tt.oidc)
			mux.HandleFunc(OAuth2DiscoveryPath+"/tenant", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, map[string]any{"issuer": "https://issuer.example/tenant"})
			})
			server := httptest.NewServer(mux)
			t.Cleanup(server.Close)

			registry := prometheus.NewRegistry()
			metrics := NewMetrics("test")
			metrics.MustRegister(registry)

			r, err := NewResolver(server.URL+"/tenant", fetch.New(),
				WithLogger(observability.NopLogger()),
				WithMetrics(metrics),
			)
			require.NoError(t, err)

			md, err := r.Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "https://issuer.example/tenant", md.Issuer)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.discoveryTotal.WithLabelValues("success")))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.candidateTotal.WithLabelValues("success")))
		})
	}
}

func TestResolver_AllCandidatesFail(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if healthy.Load() && r.URL.Path == OIDCDiscoveryPath {
			writeJSON(w, map[string]any{"issuer": "https://issuer.example/"})
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	r, err := NewResolver(server.URL, fetch.New())
	require.NoError(t, err)

	_, err = r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
	assert.Equal(t, "Failed to fetch authorization server metadata", err.Error())
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, r.Resolved())

	healthy.Store(true)
	md, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example/", md.Issuer)
}

func TestResolver_ExplicitWellKnown(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"jwks_uri": "x"})
	}))
	t.Cleanup(server.Close)

	r, err := NewResolver(server.URL+OIDCDiscoveryPath, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL + OIDCDiscoveryPath}, r.Candidates())

	_, err = r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrMissingIssuer)
}

func TestResolver_SingleFlight(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		writeJSON(w, map[string]any{"issuer": "https://issuer.example/"})
	}))
	t.Cleanup(server.Close)

	r, err := NewResolver(server.URL, fetch.New(fetch.WithTimeout(5*time.Second)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			md, err := r.Resolve(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "https://issuer.example/", md.Issuer)
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
