package discovery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		want []string
	}{
		{
			name: "root with trailing slash",
			base: "https://issuer.example/",
			want: []string{
				"https://issuer.example/.well-known/openid-configuration",
				"https://issuer.example/.well-known/oauth-authorization-server",
			},
		},
		{
			name: "no path",
			base: "https://issuer.example",
			want: []string{
				"https://issuer.example/.well-known/openid-configuration",
				"https://issuer.example/.well-known/oauth-authorization-server",
			},
		},
		{
			name: "tenant path",
			base: "https://issuer.example/tenant",
			want: []string{
				"https://issuer.example/tenant/.well-known/openid-configuration",
				"https://issuer.example/.well-known/oauth-authorization-server/tenant",
			},
		},
		{
			name: "tenant path with trailing slash",
			base: "https://issuer.example/tenant/",
			want: []string{
				"https://issuer.example/tenant/.well-known/openid-configuration",
				"https://issuer.example/.well-known/oauth-authorization-server/tenant/",
			},
		},
		{
			name: "explicit well-known location",
			base: "https://issuer.example/.well-known/openid-configuration",
			want: []string{"https://issuer.example/.well-known/openid-configuration"},
		},
		{
			name: "query dropped",
			base: "https://issuer.example:8443/?x=1",
			want: []string{
				"https://issuer.example:8443/.well-known/openid-configuration",
				"https://issuer.example:8443/.well-known/oauth-authorization-server",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := CandidateURLs(tt.base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandidateURLs_Invalid(t *testing.T) {
	t.Parallel()

	_, err := CandidateURLs("://missing-scheme")
	assert.Error(t, err)

	for _, base := range []string{"issuer.example", "/tenant", "https:///path", "https:opaque"} {
		_, err := CandidateURLs(base)
		assert.ErrorIs(t, err, ErrRelativeBaseURL, base)
	}
}

func TestMetadata_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var md Metadata
	err := json.Unmarshal([]byte(`{
		"issuer": "https://issuer.example/",
		"jwks_uri": "https://issuer.example/jwks.json",
		"id_token_signing_alg_values_supported": ["RS256", "ES256"],
		"userinfo_endpoint": "https://issuer.example/userinfo"
	}`), &md)
	require.NoError(t, err)

	assert.Equal(t, "https://issuer.example/", md.Issuer)
	assert.Equal(t, "https://issuer.example/jwks.json", md.JWKSURI)
	assert.Equal(t, []string{"RS256", "ES256"}, md.IDTokenSigningAlgValuesSupported)
	assert.Equal(t, map[string]any{"userinfo_endpoint": "https://issuer.example/userinfo"}, md.Extra)
}
