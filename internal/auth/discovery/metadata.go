package discovery

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

// ErrRelativeBaseURL is returned for a base URL without scheme or host.
var ErrRelativeBaseURL = errors.New("issuer base URL must be absolute")

// Well-known discovery paths.
const (
	OIDCDiscoveryPath   = "/.well-known/openid-configuration"
	OAuth2DiscoveryPath = "/.well-known/oauth-authorization-server"

	wellKnownSegment = "/.well-known/"
)

// Metadata is the authorization server metadata document (OpenID Connect
// Discovery 1.0, RFC 8414). Members not modeled explicitly are kept in Extra.
type Metadata struct {
	Issuer                           string   `json:"issuer"`
	JWKSURI                          string   `json:"jwks_uri,omitempty"`
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpoint                    string   `json:"token_endpoint,omitempty"`
	IntrospectionEndpoint            string   `json:"introspection_endpoint,omitempty"`
	ScopesSupported                  []string `json:"scopes_supported,omitempty"`

	Extra map[string]any `json:"-"`
}

// UnmarshalJSON decodes the document, retaining unknown members in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type known Metadata
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, name := range []string{
		"issuer", "jwks_uri", "id_token_signing_alg_values_supported",
		"token_endpoint", "introspection_endpoint", "scopes_supported",
	} {
		delete(all, name)
	}

	*m = Metadata(k)
	if len(all) > 0 {
		m.Extra = all
	}
	return nil
}

// CandidateURLs returns the metadata URLs to try for base, in order. A base
// whose path already points into /.well-known/ is used as is. Otherwise the
// OpenID Connect location is tried first, then the RFC 8414 location. base
// must be an absolute URL with a host.
func CandidateURLs(base string) ([]string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, ErrRelativeBaseURL
	}
	u.RawQuery = ""
	u.Fragment = ""

	if strings.Contains(u.Path, wellKnownSegment) {
		return []string{u.String()}, nil
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	oidc := *u
	oidc.Path = strings.TrimSuffix(path, "/") + OIDCDiscoveryPath
	oidc.RawPath = ""

	oauth := *u
	oauth.RawPath = ""
	if path == "/" {
		oauth.Path = OAuth2DiscoveryPath
	} else {
		oauth.Path = OAuth2DiscoveryPath + path
	}

	return []string{oidc.String(), oauth.String()}, nil
}
