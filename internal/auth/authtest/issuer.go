// Package authtest provides an in-process authorization server for tests.
// It publishes discovery metadata and a JSON Web Key Set over httptest and
// signs access tokens that verify against them.
//
//	issuer, err := authtest.NewIssuer()
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer issuer.Close()
//
//	token, err := issuer.Sign(issuer.Claims("alice", "https://api.example"))
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// Paths served by an Issuer.
const (
	OIDCDiscoveryPath = "/.well-known/openid-configuration"
	JWKSPath          = "/.well-known/jwks.json"
)

// Issuer is a test authorization server.
type Issuer struct {
	server *httptest.Server

	mu        sync.Mutex
	keys      map[string]jwk.Key
	published jwk.Set
	activeKid string
	serial    int
	metadata  map[string]any

	discoveryHits atomic.Int32
	jwksHits      atomic.Int32
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithMetadata merges extra members into the discovery document.
func WithMetadata(extra map[string]any) IssuerOption {
	return func(i *Issuer) {
		for k, v := range extra {
			i.metadata[k] = v
		}
	}
}

// NewIssuer starts an Issuer with one published RS256 key.
func NewIssuer(opts ...IssuerOption) (*Issuer, error) {
	i := &Issuer{
		keys:      make(map[string]jwk.Key),
		published: jwk.NewSet(),
		metadata:  make(map[string]any),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(OIDCDiscoveryPath, i.handleDiscovery)
	mux.HandleFunc(JWKSPath, i.handleJWKS)
	i.server = httptest.NewServer(mux)

	i.metadata["issuer"] = i.Issuer()
	i.metadata["jwks_uri"] = i.JWKSURL()
	i.metadata["id_token_signing_alg_values_supported"] = []string{"RS256"}
	for _, opt := range opts {
		opt(i)
	}

	if _, err := i.Rotate(); err != nil {
		i.server.Close()
		return nil, err
	}
	return i, nil
}

// BaseURL returns the server root, suitable as an issuer base URL.
func (i *Issuer) BaseURL() string {
	return i.server.URL
}

// Issuer returns the issuer identifier published in metadata.
func (i *Issuer) Issuer() string {
	return i.server.URL + "/"
}

// JWKSURL returns the key set location.
func (i *Issuer) JWKSURL() string {
	return i.server.URL + JWKSPath
}

// DiscoveryRequests returns how many times metadata was requested.
func (i *Issuer) DiscoveryRequests() int {
	return int(i.discoveryHits.Load())
}

// JWKSRequests returns how many times the key set was requested.
func (i *Issuer) JWKSRequests() int {
	return int(i.jwksHits.Load())
}

// Close shuts down the server.
func (i *Issuer) Close() {
	i.server.Close()
}

// Rotate generates a new signing key, publishes it in place of the previous
// keys and makes it the default for Sign. It returns the new key ID.
func (i *Issuer) Rotate() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	key, kid, err := i.generateLocked()
	if err != nil {
		return "", err
	}
	pub, err := key.PublicKey()
	if err != nil {
		return "", err
	}

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return "", err
	}
	i.published = set
	i.activeKid = kid
	return kid, nil
}

// UnpublishedKey generates a signing key that is never served in the key set
// and returns its ID for use with WithKeyID.
func (i *Issuer) UnpublishedKey() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, kid, err := i.generateLocked()
	return kid, err
}

func (i *Issuer) generateLocked() (jwk.Key, string, error) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, "", err
	}
	key, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, "", err
	}

	i.serial++
	kid := fmt.Sprintf("key-%d", i.serial)
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, "", err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, "", err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, "", err
	}

	i.keys[kid] = key
	return key, kid, nil
}

// Claims returns a valid claim set for sub and audience, issued now and
// expiring in an hour.
func (i *Issuer) Claims(sub string, audience ...string) map[string]any {
	now := time.Now()
	c := map[string]any{
		"iss": i.Issuer(),
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"jti": fmt.Sprintf("%s-%d", sub, now.UnixNano()),
	}
	switch len(audience) {
	case 0:
	case 1:
		c["aud"] = audience[0]
	default:
		c["aud"] = audience
	}
	return c
}

type signOptions struct {
	kid     string
	headers map[string]any
}

// SignOption configures Sign.
type SignOption func(*signOptions)

// WithKeyID signs with the key identified by kid instead of the active key.
func WithKeyID(kid string) SignOption {
	return func(o *signOptions) {
		o.kid = kid
	}
}

// WithHeader sets a protected header parameter.
func WithHeader(name string, value any) SignOption {
	return func(o *signOptions) {
		o.headers[name] = value
	}
}

// Sign returns a compact RS256 JWS over claims with typ "at+jwt".
func (i *Issuer) Sign(claims map[string]any, opts ...SignOption) (string, error) {
	o := signOptions{headers: map[string]any{jws.TypeKey: "at+jwt"}}
	for _, opt := range opts {
		opt(&o)
	}

	i.mu.Lock()
	if o.kid == "" {
		o.kid = i.activeKid
	}
	key, ok := i.keys[o.kid]
	i.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown key %q", o.kid)
	}

	o.headers[jws.KeyIDKey] = o.kid
	return sign(claims, jwa.RS256, key, o.headers)
}

// SignSymmetric returns a compact JWS over claims using an HMAC secret.
func SignSymmetric(claims map[string]any, alg jwa.SignatureAlgorithm, secret []byte) (string, error) {
	key, err := jwk.FromRaw(secret)
	if err != nil {
		return "", err
	}
	return sign(claims, alg, key, map[string]any{jws.TypeKey: "at+jwt"})
}

func sign(claims map[string]any, alg jwa.SignatureAlgorithm, key jwk.Key, headers map[string]any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	hdrs := jws.NewHeaders()
	for k, v := range headers {
		if err := hdrs.Set(k, v); err != nil {
			return "", err
		}
	}

	signed, err := jws.Sign(payload, jws.WithKey(alg, key, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (i *Issuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	i.discoveryHits.Add(1)

	i.mu.Lock()
	body, err := json.Marshal(i.metadata)
	i.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	i.jwksHits.Add(1)

	i.mu.Lock()
	body, err := json.Marshal(i.published)
	i.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
