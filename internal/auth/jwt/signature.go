package jwt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"

	"github.com/vyrodovalexey/avabearer/internal/auth/claims"
)

// Token decoding and signature errors.
var (
	ErrMalformedToken       = errors.New("token is not a compact JWS")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	ErrInvalidSignature     = errors.New("signature verification failed")
	ErrInvalidPayload       = errors.New("JWT Claims Set must be a top-level JSON object")
	ErrNotYetValid          = errors.New(`"nbf" claim timestamp check failed`)
)

// KeyResolver returns the key that verifies a token with the given key ID and
// algorithm.
type KeyResolver interface {
	Resolve(ctx context.Context, kid, alg string) (jwk.Key, error)
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(ctx context.Context, kid, alg string) (jwk.Key, error)

// Resolve calls f.
func (f KeyResolverFunc) Resolve(ctx context.Context, kid, alg string) (jwk.Key, error) {
	return f(ctx, kid, alg)
}

// Constraints limit what the signature verifier accepts.
type Constraints struct {
	// Algorithms lists acceptable alg header values.
	Algorithms     []string
	ClockTolerance time.Duration
	Now            func() time.Time
}

// Decoded is a token whose signature has been verified.
type Decoded struct {
	Header  map[string]any
	Payload map[string]any
}

// SignatureVerifier checks the signature of a compact JWS and decodes it.
type SignatureVerifier interface {
	Verify(ctx context.Context, token string, keys KeyResolver, c Constraints) (*Decoded, error)
}

// KeyError wraps a failure to resolve the verification key. Its message is
// the cause's message.
type KeyError struct {
	Cause error
}

// Error implements the error interface.
func (e *KeyError) Error() string { return e.Cause.Error() }

// Unwrap returns the underlying error.
func (e *KeyError) Unwrap() error { return e.Cause }

// JWSVerifier implements SignatureVerifier with lestrrat-go/jwx.
type JWSVerifier struct{}

var _ SignatureVerifier = JWSVerifier{}

// Verify parses token, resolves its key through keys, verifies the signature
// and decodes header and payload. A numeric nbf later than now plus the clock
// tolerance is rejected; exp is left to claim validation.
func (JWSVerifier) Verify(ctx context.Context, token string, keys KeyResolver, c Constraints) (*Decoded, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	header, err := decodeSegment(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid protected header", ErrMalformedToken)
	}

	alg, _ := header["alg"].(string)
	if alg == "" || strings.EqualFold(alg, "none") ||
		(len(c.Algorithms) > 0 && !slices.Contains(c.Algorithms, alg)) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	kid, _ := header["kid"].(string)

	key, err := keys.Resolve(ctx, kid, alg)
	if err != nil {
		return nil, &KeyError{Cause: err}
	}

	raw, err := jws.Verify([]byte(token), jws.WithKey(jwa.SignatureAlgorithm(alg), key))
	if err != nil {
		return nil, ErrInvalidSignature
	}

	payload, err := decodeObject(raw)
	if err != nil {
		return nil, ErrInvalidPayload
	}

	if err := checkNotBefore(payload, c); err != nil {
		return nil, err
	}

	return &Decoded{Header: header, Payload: payload}, nil
}

func decodeSegment(seg string) (map[string]any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw)
}

func decodeObject(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, errors.New("not a JSON object")
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkNotBefore(payload map[string]any, c Constraints) error {
	v, ok := payload["nbf"]
	if !ok {
		return nil
	}
	nbf, ok := claims.Number(v)
	if !ok {
		return errors.New(`"nbf" claim must be a number`)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if nbf > float64(now().Unix())+c.ClockTolerance.Seconds() {
		return ErrNotYetValid
	}
	return nil
}
