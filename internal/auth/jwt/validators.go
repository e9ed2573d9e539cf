package jwt

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/avabearer/internal/auth/claims"
)

// ValidatorKind tags the variant held by a Validator.
type ValidatorKind int

// Validator variants.
const (
	// ValidatorDisabled accepts any value.
	ValidatorDisabled ValidatorKind = iota
	// ValidatorLiteral accepts only a value strictly equal to a JSON primitive.
	ValidatorLiteral
	// ValidatorFunc delegates to a Predicate.
	ValidatorFunc
)

// Predicate decides whether a claim value is acceptable. value is nil when
// the claim is absent. A non-nil error rejects the token with that error's
// message.
type Predicate func(ctx context.Context, value any, payload, header map[string]any) (bool, error)

// Validator is one entry of a validator table.
type Validator struct {
	kind    ValidatorKind
	literal any
	fn      Predicate
}

// Disabled returns a validator that accepts any value.
func Disabled() Validator {
	return Validator{kind: ValidatorDisabled}
}

// Equals returns a validator that accepts only expected. It panics if
// expected is not a JSON primitive.
func Equals(expected any) Validator {
	v, ok := claims.Normalize(expected)
	if !ok {
		panic(fmt.Sprintf("jwt: Equals expects a string, number, boolean or nil, got %T", expected))
	}
	return Validator{kind: ValidatorLiteral, literal: v}
}

// Func returns a validator backed by p.
func Func(p Predicate) Validator {
	if p == nil {
		panic("jwt: Func expects a non-nil predicate")
	}
	return Validator{kind: ValidatorFunc, fn: p}
}

// Kind returns the variant tag.
func (v Validator) Kind() ValidatorKind {
	return v.kind
}

func (v Validator) check(ctx context.Context, value any, present bool, payload, header map[string]any) (bool, error) {
	switch v.kind {
	case ValidatorDisabled:
		return true, nil
	case ValidatorLiteral:
		return present && claims.Equal(value, v.literal), nil
	case ValidatorFunc:
		return v.fn(ctx, value, payload, header)
	default:
		return false, nil
	}
}

// Validators maps claim names to validators. The alg and typ entries are
// evaluated against the protected header; all others against the payload.
type Validators map[string]Validator

// Merge returns a new table holding v overlaid with overrides.
func (v Validators) Merge(overrides Validators) Validators {
	out := make(Validators, len(v)+len(overrides))
	maps.Copy(out, v)
	maps.Copy(out, overrides)
	return out
}

// ValidatorParams feeds DefaultValidators.
type ValidatorParams struct {
	Issuer          string
	Audience        []string
	ClockTolerance  time.Duration
	MaxTokenAge     time.Duration
	Strict          bool
	AllowedAlgs     []string
	TokenSigningAlg string
	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// DefaultValidators returns the standard table covering alg, typ, iss, aud,
// exp, iat, sub, client_id and jti.
func DefaultValidators(p ValidatorParams) Validators {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	unixNow := func() float64 { return float64(now().Unix()) }
	tolerance := p.ClockTolerance.Seconds()
	maxAge := p.MaxTokenAge.Seconds()

	optionalString := func(value any, present bool) bool {
		if !present {
			return !p.Strict
		}
		_, ok := value.(string)
		return ok
	}

	return Validators{
		"alg": claimPredicate("alg", func(value any, _ bool) bool {
			alg, ok := value.(string)
			if !ok || strings.EqualFold(alg, "none") {
				return false
			}
			if len(p.AllowedAlgs) > 0 && !slices.Contains(p.AllowedAlgs, alg) {
				return false
			}
			return p.TokenSigningAlg == "" || alg == p.TokenSigningAlg
		}),
		"typ": claimPredicate("typ", func(value any, _ bool) bool {
			if !p.Strict {
				return true
			}
			typ, ok := value.(string)
			if !ok {
				return false
			}
			return strings.TrimPrefix(strings.ToLower(typ), "application/") == "at+jwt"
		}),
		"iss": claimPredicate("iss", func(value any, _ bool) bool {
			iss, ok := value.(string)
			return ok && iss == p.Issuer
		}),
		"aud": claimPredicate("aud", func(value any, _ bool) bool {
			if aud, ok := value.(string); ok {
				return slices.Contains(p.Audience, aud)
			}
			members, ok := value.([]any)
			if !ok {
				return false
			}
			for _, want := range p.Audience {
				if claims.Contains(members, want) {
					return true
				}
			}
			return false
		}),
		"exp": claimPredicate("exp", func(value any, _ bool) bool {
			exp, ok := claims.Number(value)
			return ok && exp+tolerance >= unixNow()
		}),
		"iat": claimPredicate("iat", func(value any, present bool) bool {
			iat, ok := claims.Number(value)
			if maxAge <= 0 {
				return (!present && !p.Strict) || ok
			}
			t := unixNow()
			return ok && iat < t+tolerance && iat > t-tolerance-maxAge
		}),
		"sub":       claimPredicate("sub", optionalString),
		"client_id": claimPredicate("client_id", optionalString),
		"jti":       claimPredicate("jti", optionalString),
	}
}

// claimPredicate adapts a synchronous check that needs to tell an absent
// claim from one holding null.
func claimPredicate(name string, fn func(value any, present bool) bool) Validator {
	return Func(func(_ context.Context, value any, payload, header map[string]any) (bool, error) {
		_, present := claimSource(name, payload, header)[name]
		return fn(value, present), nil
	})
}

func claimSource(name string, payload, header map[string]any) map[string]any {
	if name == "alg" || name == "typ" {
		return header
	}
	return payload
}

// ClaimError reports the claim that failed validation.
type ClaimError struct {
	Claim string
	Cause error
}

// Error implements the error interface.
func (e *ClaimError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return fmt.Sprintf("Unexpected '%s' value", e.Claim)
}

// Unwrap returns the predicate error, if any.
func (e *ClaimError) Unwrap() error {
	return e.Cause
}

// Validate runs every validator in the table concurrently and returns the
// first failure as a *ClaimError.
func Validate(ctx context.Context, payload, header map[string]any, validators Validators) error {
	g, gctx := errgroup.WithContext(ctx)

	for name, v := range validators {
		g.Go(func() error {
			value, present := claimSource(name, payload, header)[name]

			ok, err := v.check(gctx, value, present, payload, header)
			if err != nil {
				return &ClaimError{Claim: name, Cause: err}
			}
			if !ok {
				return &ClaimError{Claim: name}
			}
			return nil
		})
	}

	return g.Wait()
}
