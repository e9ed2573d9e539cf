// Package claimcheck builds authorization predicates over the payload of a
// verified access token.
//
// A Check returns nil when the payload satisfies it and a *bearer.Error
// otherwise, so the result can be rendered directly as a Bearer challenge:
//
//	admin := claimcheck.All(
//	    claimcheck.RequiredScopes("read:orders"),
//	    claimcheck.ClaimIncludes("roles", "admin"),
//	)
//	if err := admin(result.Payload); err != nil {
//	    ...
//	}
package claimcheck

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
	"github.com/vyrodovalexey/avabearer/internal/auth/claims"
)

// Check inspects a token payload.
type Check func(payload map[string]any) error

// ClaimCheck returns a Check that accepts the payload when fn returns true.
// A false result is reported as an invalid token with errMsg.
func ClaimCheck(fn func(payload map[string]any) bool, errMsg string) Check {
	if fn == nil {
		panic("claimcheck: 'fn' must be a function")
	}
	return func(payload map[string]any) error {
		if payload == nil {
			return bearer.Unauthorized("")
		}
		if !fn(payload) {
			return bearer.InvalidToken(errMsg)
		}
		return nil
	}
}

// ClaimEquals requires claim to be strictly equal to expected, which must be a
// string, number, boolean or nil.
func ClaimEquals(claim string, expected any) Check {
	mustBePrimitive(expected)
	return func(payload map[string]any) error {
		if payload == nil {
			return bearer.Unauthorized("")
		}
		v, ok := claims.Lookup(payload, claim)
		if !ok {
			return missingClaim(claim)
		}
		if !claims.Equal(v, expected) {
			return unexpectedValue(claim)
		}
		return nil
	}
}

// ClaimIncludes requires claim to hold every expected value. A string claim
// is treated as a space-separated list.
func ClaimIncludes(claim string, expected ...any) Check {
	for _, e := range expected {
		mustBePrimitive(e)
	}
	return func(payload map[string]any) error {
		if payload == nil {
			return bearer.Unauthorized("")
		}
		v, ok := claims.Lookup(payload, claim)
		if !ok {
			return missingClaim(claim)
		}
		members, ok := claims.Members(v)
		if !ok {
			return unexpectedValue(claim)
		}
		for _, e := range expected {
			if !claims.Contains(members, e) {
				return unexpectedValue(claim)
			}
		}
		return nil
	}
}

// RequiredScopes requires the scope claim to contain every scope.
func RequiredScopes(scopes ...string) Check {
	required := make([]string, len(scopes))
	copy(required, scopes)

	return func(payload map[string]any) error {
		if payload == nil {
			return bearer.Unauthorized("")
		}
		v, ok := claims.Lookup(payload, "scope")
		if !ok {
			return bearer.InsufficientScope(required, "Missing 'scope' claim")
		}
		granted, ok := claims.Members(v)
		if !ok {
			return bearer.InsufficientScope(required, "")
		}
		for _, s := range required {
			if !claims.Contains(granted, s) {
				return bearer.InsufficientScope(required, "")
			}
		}
		return nil
	}
}

// RequiredScopesString is RequiredScopes for a space-separated list.
func RequiredScopesString(scopes string) Check {
	return RequiredScopes(strings.Fields(scopes)...)
}

// All returns a Check that runs checks in order and reports the first failure.
func All(checks ...Check) Check {
	return func(payload map[string]any) error {
		for _, c := range checks {
			if err := c(payload); err != nil {
				return err
			}
		}
		return nil
	}
}

func mustBePrimitive(v any) {
	if !claims.IsPrimitive(v) {
		panic(fmt.Sprintf("claimcheck: expected value must be a string, number, boolean or nil, got %T", v))
	}
}

func missingClaim(claim string) error {
	return bearer.InvalidToken(fmt.Sprintf("Missing '%s' claim", claim))
}

func unexpectedValue(claim string) error {
	return bearer.InvalidToken(fmt.Sprintf("Unexpected '%s' value", claim))
}
