package bearer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a bearer authentication failure.
type Kind int

// Failure kinds, in increasing specificity.
const (
	// KindUnauthorized means no credentials were presented.
	KindUnauthorized Kind = iota
	// KindInvalidRequest means the request was malformed, for example a token
	// supplied through more than one channel.
	KindInvalidRequest
	// KindInvalidToken covers every signature, decoding, claim, discovery and
	// key-resolution failure.
	KindInvalidToken
	// KindInsufficientScope means the token lacks a required scope.
	KindInsufficientScope
)

// Realm is the protection space advertised in WWW-Authenticate challenges.
const Realm = "api"

var kindInfo = map[Kind]struct {
	name    string
	code    string
	status  int
	message string
}{
	KindUnauthorized:      {"unauthorized", "", http.StatusUnauthorized, "Unauthorized"},
	KindInvalidRequest:    {"invalid_request", "invalid_request", http.StatusBadRequest, "Invalid Request"},
	KindInvalidToken:      {"invalid_token", "invalid_token", http.StatusUnauthorized, "Invalid Token"},
	KindInsufficientScope: {"insufficient_scope", "insufficient_scope", http.StatusForbidden, "Insufficient Scope"},
}

// String returns the kind name.
func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors matched by kind through errors.Is.
var (
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrInvalidToken      = &Error{Kind: KindInvalidToken}
	ErrInsufficientScope = &Error{Kind: KindInsufficientScope}
)

// Error is the single error type surfaced by bearer authentication. It carries
// everything needed to render an RFC 6750 response.
type Error struct {
	Kind    Kind
	Message string
	// Scopes lists the scopes that were required, for KindInsufficientScope.
	Scopes []string
	Cause  error
}

// Unauthorized returns a KindUnauthorized error. An empty message selects the
// default description.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// InvalidRequest returns a KindInvalidRequest error.
func InvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

// InvalidToken returns a KindInvalidToken error.
func InvalidToken(message string) *Error {
	return &Error{Kind: KindInvalidToken, Message: message}
}

// InvalidTokenFrom wraps cause as a KindInvalidToken error that keeps the
// cause's message.
func InvalidTokenFrom(cause error) *Error {
	return &Error{Kind: KindInvalidToken, Message: cause.Error(), Cause: cause}
}

// InsufficientScope returns a KindInsufficientScope error naming the scopes
// that were required.
func InsufficientScope(scopes []string, message string) *Error {
	return &Error{Kind: KindInsufficientScope, Message: message, Scopes: scopes}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Description()
}

// Description returns the human readable message, falling back to the kind's
// default text.
func (e *Error) Description() string {
	if e.Message != "" {
		return e.Message
	}
	return kindInfo[e.Kind].message
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	if info, ok := kindInfo[e.Kind]; ok {
		return info.status
	}
	return http.StatusUnauthorized
}

// Code returns the RFC 6750 error code. It is empty for KindUnauthorized.
func (e *Error) Code() string {
	return kindInfo[e.Kind].code
}

// WWWAuthenticate returns the challenge for the WWW-Authenticate header.
func (e *Error) WWWAuthenticate() string {
	var b strings.Builder
	b.WriteString(`Bearer realm="` + Realm + `"`)

	code := e.Code()
	if code == "" {
		return b.String()
	}

	fmt.Fprintf(&b, `, error="%s", error_description="%s"`,
		code, strings.ReplaceAll(e.Description(), `"`, `'`))

	if e.Kind == KindInsufficientScope && e.Scopes != nil {
		fmt.Fprintf(&b, `, scope="%s"`, strings.Join(e.Scopes, " "))
	}

	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// AsError extracts an *Error from err. Errors of any other type are reported
// as KindInvalidToken so callers always have a renderable value.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return InvalidTokenFrom(err)
}
