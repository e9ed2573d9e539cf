package auth

import (
	"encoding/json"
	"net/http"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
	"github.com/vyrodovalexey/avabearer/internal/auth/claimcheck"
)

// Header names and content types.
const (
	HeaderWWWAuthenticate = "WWW-Authenticate"
	HeaderContentType     = "Content-Type"
	ContentTypeJSON       = "application/json"
)

// ErrorResponse is the JSON body written for a rejected request.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func newErrorResponse(be *bearer.Error) ErrorResponse {
	return ErrorResponse{Error: be.Kind.String(), Description: be.Description()}
}

// HTTPMiddleware returns a middleware that authenticates every request and
// stores the verified token in the request context.
func (a *Authenticator) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			result, err := a.Authenticate(r)
			if err != nil {
				a.logFailure(r.Context(), TransportHTTP, r.Method+" "+r.URL.Path, err)
				WriteError(w, err)
				return
			}

			if result != nil {
				r = r.WithContext(ContextWithResult(r.Context(), result))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireClaims returns a middleware that runs checks against the token
// stored by HTTPMiddleware. A request without a verified token is rejected
// as unauthorized, even when no checks are given.
func RequireClaims(checks ...claimcheck.Check) func(http.Handler) http.Handler {
	check := requireToken(checks...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := check(payloadFromContext(r.Context())); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError renders err as a Bearer challenge.
func WriteError(w http.ResponseWriter, err error) {
	be := bearer.AsError(err)
	if be == nil {
		be = bearer.ErrUnauthorized
	}

	w.Header().Set(HeaderWWWAuthenticate, be.WWWAuthenticate())
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.WriteHeader(be.Status())
	_ = json.NewEncoder(w).Encode(newErrorResponse(be))
}
