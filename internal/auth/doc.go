// Package auth adapts the bearer token verifier to HTTP, gin and gRPC
// servers.
//
// An Authenticator extracts the access token from a request, verifies it
// and optionally rejects replayed tokens. The verified *jwt.Result is stored
// in the request context, where RequireClaims and the gRPC interceptors
// evaluate claim checks against it:
//
//	authn, err := auth.NewAuthenticator(verifier, auth.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	mux.Handle("/orders", authn.HTTPMiddleware()(
//	    auth.RequireClaims(claimcheck.RequiredScopes("read:orders"))(ordersHandler),
//	))
//
// Failures are rendered as RFC 6750 challenges: the status code and the
// WWW-Authenticate header come from the bearer error, and the body is a JSON
// object with error and error_description members.
package auth
