// Package bearer locates OAuth 2.0 bearer tokens in requests (RFC 6750) and
// defines the error type every bearer failure is reported with.
//
// A token may arrive in the Authorization header, the access_token query
// parameter, or the access_token field of a form-encoded body. Exactly one
// channel must be used:
//
//	token, err := bearer.GetToken(bearer.RequestFromHTTP(r))
//	if err != nil {
//	    e := bearer.AsError(err)
//	    w.Header().Set("WWW-Authenticate", e.WWWAuthenticate())
//	    http.Error(w, e.Description(), e.Status())
//	    return
//	}
package bearer
