package bearer

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/grpc/metadata"
)

// AccessTokenParam is the query and form field that may carry the token.
const AccessTokenParam = "access_token"

const bearerPrefix = "bearer "

// Request is the transport-neutral view of an incoming request used for
// token extraction.
type Request struct {
	Header http.Header
	Query  url.Values
	Body   url.Values
	// URLEncoded reports whether Body came from an
	// application/x-www-form-urlencoded payload. Body is ignored otherwise.
	URLEncoded bool
}

// GetToken returns the single bearer token carried by req. It fails with
// KindUnauthorized when no token is present and KindInvalidRequest when more
// than one channel supplies one.
func GetToken(req Request) (string, error) {
	fromHeader := tokenFromHeader(req.Header)
	fromQuery := req.Query.Get(AccessTokenParam)

	var fromBody string
	if req.URLEncoded {
		fromBody = req.Body.Get(AccessTokenParam)
	}

	found := 0
	for _, v := range []string{fromHeader, fromQuery, fromBody} {
		if v != "" {
			found++
		}
	}

	switch {
	case found == 0:
		return "", Unauthorized("")
	case found > 1:
		return "", InvalidRequest("More than one method used for authentication")
	case fromQuery != "":
		return fromQuery, nil
	case fromBody != "":
		return fromBody, nil
	default:
		return fromHeader, nil
	}
}

func tokenFromHeader(h http.Header) string {
	return tokenFromAuthorization(h.Get("Authorization"))
}

func tokenFromAuthorization(value string) string {
	if len(value) <= len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return value[len(bearerPrefix):]
}

// RequestFromHTTP builds a Request from r. The body is parsed only for
// application/x-www-form-urlencoded requests; the parsed form stays available
// to downstream handlers through r.PostForm.
func RequestFromHTTP(r *http.Request) Request {
	req := Request{
		Header: r.Header,
		Query:  r.URL.Query(),
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/x-www-form-urlencoded" || r.Body == nil {
		return req
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return req
	}

	if err := r.ParseForm(); err == nil {
		req.Body = r.PostForm
		req.URLEncoded = true
	}
	return req
}

// RequestFromMetadata builds a Request from incoming gRPC metadata. Only the
// authorization header is considered.
func RequestFromMetadata(ctx context.Context) Request {
	req := Request{Header: http.Header{}}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return req
	}
	for _, v := range md.Get("authorization") {
		req.Header.Add("Authorization", v)
	}
	return req
}
