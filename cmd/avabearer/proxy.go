package main

import (
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/vyrodovalexey/avabearer/internal/auth"
	"github.com/vyrodovalexey/avabearer/internal/auth/claims"
	"github.com/vyrodovalexey/avabearer/internal/observability"
)

// Identity headers set on upstream requests from the verified token.
// Inbound copies are always removed.
const (
	HeaderAuthSubject  = "X-Auth-Subject"
	HeaderAuthClientID = "X-Auth-Client-Id"
	HeaderAuthScope    = "X-Auth-Scope"
)

// newReverseProxy forwards authenticated requests to target.
func newReverseProxy(target *url.URL, logger observability.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			restoreForm(pr.Out, pr.In)
			setIdentityHeaders(pr.Out)
			observability.InjectTraceContext(pr.Out.Context(), pr.Out)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WithContext(r.Context()).Error("upstream request failed",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Error(err),
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// restoreForm re-encodes a form body that token extraction already parsed,
// since parsing consumed the original body.
func restoreForm(out, in *http.Request) {
	if in.PostForm == nil {
		return
	}
	encoded := in.PostForm.Encode()
	out.Body = io.NopCloser(strings.NewReader(encoded))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(encoded)), nil
	}
	out.ContentLength = int64(len(encoded))
}

func setIdentityHeaders(out *http.Request) {
	out.Header.Del(HeaderAuthSubject)
	out.Header.Del(HeaderAuthClientID)
	out.Header.Del(HeaderAuthScope)

	result, ok := auth.ResultFromContext(out.Context())
	if !ok {
		return
	}

	if sub, ok := result.Payload["sub"].(string); ok {
		out.Header.Set(HeaderAuthSubject, sub)
	}
	if clientID, ok := result.Payload["client_id"].(string); ok {
		out.Header.Set(HeaderAuthClientID, clientID)
	} else if azp, ok := result.Payload["azp"].(string); ok {
		out.Header.Set(HeaderAuthClientID, azp)
	}
	if raw, ok := result.Payload["scope"]; ok {
		if scopes, ok := claims.Members(raw); ok {
			parts := make([]string, 0, len(scopes))
			for _, s := range scopes {
				if str, ok := s.(string); ok {
					parts = append(parts, str)
				}
			}
			out.Header.Set(HeaderAuthScope, strings.Join(parts, " "))
		}
	}
}
