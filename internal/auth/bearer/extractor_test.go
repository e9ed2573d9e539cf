package bearer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

func TestGetToken(t *testing.T) {
	t.Parallel()

	header := func(v string) http.Header {
		h := http.Header{}
		h.Set("Authorization", v)
		return h
	}

	tests := []struct {
		name     string
		req      Request
		want     string
		wantKind Kind
		wantErr  bool
	}{
		{
			name: "authorization header",
			req:  Request{Header: header("Bearer abc.def.ghi")},
			want: "abc.def.ghi",
		},
		{
			name: "scheme is case insensitive",
			req:  Request{Header: header("bEaReR token")},
			want: "token",
		},
		{
			name:     "other scheme ignored",
			req:      Request{Header: header("Basic dXNlcjpwYXNz")},
			wantErr:  true,
			wantKind: KindUnauthorized,
		},
		{
			name:     "empty bearer value",
			req:      Request{Header: header("Bearer ")},
			wantErr:  true,
			wantKind: KindUnauthorized,
		},
		{
			name: "query parameter",
			req:  Request{Query: url.Values{"access_token": {"q-token"}}},
			want: "q-token",
		},
		{
			name: "url encoded body",
			req:  Request{Body: url.Values{"access_token": {"b-token"}}, URLEncoded: true},
			want: "b-token",
		},
		{
			name:     "body ignored unless url encoded",
			req:      Request{Body: url.Values{"access_token": {"b-token"}}},
			wantErr:  true,
			wantKind: KindUnauthorized,
		},
		{
			name:     "nothing supplied",
			req:      Request{},
			wantErr:  true,
			wantKind: KindUnauthorized,
		},
		{
			name: "header and query",
			req: Request{
				Header: header("Bearer a"),
				Query:  url.Values{"access_token": {"a"}},
			},
			wantErr:  true,
			wantKind: KindInvalidRequest,
		},
		{
			name: "query and body",
			req: Request{
				Query:      url.Values{"access_token": {"a"}},
				Body:       url.Values{"access_token": {"b"}},
				URLEncoded: true,
			},
			wantErr:  true,
			wantKind: KindInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := GetToken(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, AsError(err).Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetToken_AmbiguousMessage(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Authorization", "Bearer x")
	_, err := GetToken(Request{Header: h, Query: url.Values{"access_token": {"y"}}})

	require.Error(t, err)
	assert.Equal(t, "More than one method used for authentication", err.Error())
}

func TestRequestFromHTTP(t *testing.T) {
	t.Parallel()

	t.Run("form body", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodPost, "/resource", strings.NewReader("access_token=form-token"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

		req := RequestFromHTTP(r)
		assert.True(t, req.URLEncoded)

		token, err := GetToken(req)
		require.NoError(t, err)
		assert.Equal(t, "form-token", token)
	})

	t.Run("json body not parsed", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodPost, "/resource", strings.NewReader(`{"access_token":"x"}`))
		r.Header.Set("Content-Type", "application/json")

		req := RequestFromHTTP(r)
		assert.False(t, req.URLEncoded)
		assert.Nil(t, req.Body)
	})

	t.Run("query", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/resource?access_token=abc", http.NoBody)

		token, err := GetToken(RequestFromHTTP(r))
		require.NoError(t, err)
		assert.Equal(t, "abc", token)
	})
}

func TestRequestFromMetadata(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer grpc-token"))

	token, err := GetToken(RequestFromMetadata(ctx))
	require.NoError(t, err)
	assert.Equal(t, "grpc-token", token)

	_, err = GetToken(RequestFromMetadata(context.Background()))
	assert.ErrorIs(t, err, ErrUnauthorized)
}
