// Package jwt verifies OAuth 2.0 JWT access tokens (RFC 9068) for resource
// servers.
//
// A Verifier is built once from Options, with unset options filled from the
// environment (ISSUER_BASE_URL, ISSUER, JWKS_URI, AUDIENCE, SECRET,
// TOKEN_SIGNING_ALG and friends) and then from defaults:
//
//	v, err := jwt.NewVerifier(jwt.Options{
//	    IssuerBaseURL: "https://issuer.example/",
//	    Audience:      []string{"https://api.example"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := v.Verify(ctx, token)
//
// Verification runs in stages: issuer discovery (when configured), key
// resolution from a shared, cooldown-bounded key set cache, signature
// verification and claim validation. Any failure surfaces as a
// bearer.Error of kind KindInvalidToken.
//
// # Claim validation
//
// DefaultValidators covers alg, typ, iss, aud, exp, iat, sub, client_id and
// jti. Options.Validators overrides entries per claim:
//
//	jwt.Options{
//	    Validators: jwt.Validators{
//	        "typ":    jwt.Disabled(),
//	        "tenant": jwt.Equals("acme"),
//	        "azp": jwt.Func(func(_ context.Context, v any, _, _ map[string]any) (bool, error) {
//	            return v == "web-app", nil
//	        }),
//	    },
//	}
package jwt
