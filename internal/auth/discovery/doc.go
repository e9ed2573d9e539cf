// Package discovery resolves OAuth 2.0 authorization server metadata from
// the issuer's well-known locations.
//
// For an issuer base URL without a /.well-known/ path segment two locations
// are tried in order:
//
//	<base path>/.well-known/openid-configuration
//	/.well-known/oauth-authorization-server<base path>
//
// The first document that is fetched with status 200, parses as JSON and
// carries a non-empty issuer wins.
package discovery
