// Package jwks resolves signing keys from an issuer's JSON Web Key Set.
//
// The remote document is fetched lazily and shared by all callers. A token
// naming a key the cached set lacks triggers a refetch, bounded by a
// cooldown so a flood of tokens with unknown key IDs cannot hammer the
// authorization server.
package jwks
