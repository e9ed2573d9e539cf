// Package middleware provides the HTTP middleware wrapped around the
// avabearer proxy: request IDs, panic recovery and access logging.
package middleware
