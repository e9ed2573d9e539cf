package main

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/vyrodovalexey/avabearer/internal/auth"
	"github.com/vyrodovalexey/avabearer/internal/auth/claimcheck"
	"github.com/vyrodovalexey/avabearer/internal/config"
)

type compiledRoute struct {
	route   config.RouteConfig
	handler http.Handler
}

// routeTable maps requests to the claim policy guarding them. It is
// immutable once built.
type routeTable struct {
	routes   []compiledRoute
	fallback http.Handler
}

// buildRouteTable compiles every route's checks in front of next. Requests
// that match no route reach next with only a valid token required.
func buildRouteTable(routes []config.RouteConfig, next http.Handler) (*routeTable, error) {
	t := &routeTable{fallback: next}
	for i, rc := range routes {
		checks, err := routeChecks(rc)
		if err != nil {
			return nil, fmt.Errorf("routes[%d] %q: %w", i, rc.Name, err)
		}
		t.routes = append(t.routes, compiledRoute{
			route:   rc,
			handler: auth.RequireClaims(checks...)(next),
		})
	}
	return t, nil
}

// handlerFor returns the handler of the matching route with the longest
// path prefix. Ties go to the route listed first.
func (t *routeTable) handlerFor(r *http.Request) http.Handler {
	var best *compiledRoute
	for i := range t.routes {
		c := &t.routes[i]
		if !c.route.Matches(r.Method, r.URL.Path) {
			continue
		}
		if best == nil || len(c.route.PathPrefix) > len(best.route.PathPrefix) {
			best = c
		}
	}
	if best == nil {
		return t.fallback
	}
	return best.handler
}

func routeChecks(rc config.RouteConfig) ([]claimcheck.Check, error) {
	var checks []claimcheck.Check

	if len(rc.Scopes) > 0 {
		checks = append(checks, claimcheck.RequiredScopes(rc.Scopes...))
	}
	for _, claim := range sortedKeys(rc.ClaimEquals) {
		checks = append(checks, claimcheck.ClaimEquals(claim, rc.ClaimEquals[claim]))
	}
	for _, claim := range sortedKeys(rc.ClaimIncludes) {
		checks = append(checks, claimcheck.ClaimIncludes(claim, rc.ClaimIncludes[claim]...))
	}
	if rc.Expression != "" {
		check, err := claimcheck.Expression(rc.Expression, rc.ExpressionError)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}

	return checks, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
