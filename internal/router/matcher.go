// Package router implements the per-service route dispatch structure: an
// exact-match hashmap, a length-sorted literal-prefix list, and an
// ordered regexp list, selected deterministically per the tiered
// algorithm (exact, then longest-prefix, then first-matching-regexp).
package router

import (
	"sort"
	"strings"

	"github.com/wudi/edgegateway/internal/config"
)

// Matcher is the immutable, compiled dispatch structure for one service's
// routes. It is safe for concurrent use by many requests once built.
type Matcher struct {
	exact   map[string]*config.Route
	prefix  []prefixEntry // sorted by literal length, descending
	regexps []*config.Route
}

type prefixEntry struct {
	literal string
	route   *config.Route
}

// Build compiles a Matcher from a service's ordered routes.
func Build(routes []*config.Route) *Matcher {
	m := &Matcher{exact: make(map[string]*config.Route)}
	for _, r := range routes {
		switch r.Match.Kind {
		case config.MatchExact:
			m.exact[r.Match.Literal] = r
		case config.MatchPrefix:
			m.prefix = append(m.prefix, prefixEntry{literal: r.Match.Literal, route: r})
		case config.MatchRegexp:
			m.regexps = append(m.regexps, r)
		}
	}
	// Longest literal wins; equal-length literals resolve in configuration
	// order, so the sort must be stable.
	sort.SliceStable(m.prefix, func(i, j int) bool {
		return len(m.prefix[i].literal) > len(m.prefix[j].literal)
	})
	return m
}

// matchesAxes reports whether the route's optional method/header axes, if
// set, agree with the request. It is folded into route selection by
// Matcher.MatchRequest; Matcher.Match itself only evaluates the URI axis
// described in the core algorithm.
func matchesAxes(r *config.Route, method string, header map[string][]string) bool {
	if r.Match.Method != "" && r.Match.Method != method {
		return false
	}
	for k, v := range r.Match.Header {
		vals, ok := header[k]
		if !ok {
			return false
		}
		found := false
		for _, hv := range vals {
			if hv == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Match resolves a request path to a route using the tiered algorithm:
// exact match, then longest matching prefix, then first matching regexp
// in configuration order. It returns nil if no route matches.
func (m *Matcher) Match(path string) *config.Route {
	if r, ok := m.exact[path]; ok {
		return r
	}
	for _, e := range m.prefix {
		if strings.HasPrefix(path, e.literal) {
			return e.route
		}
	}
	for _, r := range m.regexps {
		if r.Match.Pattern.MatchString(path) {
			return r
		}
	}
	return nil
}

// MatchRequest resolves path plus the optional method/header axes. Routes
// whose URI matches but whose axes disagree fall through to the next
// candidate, continuing the same tiered scan.
func (m *Matcher) MatchRequest(path, method string, header map[string][]string) *config.Route {
	if r, ok := m.exact[path]; ok && matchesAxes(r, method, header) {
		return r
	}
	for _, e := range m.prefix {
		if strings.HasPrefix(path, e.literal) && matchesAxes(e.route, method, header) {
			return e.route
		}
	}
	for _, r := range m.regexps {
		if r.Match.Pattern.MatchString(path) && matchesAxes(r, method, header) {
			return r
		}
	}
	return nil
}
