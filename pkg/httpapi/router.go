// Package httpapi implements the LocalTalk HTTP router and the
// /api/localsend/v2 route handlers: request validation, security/replay
// screening ahead of dispatch, and the JSON error mapping spec'd in §4.F
// and §7.
package httpapi

import (
	"net/http"
	"strings"
)

// HandlerFunc is a route handler. params holds any {name} placeholders
// captured from the matched pattern, keyed by name.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, params map[string]string)

// route is one registered pattern with its per-method handlers.
type route struct {
	pattern  string
	segments []string // pattern case kept; "{x}" entries are captures, others are literals matched case-insensitively
	methods  map[string]HandlerFunc
}

func (rt *route) isPattern() bool {
	return strings.Contains(rt.pattern, "{")
}

// Router matches requests against registered patterns: an exact
// (non-parameterized) match first, then a pattern match with "{param}"
// placeholders, both case-insensitive on the path.
type Router struct {
	exact    map[string]*route
	patterns []*route
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{exact: make(map[string]*route)}
}

// Handle registers handler for method on pattern, e.g. "/health" or
// "/api/localsend/v2/download/{fileId}".
func (rt *Router) Handle(method, pattern string, handler HandlerFunc) {
	key := strings.ToLower(pattern)

	var r *route
	if !strings.Contains(pattern, "{") {
		r = rt.exact[key]
		if r == nil {
			r = &route{pattern: pattern, methods: make(map[string]HandlerFunc)}
			rt.exact[key] = r
		}
	} else {
		for _, existing := range rt.patterns {
			if strings.EqualFold(existing.pattern, pattern) {
				r = existing
				break
			}
		}
		if r == nil {
			r = &route{pattern: pattern, segments: strings.Split(strings.Trim(pattern, "/"), "/"), methods: make(map[string]HandlerFunc)}
			rt.patterns = append(rt.patterns, r)
		}
	}
	r.methods[strings.ToUpper(method)] = handler
}

func splitLower(pattern string) []string {
	parts := strings.Split(strings.ToLower(strings.Trim(pattern, "/")), "/")
	return parts
}

// Match resolves method and path against the registered routes. found is
// false only when no pattern matches path at all; when a pattern matches
// but method is not registered for it, found is true, handler is nil, and
// allowed lists the methods the route does support (for a 405 response).
func (rt *Router) Match(method, path string) (handler HandlerFunc, params map[string]string, allowed []string, found bool) {
	key := strings.ToLower(path)

	if r, ok := rt.exact[key]; ok {
		if h, ok := r.methods[strings.ToUpper(method)]; ok {
			return h, nil, nil, true
		}
		return nil, nil, allowedMethods(r), true
	}

	segs := splitLower(path)
	for _, r := range rt.patterns {
		p, ok := matchSegments(r.segments, segs)
		if !ok {
			continue
		}
		if h, ok := r.methods[strings.ToUpper(method)]; ok {
			return h, p, nil, true
		}
		return nil, nil, allowedMethods(r), true
	}

	return nil, nil, nil, false
}

func matchSegments(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	params := make(map[string]string)
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params[strings.Trim(seg, "{}")] = path[i]
			continue
		}
		if !strings.EqualFold(seg, path[i]) {
			return nil, false
		}
	}
	return params, true
}

func allowedMethods(r *route) []string {
	out := make([]string, 0, len(r.methods))
	for m := range r.methods {
		out = append(out, m)
	}
	return out
}
