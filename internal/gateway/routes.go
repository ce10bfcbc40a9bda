package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrRouteNotFound means no registered prefix matches the request path.
	ErrRouteNotFound = errors.New("no route for path")
	// ErrBackendUnavailable means the route matched but its origin is
	// missing or malformed, so it can never be reached.
	ErrBackendUnavailable = errors.New("backend origin is not configured")
)

// Backend is one logical backend as configured.
type Backend struct {
	Name   string
	Prefix string
	Origin string
}

// Route is a resolved table entry.
type Route struct {
	Name   string
	Prefix string
	// Origin is nil when the configured origin is unusable; OriginErr says why.
	Origin    *url.URL
	OriginErr error
	raw       string
}

// Usable reports whether requests to this route can be forwarded.
func (r Route) Usable() bool {
	return r.Origin != nil
}

// RawOrigin is the origin as configured.
func (r Route) RawOrigin() string {
	return r.raw
}

// Table maps routing prefixes to backend origins. It is immutable after
// NewTable and safe for concurrent use.
type Table struct {
	routes []Route
	byName map[string]int
}

// NewTable builds a table. Duplicate names and overlapping prefixes are
// configuration errors. A bad origin is not: that route stays in the table
// and fails at request time.
func NewTable(backends []Backend) (*Table, error) {
	t := &Table{byName: make(map[string]int, len(backends))}
	for _, b := range backends {
		name := strings.TrimSpace(b.Name)
		if name == "" {
			return nil, errors.New("backend name must not be empty")
		}
		if _, dup := t.byName[name]; dup {
			return nil, fmt.Errorf("duplicate backend %q", name)
		}
		prefix := "/" + strings.Trim(strings.TrimSpace(b.Prefix), "/")
		if prefix == "/" {
			return nil, fmt.Errorf("backend %q: prefix must not be empty", name)
		}
		for _, other := range t.routes {
			if hasSegmentPrefix(prefix, other.Prefix) || hasSegmentPrefix(other.Prefix, prefix) {
				return nil, fmt.Errorf("backend %q: prefix %s overlaps %s", name, prefix, other.Prefix)
			}
		}

		origin, err := parseOrigin(b.Origin)
		t.byName[name] = len(t.routes)
		t.routes = append(t.routes, Route{
			Name:      name,
			Prefix:    prefix,
			Origin:    origin,
			OriginErr: err,
			raw:       b.Origin,
		})
	}
	return t, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrBackendUnavailable
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: origin %q must be an absolute http(s) url", ErrBackendUnavailable, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: origin %q has no host", ErrBackendUnavailable, raw)
	}
	return u, nil
}

// Resolve returns the route whose prefix matches path on a segment boundary:
// /api/composition-arranger matches itself and /api/composition-arranger/x
// but not /api/composition-arrangerx.
func (t *Table) Resolve(path string) (Route, error) {
	for _, r := range t.routes {
		if hasSegmentPrefix(path, r.Prefix) {
			return r, nil
		}
	}
	return Route{}, ErrRouteNotFound
}

// Lookup returns the route registered under name.
func (t *Table) Lookup(name string) (Route, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// Routes returns the routes sorted by name.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func hasSegmentPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// StripPrefix returns path without the route prefix. The result always
// starts with a slash.
func (r Route) StripPrefix(path string) string {
	rest := strings.TrimPrefix(path, r.Prefix)
	if rest == "" || rest[0] != '/' {
		rest = "/" + rest
	}
	return rest
}

// Target returns the upstream URL for an already stripped, escaped path and
// raw query, joined onto the origin's base path.
func (r Route) Target(escapedPath, rawQuery string) *url.URL {
	u := *r.Origin
	joined := joinPath(r.Origin.EscapedPath(), escapedPath)
	if p, err := url.PathUnescape(joined); err == nil {
		u.Path = p
		u.RawPath = joined
	} else {
		u.Path = joined
		u.RawPath = ""
	}
	u.RawQuery = rawQuery
	u.Fragment = ""
	return &u
}

func joinPath(base, rest string) string {
	base = strings.TrimSuffix(base, "/")
	if base == "" {
		return rest
	}
	return base + rest
}
