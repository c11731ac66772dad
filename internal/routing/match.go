package routing

import (
	"net/url"
	"strings"

	"github.com/conneroisu/pagegraph/internal/types"
)

// RouterURL is the outcome of resolving a location.
type RouterURL struct {
	Locale        string            `json:"locale" yaml:"locale"`
	DefaultLocale string            `json:"defaultLocale" yaml:"defaultLocale"`
	Pathname      string            `json:"pathname" yaml:"pathname"`
	PagePath      string            `json:"pagePath" yaml:"pagePath"`
	Params        map[string]string `json:"params" yaml:"params"`
	Query         url.Values        `json:"query,omitempty" yaml:"query,omitempty"`
}

// Found reports whether the location matched a route.
func (u RouterURL) Found() bool {
	return u.PagePath != ""
}

// CreateRouter resolves location ("/zh-CN/blog/hello?page=2") to its
// router URL and module stack. The stack lists the page modules of the
// matched node's ancestors outermost first, then the node's own page
// module and index module. An unmatched location yields an empty page
// path and stack.
func (r *Router) CreateRouter(location string) (RouterURL, []types.RouteModule) {
	rawPath, rawQuery, _ := strings.Cut(location, "?")
	rawQuery, _, _ = strings.Cut(rawQuery, "#")
	rawPath, _, _ = strings.Cut(rawPath, "#")

	segments := decodeSegments(rawPath)
	query, _ := url.ParseQuery(rawQuery)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if to, ok := r.rewrites[joinPath(segments)]; ok {
		segments = splitSegments(to)
	}

	routerURL := RouterURL{
		Locale:        r.defaultLocale,
		DefaultLocale: r.defaultLocale,
		Params:        make(map[string]string),
		Query:         query,
	}
	if len(segments) > 0 {
		if locale, ok := r.locales[canonicalLocale(segments[0])]; ok {
			routerURL.Locale = locale
			segments = segments[1:]
		}
	}
	routerURL.Pathname = pathnameOf(segments)

	trail := match(r.root, segments, routerURL.Params)
	if trail == nil {
		return routerURL, nil
	}

	terminal := trail[len(trail)-1]
	routerURL.PagePath = terminal.path

	var stack []types.RouteModule
	for _, n := range trail {
		if n.page != nil {
			stack = append(stack, *n.page)
		}
	}
	if terminal.index != nil {
		stack = append(stack, *terminal.index)
	}
	return routerURL, stack
}

// decodeSegments splits a raw path on "/" before percent-decoding each
// segment, so an encoded slash ("a%2Fb") stays inside its segment.
// Segments that fail to decode are kept raw.
func decodeSegments(rawPath string) []string {
	segments := splitSegments(rawPath)
	for i, s := range segments {
		if decoded, err := url.PathUnescape(s); err == nil {
			segments[i] = decoded
		}
	}
	return segments
}

// pathnameOf joins decoded segments, re-encoding slashes that belong to a
// segment.
func pathnameOf(segments []string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = strings.ReplaceAll(s, "/", "%2F")
	}
	return joinPath(escaped)
}

// match walks segments from n with static > dynamic > catch-all
// precedence, falling back to the next kind when a branch dead-ends. It
// returns the matched nodes from n to the terminal node, binding captures
// into params.
func match(n *node, segments []string, params map[string]string) []*node {
	if len(segments) == 0 {
		if n.page == nil && n.index == nil {
			return nil
		}
		return []*node{n}
	}

	head := segments[0]
	if child, ok := n.static[head]; ok {
		if rest := match(child, segments[1:], params); rest != nil {
			return append([]*node{n}, rest...)
		}
	}

	if n.dynamic != nil {
		params[n.dynamic.param] = head
		if rest := match(n.dynamic, segments[1:], params); rest != nil {
			return append([]*node{n}, rest...)
		}
		delete(params, n.dynamic.param)
	}

	if n.catchAll != nil && (n.catchAll.page != nil || n.catchAll.index != nil) {
		params[n.catchAll.param] = strings.Join(segments, "/")
		return []*node{n, n.catchAll}
	}

	return nil
}
