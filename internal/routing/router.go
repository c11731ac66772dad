// Package routing resolves request paths against the nested route tree
// built from the pages directory. Each resolution yields the page path,
// the captured parameters and the ordered stack of modules to render.
package routing

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/types"
)

type segmentKind int

const (
	segmentStatic segmentKind = iota
	segmentDynamic
	segmentCatchAll
)

// node is one segment of the route tree.
type node struct {
	segment string
	kind    segmentKind
	param   string
	// path is the declared route path of the node ("/blog/[slug]").
	path string

	static   map[string]*node
	dynamic  *node
	catchAll *node

	// page is the sibling file module (pages/blog.tsx). It wraps every
	// route below the node.
	page *types.RouteModule
	// index is the directory index module (pages/blog/index.tsx).
	index *types.RouteModule
}

func newNode(segment, path string) *node {
	n := &node{segment: segment, path: path}
	switch {
	case strings.HasPrefix(segment, "[...") && strings.HasSuffix(segment, "]"):
		n.kind = segmentCatchAll
		n.param = segment[4 : len(segment)-1]
	case strings.HasPrefix(segment, "[") && strings.HasSuffix(segment, "]"):
		n.kind = segmentDynamic
		n.param = segment[1 : len(segment)-1]
	}
	return n
}

func (n *node) empty() bool {
	return n.page == nil && n.index == nil && len(n.static) == 0 && n.dynamic == nil && n.catchAll == nil
}

func (n *node) children() []*node {
	keys := make([]string, 0, len(n.static))
	for k := range n.static {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*node, 0, len(keys)+2)
	for _, k := range keys {
		out = append(out, n.static[k])
	}
	if n.dynamic != nil {
		out = append(out, n.dynamic)
	}
	if n.catchAll != nil {
		out = append(out, n.catchAll)
	}
	return out
}

func (n *node) removeChild(child *node) {
	switch child.kind {
	case segmentDynamic:
		n.dynamic = nil
	case segmentCatchAll:
		n.catchAll = nil
	default:
		delete(n.static, child.segment)
	}
}

// Options configure locale handling and rewrites.
type Options struct {
	DefaultLocale string
	Locales       []string
	// Rewrites maps an exact request pathname to the pathname resolved
	// in its place.
	Rewrites map[string]string
}

// UpdateOptions qualify a route module.
type UpdateOptions struct {
	// IsIndexModule registers the module as the node's directory index
	// rather than its page module.
	IsIndexModule bool
}

// RouteEntry is one node with modules, as listed by Routes.
type RouteEntry struct {
	Path  string             `json:"path" yaml:"path"`
	Page  *types.RouteModule `json:"page,omitempty" yaml:"page,omitempty"`
	Index *types.RouteModule `json:"index,omitempty" yaml:"index,omitempty"`
}

// Router is the route tree. It is safe for concurrent use; readers never
// observe a partially applied update.
type Router struct {
	mu            sync.RWMutex
	root          *node
	defaultLocale string
	locales       map[string]string
	rewrites      map[string]string
}

// NewRouter creates an empty route tree.
func NewRouter(opts Options) *Router {
	r := &Router{
		root:          newNode("", "/"),
		defaultLocale: opts.DefaultLocale,
		locales:       make(map[string]string, len(opts.Locales)),
		rewrites:      make(map[string]string, len(opts.Rewrites)),
	}
	for _, locale := range opts.Locales {
		r.locales[canonicalLocale(locale)] = locale
	}
	for from, to := range opts.Rewrites {
		r.rewrites[from] = to
	}
	return r
}

// canonicalLocale normalizes a BCP 47 identifier ("zh-cn" -> "zh-CN").
// Strings that do not parse are returned unchanged.
func canonicalLocale(s string) string {
	tag, err := language.Parse(s)
	if err != nil {
		return s
	}
	return tag.String()
}

func splitSegments(p string) []string {
	var segments []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func joinPath(segments []string) string {
	return "/" + strings.Join(segments, "/")
}

// Update inserts or replaces the module registered for routePath.
func (r *Router) Update(routePath string, module types.RouteModule, opts UpdateOptions) error {
	segments := splitSegments(routePath)
	declared := joinPath(segments)
	module.Path = declared

	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the whole path before creating any node.
	n := r.root
	for i, segment := range segments {
		probe := newNode(segment, "")
		if probe.kind == segmentCatchAll && i != len(segments)-1 {
			return errors.NewConflictingSegment(declared, segment, segments[i+1]).
				WithContext("reason", "catch-all must be the last segment")
		}
		if n == nil {
			continue
		}
		switch probe.kind {
		case segmentDynamic:
			if n.dynamic != nil && n.dynamic.param != probe.param {
				return errors.NewConflictingSegment(declared, n.dynamic.segment, segment)
			}
			n = n.dynamic
		case segmentCatchAll:
			if n.catchAll != nil && n.catchAll.param != probe.param {
				return errors.NewConflictingSegment(declared, n.catchAll.segment, segment)
			}
			n = n.catchAll
		default:
			n = n.static[segment]
		}
	}

	n = r.root
	for i, segment := range segments {
		n = n.child(segment, joinPath(segments[:i+1]))
	}

	if opts.IsIndexModule {
		n.index = &module
	} else {
		n.page = &module
	}
	return nil
}

// child returns the child for segment, creating it.
func (n *node) child(segment, path string) *node {
	c := newNode(segment, path)
	switch c.kind {
	case segmentDynamic:
		if n.dynamic == nil {
			n.dynamic = c
		}
		return n.dynamic
	case segmentCatchAll:
		if n.catchAll == nil {
			n.catchAll = c
		}
		return n.catchAll
	default:
		if existing, ok := n.static[segment]; ok {
			return existing
		}
		if n.static == nil {
			n.static = make(map[string]*node)
		}
		n.static[segment] = c
		return c
	}
}

// RemoveRoute deletes the page module registered for routePath and prunes
// nodes left empty.
func (r *Router) RemoveRoute(routePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	trail := r.find(splitSegments(routePath))
	if trail == nil {
		return false
	}
	n := trail[len(trail)-1]
	if n.page == nil {
		return false
	}
	n.page = nil
	prune(trail)
	return true
}

// RemoveModule deletes moduleURL wherever it is registered, as a page or an
// index module, and returns the page paths whose module stack changed.
func (r *Router) RemoveModule(moduleURL string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	trail, isIndex := r.locate(moduleURL)
	if trail == nil {
		return nil
	}
	n := trail[len(trail)-1]
	affected := affectedPaths(n, isIndex)
	if isIndex {
		n.index = nil
	} else {
		n.page = nil
	}
	prune(trail)
	return affected
}

// Refresh updates the projection of moduleURL after a recompile and
// returns the page paths whose module stack includes it.
func (r *Router) Refresh(moduleURL, outputHash string, requiresServerData bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	trail, isIndex := r.locate(moduleURL)
	if trail == nil {
		return nil
	}
	n := trail[len(trail)-1]
	target := n.page
	if isIndex {
		target = n.index
	}

	updated := *target
	updated.OutputHash = outputHash
	updated.RequiresServerData = requiresServerData
	if isIndex {
		n.index = &updated
	} else {
		n.page = &updated
	}
	return affectedPaths(n, isIndex)
}

// Lookup returns the route path moduleURL is registered under.
func (r *Router) Lookup(moduleURL string) (routePath string, isIndex bool, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trail, isIndex := r.locate(moduleURL)
	if trail == nil {
		return "", false, false
	}
	return trail[len(trail)-1].path, isIndex, true
}

// Routes lists every node carrying a module, sorted by path.
func (r *Router) Routes() []RouteEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []RouteEntry
	var walk func(n *node)
	walk = func(n *node) {
		if n.page != nil || n.index != nil {
			entry := RouteEntry{Path: n.path}
			if n.page != nil {
				page := *n.page
				entry.Page = &page
			}
			if n.index != nil {
				index := *n.index
				entry.Index = &index
			}
			entries = append(entries, entry)
		}
		for _, c := range n.children() {
			walk(c)
		}
	}
	walk(r.root)

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// find returns the nodes from the root to the node declared at segments.
func (r *Router) find(segments []string) []*node {
	trail := []*node{r.root}
	n := r.root
	for _, segment := range segments {
		probe := newNode(segment, "")
		var next *node
		switch probe.kind {
		case segmentDynamic:
			next = n.dynamic
		case segmentCatchAll:
			next = n.catchAll
		default:
			next = n.static[segment]
		}
		if next == nil || next.segment != segment {
			return nil
		}
		n = next
		trail = append(trail, n)
	}
	return trail
}

// locate finds the node holding moduleURL, depth first.
func (r *Router) locate(moduleURL string) ([]*node, bool) {
	var trail []*node
	var isIndex bool

	var walk func(n *node) bool
	walk = func(n *node) bool {
		trail = append(trail, n)
		if n.page != nil && n.page.URL == moduleURL {
			return true
		}
		if n.index != nil && n.index.URL == moduleURL {
			isIndex = true
			return true
		}
		for _, c := range n.children() {
			if walk(c) {
				return true
			}
		}
		trail = trail[:len(trail)-1]
		return false
	}

	if !walk(r.root) {
		return nil, false
	}
	return trail, isIndex
}

// affectedPaths lists the page paths whose stack includes n's page module
// (n and every descendant with modules) or, for an index module, n alone.
func affectedPaths(n *node, isIndex bool) []string {
	if isIndex {
		return []string{n.path}
	}
	var paths []string
	var walk func(n *node)
	walk = func(n *node) {
		if n.page != nil || n.index != nil {
			paths = append(paths, n.path)
		}
		for _, c := range n.children() {
			walk(c)
		}
	}
	walk(n)
	return paths
}

// prune removes empty nodes bottom-up along trail. The root is kept.
func prune(trail []*node) {
	for i := len(trail) - 1; i > 0; i-- {
		if !trail[i].empty() {
			return
		}
		trail[i-1].removeChild(trail[i])
	}
}
