package renderer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RenderResult is the rendered output of one page for one query.
type RenderResult struct {
	Status     int               `json:"status" yaml:"status"`
	Body       string            `json:"body" yaml:"body"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
	Stack      string            `json:"stack,omitempty" yaml:"stack,omitempty"`
	RenderedAt time.Time         `json:"renderedAt" yaml:"renderedAt"`
}

// Failed reports whether the result came from the failure boundary.
func (r *RenderResult) Failed() bool {
	return r.Status >= 500
}

// RenderFunc renders a page.
type RenderFunc func(ctx context.Context) (*RenderResult, error)

// CacheStats reports render cache activity.
type CacheStats struct {
	Pages    int   `json:"pages" yaml:"pages"`
	Entries  int   `json:"entries" yaml:"entries"`
	Hits     int64 `json:"hits" yaml:"hits"`
	Misses   int64 `json:"misses" yaml:"misses"`
	Renders  int64 `json:"renders" yaml:"renders"`
	Failures int64 `json:"failures" yaml:"failures"`
}

// RenderCache memoizes rendered pages by page path and query key. Entries
// of one page path are dropped together.
type RenderCache struct {
	mu    sync.RWMutex
	pages map[string]map[string]*RenderResult
	// generation advances on every invalidation of a page path, so a
	// render that started before it is not stored.
	generation map[string]uint64
	epoch      uint64

	group singleflight.Group
	stats CacheStats
}

// NewRenderCache creates an empty render cache.
func NewRenderCache() *RenderCache {
	return &RenderCache{
		pages:      make(map[string]map[string]*RenderResult),
		generation: make(map[string]uint64),
	}
}

// GetOrRender returns the cached result for (pagePath, queryKey) or renders
// it with fn. Concurrent identical requests share one render. Failed
// renders are returned, with the failure, but never cached.
func (c *RenderCache) GetOrRender(ctx context.Context, pagePath, queryKey string, fn RenderFunc) (*RenderResult, error) {
	c.mu.Lock()
	if result, ok := c.pages[pagePath][queryKey]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		return result, nil
	}
	c.stats.Misses++
	gen := c.epoch + c.generation[pagePath]
	c.mu.Unlock()

	key := fmt.Sprintf("%s\x00%s\x00%d", pagePath, queryKey, gen)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := SafeRender(ctx, pagePath, fn)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.stats.Renders++
		if err != nil {
			c.stats.Failures++
			return result, err
		}
		if c.epoch+c.generation[pagePath] == gen {
			if c.pages[pagePath] == nil {
				c.pages[pagePath] = make(map[string]*RenderResult)
			}
			c.pages[pagePath][queryKey] = result
		}
		return result, nil
	})

	result, _ := v.(*RenderResult)
	return result, err
}

// Invalidate drops every cached query of pagePath.
func (c *RenderCache) Invalidate(pagePath string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation[pagePath]++
	if _, ok := c.pages[pagePath]; !ok {
		return false
	}
	delete(c.pages, pagePath)
	return true
}

// InvalidatePages drops several page paths.
func (c *RenderCache) InvalidatePages(pagePaths []string) {
	for _, p := range pagePaths {
		c.Invalidate(p)
	}
}

// InvalidateAll drops the whole cache. Used when a shell module changes.
func (c *RenderCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	c.pages = make(map[string]map[string]*RenderResult)
}

// Cached reports whether (pagePath, queryKey) is cached.
func (c *RenderCache) Cached(pagePath, queryKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.pages[pagePath][queryKey]
	return ok
}

// Stats returns a snapshot of cache statistics.
func (c *RenderCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Pages = len(c.pages)
	for _, entries := range c.pages {
		stats.Entries += len(entries)
	}
	return stats
}
