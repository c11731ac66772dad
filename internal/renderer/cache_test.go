package renderer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgerrors "github.com/conneroisu/pagegraph/internal/errors"
)

func staticRender(body string, calls *int32) RenderFunc {
	return func(ctx context.Context) (*RenderResult, error) {
		atomic.AddInt32(calls, 1)
		return &RenderResult{Body: body}, nil
	}
}

func TestRenderCache_HitAndMiss(t *testing.T) {
	cache := NewRenderCache()
	ctx := context.Background()
	var calls int32

	first, err := cache.GetOrRender(ctx, "/blog", "", staticRender("blog", &calls))
	require.NoError(t, err)
	assert.Equal(t, 200, first.Status)
	assert.Equal(t, "blog", first.Body)
	assert.False(t, first.RenderedAt.IsZero())

	second, err := cache.GetOrRender(ctx, "/blog", "", staticRender("other", &calls))
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, calls)

	stats := cache.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Renders)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 1, stats.Entries)
}

func TestRenderCache_QueryKeys(t *testing.T) {
	cache := NewRenderCache()
	ctx := context.Background()
	var calls int32

	_, err := cache.GetOrRender(ctx, "/blog", "page=1", staticRender("1", &calls))
	require.NoError(t, err)
	_, err = cache.GetOrRender(ctx, "/blog", "page=2", staticRender("2", &calls))
	require.NoError(t, err)

	assert.EqualValues(t, 2, calls)
	assert.Equal(t, 2, cache.Stats().Entries)
	assert.Equal(t, 1, cache.Stats().Pages)
}

func TestRenderCache_Invalidate(t *testing.T) {
	cache := NewRenderCache()
	ctx := context.Background()
	var calls int32

	for _, q := range []string{"", "a=1", "a=2"} {
		_, err := cache.GetOrRender(ctx, "/blog", q, staticRender("blog", &calls))
		require.NoError(t, err)
	}
	_, err := cache.GetOrRender(ctx, "/about", "", staticRender("about", &calls))
	require.NoError(t, err)

	assert.True(t, cache.Invalidate("/blog"))
	assert.False(t, cache.Invalidate("/blog"))

	for _, q := range []string{"", "a=1", "a=2"} {
		assert.False(t, cache.Cached("/blog", q), q)
	}
	assert.True(t, cache.Cached("/about", ""))

	_, err = cache.GetOrRender(ctx, "/blog", "", staticRender("fresh", &calls))
	require.NoError(t, err)
	assert.EqualValues(t, 5, calls)
}

func TestRenderCache_InvalidateAll(t *testing.T) {
	cache := NewRenderCache()
	ctx := context.Background()
	var calls int32

	for _, p := range []string{"/", "/blog", "/about"} {
		_, err := cache.GetOrRender(ctx, p, "", staticRender(p, &calls))
		require.NoError(t, err)
	}

	cache.InvalidateAll()
	stats := cache.Stats()
	assert.Equal(t, 0, stats.Pages)
	assert.Equal(t, 0, stats.Entries)
}

func TestRenderCache_FailuresAreNotCached(t *testing.T) {
	cache := NewRenderCache()
	ctx := context.Background()
	var calls int32

	failing := func(ctx context.Context) (*RenderResult, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("template exploded")
	}

	result, err := cache.GetOrRender(ctx, "/broken", "", failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, pgerrors.ErrRenderFailed)
	assert.Equal(t, 500, result.Status)
	assert.Equal(t, "template exploded", result.Error)
	assert.False(t, cache.Cached("/broken", ""))

	_, err = cache.GetOrRender(ctx, "/broken", "", failing)
	require.Error(t, err)
	assert.EqualValues(t, 2, calls)
	assert.EqualValues(t, 2, cache.Stats().Failures)
}

func TestRenderCache_ConcurrentRequestsShareRender(t *testing.T) {
	cache := NewRenderCache()
	ctx := context.Background()
	var calls int32
	release := make(chan struct{})

	slow := func(ctx context.Context) (*RenderResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &RenderResult{Body: "slow"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*RenderResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := cache.GetOrRender(ctx, "/slow", "", slow)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(8))
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "slow", r.Body)
	}
	assert.True(t, cache.Cached("/slow", ""))
}

func TestRenderCache_InvalidateDuringRender(t *testing.T) {
	cache := NewRenderCache()
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := cache.GetOrRender(ctx, "/blog", "", func(ctx context.Context) (*RenderResult, error) {
			close(started)
			<-release
			return &RenderResult{Body: "stale"}, nil
		})
		assert.NoError(t, err)
	}()

	<-started
	cache.Invalidate("/blog")
	close(release)
	<-done

	assert.False(t, cache.Cached("/blog", ""))
}

func TestRenderCache_ManyPages(t *testing.T) {
	cache := NewRenderCache()
	ctx := context.Background()
	var calls int32

	for i := 0; i < 50; i++ {
		_, err := cache.GetOrRender(ctx, fmt.Sprintf("/p/%d", i), "", staticRender("x", &calls))
		require.NoError(t, err)
	}
	cache.InvalidatePages([]string{"/p/1", "/p/2", "/missing"})

	assert.Equal(t, 48, cache.Stats().Pages)
	assert.True(t, cache.Cached("/p/3", ""))
}
