package routing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/types"
)

func page(url string) types.RouteModule {
	return types.RouteModule{URL: url, OutputHash: "h-" + url}
}

func urls(stack []types.RouteModule) []string {
	out := make([]string, 0, len(stack))
	for _, m := range stack {
		out = append(out, m.URL)
	}
	return out
}

func blogRouter(t *testing.T, opts Options) *Router {
	t.Helper()
	r := NewRouter(opts)
	require.NoError(t, r.Update("/blog", page("/pages/blog.tsx"), UpdateOptions{}))
	require.NoError(t, r.Update("/blog/[slug]", page("/pages/blog/[slug].tsx"), UpdateOptions{}))
	require.NoError(t, r.Update("/blog/[slug]/subpage", page("/pages/blog/[slug]/subpage.tsx"), UpdateOptions{}))
	require.NoError(t, r.Update("/user", page("/pages/user.tsx"), UpdateOptions{}))
	require.NoError(t, r.Update("/user/[...all]", page("/pages/user/[...all].tsx"), UpdateOptions{}))
	return r
}

func TestRouter_Precedence(t *testing.T) {
	r := blogRouter(t, Options{})

	tests := []struct {
		location string
		pagePath string
		params   map[string]string
		stack    []string
	}{
		{"/blog/hello-world", "/blog/[slug]", map[string]string{"slug": "hello-world"},
			[]string{"/pages/blog.tsx", "/pages/blog/[slug].tsx"}},
		{"/user/settings/profile", "/user/[...all]", map[string]string{"all": "settings/profile"},
			[]string{"/pages/user.tsx", "/pages/user/[...all].tsx"}},
		{"/blog/hello/subpage", "/blog/[slug]/subpage", map[string]string{"slug": "hello"},
			[]string{"/pages/blog.tsx", "/pages/blog/[slug].tsx", "/pages/blog/[slug]/subpage.tsx"}},
		{"/blog", "/blog", map[string]string{}, []string{"/pages/blog.tsx"}},
		{"/blog/hello-world/", "/blog/[slug]", map[string]string{"slug": "hello-world"},
			[]string{"/pages/blog.tsx", "/pages/blog/[slug].tsx"}},
		{"//blog//hello-world", "/blog/[slug]", map[string]string{"slug": "hello-world"},
			[]string{"/pages/blog.tsx", "/pages/blog/[slug].tsx"}},
		{"/blog/hello%20world", "/blog/[slug]", map[string]string{"slug": "hello world"},
			[]string{"/pages/blog.tsx", "/pages/blog/[slug].tsx"}},
	}

	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			u, stack := r.CreateRouter(tt.location)
			assert.Equal(t, tt.pagePath, u.PagePath)
			assert.Equal(t, tt.params, u.Params)
			assert.Equal(t, tt.stack, urls(stack))
			assert.True(t, u.Found())
		})
	}
}

func TestRouter_StaticBeatsDynamicRegardlessOfOrder(t *testing.T) {
	r := NewRouter(Options{})
	require.NoError(t, r.Update("/blog/[slug]", page("/pages/blog/[slug].tsx"), UpdateOptions{}))
	require.NoError(t, r.Update("/blog/new", page("/pages/blog/new.tsx"), UpdateOptions{}))
	require.NoError(t, r.Update("/blog/[...rest]", page("/pages/blog/[...rest].tsx"), UpdateOptions{}))

	u, _ := r.CreateRouter("/blog/new")
	assert.Equal(t, "/blog/new", u.PagePath)
	assert.Empty(t, u.Params)

	u, _ = r.CreateRouter("/blog/old")
	assert.Equal(t, "/blog/[slug]", u.PagePath)

	u, _ = r.CreateRouter("/blog/2021/01/recap")
	assert.Equal(t, "/blog/[...rest]", u.PagePath)
	assert.Equal(t, map[string]string{"rest": "2021/01/recap"}, u.Params)
}

func TestRouter_BacktracksToDynamic(t *testing.T) {
	r := NewRouter(Options{})
	require.NoError(t, r.Update("/docs/api", page("/pages/docs/api.tsx"), UpdateOptions{}))
	require.NoError(t, r.Update("/docs/[page]/edit", page("/pages/docs/[page]/edit.tsx"), UpdateOptions{}))

	u, stack := r.CreateRouter("/docs/api/edit")
	assert.Equal(t, "/docs/[page]/edit", u.PagePath)
	assert.Equal(t, map[string]string{"page": "api"}, u.Params)
	assert.Equal(t, []string{"/pages/docs/[page]/edit.tsx"}, urls(stack))
}

func TestRouter_IndexModules(t *testing.T) {
	r := blogRouter(t, Options{})
	require.NoError(t, r.Update("/blog", page("/pages/blog/index.tsx"), UpdateOptions{IsIndexModule: true}))
	require.NoError(t, r.Update("/", page("/pages/index.tsx"), UpdateOptions{IsIndexModule: true}))

	u, stack := r.CreateRouter("/blog")
	assert.Equal(t, "/blog", u.PagePath)
	assert.Equal(t, []string{"/pages/blog.tsx", "/pages/blog/index.tsx"}, urls(stack))

	_, stack = r.CreateRouter("/blog/post")
	assert.Equal(t, []string{"/pages/blog.tsx", "/pages/blog/[slug].tsx"}, urls(stack),
		"an index module only renders at its own path")

	u, stack = r.CreateRouter("/")
	assert.Equal(t, "/", u.PagePath)
	assert.Equal(t, []string{"/pages/index.tsx"}, urls(stack))
}

func TestRouter_UnknownRoute(t *testing.T) {
	r := blogRouter(t, Options{})

	for _, location := range []string{"/nope", "/", "/blog/a/b/c", "/users"} {
		u, stack := r.CreateRouter(location)
		assert.Empty(t, u.PagePath, location)
		assert.Empty(t, stack, location)
		assert.Empty(t, u.Params, location)
		assert.False(t, u.Found())
	}
}

func TestRouter_Locales(t *testing.T) {
	r := blogRouter(t, Options{DefaultLocale: "en", Locales: []string{"en", "zh-CN"}})

	u, _ := r.CreateRouter("/zh-CN/blog")
	assert.Equal(t, "zh-CN", u.Locale)
	assert.Equal(t, "en", u.DefaultLocale)
	assert.Equal(t, "/blog", u.Pathname)
	assert.Equal(t, "/blog", u.PagePath)

	u, _ = r.CreateRouter("/blog")
	assert.Equal(t, "en", u.Locale)
	assert.Equal(t, "/blog", u.Pathname)

	u, _ = r.CreateRouter("/zh-cn/blog/hello")
	assert.Equal(t, "zh-CN", u.Locale, "locale segments match case-insensitively")
	assert.Equal(t, "/blog/[slug]", u.PagePath)

	u, _ = r.CreateRouter("/fr/blog")
	assert.Equal(t, "en", u.Locale)
	assert.Empty(t, u.PagePath, "unconfigured locales are ordinary segments")
}

func TestRouter_Rewrites(t *testing.T) {
	r := NewRouter(Options{Rewrites: map[string]string{"/Hello World": "/hello-world"}})
	require.NoError(t, r.Update("/hello-world", page("/pages/hello-world.tsx"), UpdateOptions{}))

	direct, directStack := r.CreateRouter("/hello-world")
	rewritten, rewrittenStack := r.CreateRouter("/Hello World")
	encoded, _ := r.CreateRouter("/Hello%20World")

	assert.Equal(t, direct, rewritten)
	assert.Equal(t, directStack, rewrittenStack)
	assert.Equal(t, direct.PagePath, encoded.PagePath)

	u, _ := r.CreateRouter("/Hello World/extra")
	assert.Empty(t, u.PagePath, "rewrites match whole pathnames only")
}

func TestRouter_EncodedSlashStaysInSegment(t *testing.T) {
	r := blogRouter(t, Options{})

	u, stack := r.CreateRouter("/blog/a%2Fb")
	assert.Equal(t, "/blog/[slug]", u.PagePath)
	assert.Equal(t, map[string]string{"slug": "a/b"}, u.Params)
	assert.Equal(t, "/blog/a%2Fb", u.Pathname)
	assert.Equal(t, []string{"/pages/blog.tsx", "/pages/blog/[slug].tsx"}, urls(stack))

	u, _ = r.CreateRouter("/blog/a%2Fb/subpage")
	assert.Equal(t, "/blog/[slug]/subpage", u.PagePath)
	assert.Equal(t, "a/b", u.Params["slug"])

	u, _ = r.CreateRouter("/user/x%2Fy/z")
	assert.Equal(t, "/user/[...all]", u.PagePath)
	assert.Equal(t, "x/y/z", u.Params["all"])

	u, _ = r.CreateRouter("/blog/100%")
	assert.Equal(t, "100%", u.Params["slug"], "malformed escapes are kept raw")
}

func TestRouter_Query(t *testing.T) {
	r := blogRouter(t, Options{})

	u, _ := r.CreateRouter("/blog/post?page=2&tag=go&tag=web#comments")
	assert.Equal(t, "/blog/[slug]", u.PagePath)
	assert.Equal(t, "post", u.Params["slug"])
	assert.Equal(t, "2", u.Query.Get("page"))
	assert.Equal(t, []string{"go", "web"}, u.Query["tag"])
}

func TestRouter_ConflictingSegments(t *testing.T) {
	r := blogRouter(t, Options{})

	err := r.Update("/blog/[id]", page("/pages/blog/[id].tsx"), UpdateOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConflictingSegment)

	err = r.Update("/user/[...rest]", page("/pages/user/[...rest].tsx"), UpdateOptions{})
	assert.ErrorIs(t, err, errors.ErrConflictingSegment)

	err = r.Update("/files/[...path]/raw", page("/pages/files/[...path]/raw.tsx"), UpdateOptions{})
	assert.ErrorIs(t, err, errors.ErrConflictingSegment)
	_, _, ok := r.Lookup("/pages/files/[...path]/raw.tsx")
	assert.False(t, ok, "a rejected update leaves the tree untouched")

	require.NoError(t, r.Update("/blog/[slug]", page("/pages/blog/[slug].v2.tsx"), UpdateOptions{}),
		"replacing a module under the same parameter is allowed")
	_, stack := r.CreateRouter("/blog/x")
	assert.Equal(t, "/pages/blog/[slug].v2.tsx", stack[1].URL)
}

func TestRouter_RemoveRoutePrunes(t *testing.T) {
	r := blogRouter(t, Options{})

	assert.True(t, r.RemoveRoute("/blog/[slug]/subpage"))
	assert.False(t, r.RemoveRoute("/blog/[slug]/subpage"))

	u, _ := r.CreateRouter("/blog/hello/subpage")
	assert.Empty(t, u.PagePath)

	assert.True(t, r.RemoveRoute("/blog/[slug]"))
	for _, entry := range r.Routes() {
		assert.NotContains(t, entry.Path, "[slug]", "empty nodes are pruned")
	}

	u, _ = r.CreateRouter("/blog/hello")
	assert.Empty(t, u.PagePath)

	assert.False(t, r.RemoveRoute("/never/registered"))
}

func TestRouter_RemoveKeepsNodesWithChildren(t *testing.T) {
	r := blogRouter(t, Options{})

	assert.True(t, r.RemoveRoute("/blog"))

	u, stack := r.CreateRouter("/blog/hello")
	assert.Equal(t, "/blog/[slug]", u.PagePath)
	assert.Equal(t, []string{"/pages/blog/[slug].tsx"}, urls(stack))

	u, _ = r.CreateRouter("/blog")
	assert.Empty(t, u.PagePath)
}

func TestRouter_ModuleOperations(t *testing.T) {
	r := blogRouter(t, Options{})
	require.NoError(t, r.Update("/blog", page("/pages/blog/index.tsx"), UpdateOptions{IsIndexModule: true}))

	path, isIndex, ok := r.Lookup("/pages/blog/index.tsx")
	require.True(t, ok)
	assert.Equal(t, "/blog", path)
	assert.True(t, isIndex)

	affected := r.Refresh("/pages/blog.tsx", "h-new", true)
	assert.Equal(t, []string{"/blog", "/blog/[slug]", "/blog/[slug]/subpage"}, affected)
	_, stack := r.CreateRouter("/blog/post")
	assert.Equal(t, "h-new", stack[0].OutputHash)
	assert.True(t, stack[0].RequiresServerData)
	assert.Equal(t, "/blog", stack[0].Path)

	assert.Equal(t, []string{"/blog"}, r.Refresh("/pages/blog/index.tsx", "h-index", false))
	assert.Nil(t, r.Refresh("/pages/unknown.tsx", "h", false))

	assert.Equal(t, []string{"/user", "/user/[...all]"}, r.RemoveModule("/pages/user.tsx"))
	u, stack := r.CreateRouter("/user/a/b")
	assert.Equal(t, "/user/[...all]", u.PagePath)
	assert.Equal(t, []string{"/pages/user/[...all].tsx"}, urls(stack))
}

func TestRouter_Routes(t *testing.T) {
	r := blogRouter(t, Options{})
	require.NoError(t, r.Update("/blog", page("/pages/blog/index.tsx"), UpdateOptions{IsIndexModule: true}))

	routes := r.Routes()
	var paths []string
	for _, entry := range routes {
		paths = append(paths, entry.Path)
	}
	assert.Equal(t, []string{"/blog", "/blog/[slug]", "/blog/[slug]/subpage", "/user", "/user/[...all]"}, paths)
	assert.Equal(t, "/pages/blog.tsx", routes[0].Page.URL)
	assert.Equal(t, "/pages/blog/index.tsx", routes[0].Index.URL)
	assert.Nil(t, routes[1].Index)
}

func TestRouter_ConcurrentAccess(t *testing.T) {
	r := blogRouter(t, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				path := fmt.Sprintf("/gen%d/p%d", i, j)
				_ = r.Update(path, page("/pages"+path+".tsx"), UpdateOptions{})
				r.RemoveRoute(path)
			}
		}(i)
		go func() {
			defer wg.Done()
			for k := 0; k < 50; k++ {
				u, stack := r.CreateRouter("/blog/hello")
				if u.PagePath != "/blog/[slug]" || len(stack) != 2 {
					t.Errorf("unexpected resolution %q with %d modules", u.PagePath, len(stack))
				}
			}
		}()
	}
	wg.Wait()

	for _, entry := range r.Routes() {
		assert.NotContains(t, entry.Path, "/gen")
	}
}
