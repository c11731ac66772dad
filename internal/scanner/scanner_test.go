package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/types"
)

func writeFiles(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("export default {}"), 0o644))
	}
}

func TestNewPageScanner(t *testing.T) {
	s, err := NewPageScanner(t.TempDir(), "pages")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(s.Root()))
	assert.Equal(t, filepath.Join(s.Root(), "pages"), s.PagesDir())

	for _, dir := range []string{"", ".", "../pages"} {
		_, err := NewPageScanner(t.TempDir(), dir)
		assert.Error(t, err, dir)
	}
}

func TestDeclare(t *testing.T) {
	s, err := NewPageScanner(t.TempDir(), "pages", WithExtensions(".md"), WithIgnore("*.test.tsx"))
	require.NoError(t, err)

	tests := []struct {
		url     string
		want    types.RouteDeclaration
		matched bool
	}{
		{"/pages/index.tsx", types.RouteDeclaration{Path: "/", ModuleURL: "/pages/index.tsx", IsIndexModule: true}, true},
		{"/pages/blog.tsx", types.RouteDeclaration{Path: "/blog", ModuleURL: "/pages/blog.tsx"}, true},
		{"/pages/blog/index.jsx", types.RouteDeclaration{Path: "/blog", ModuleURL: "/pages/blog/index.jsx", IsIndexModule: true}, true},
		{"/pages/blog/[slug].tsx", types.RouteDeclaration{Path: "/blog/[slug]", ModuleURL: "/pages/blog/[slug].tsx"}, true},
		{"/pages/docs/[...path].md", types.RouteDeclaration{Path: "/docs/[...path]", ModuleURL: "/pages/docs/[...path].md"}, true},
		{"/pages/_app.tsx", types.RouteDeclaration{}, false},
		{"/pages/_components/nav.tsx", types.RouteDeclaration{}, false},
		{"/pages/.hidden.tsx", types.RouteDeclaration{}, false},
		{"/pages/logo.png", types.RouteDeclaration{}, false},
		{"/pages/about.test.tsx", types.RouteDeclaration{}, false},
		{"/components/nav.tsx", types.RouteDeclaration{}, false},
		{"/pagesx/index.tsx", types.RouteDeclaration{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, ok := s.Declare(tt.url)
			assert.Equal(t, tt.matched, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.matched, s.IsPage(tt.url))
		})
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"pages/index.tsx",
		"pages/blog.tsx",
		"pages/blog/index.tsx",
		"pages/blog/[slug].tsx",
		"pages/_app.tsx",
		"pages/_partials/header.tsx",
		"pages/styles.css",
		"components/logo.tsx",
	)

	s, err := NewPageScanner(root, "pages")
	require.NoError(t, err)

	decls, err := s.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []types.RouteDeclaration{
		{Path: "/", ModuleURL: "/pages/index.tsx", IsIndexModule: true},
		{Path: "/blog", ModuleURL: "/pages/blog.tsx"},
		{Path: "/blog", ModuleURL: "/pages/blog/index.tsx", IsIndexModule: true},
		{Path: "/blog/[slug]", ModuleURL: "/pages/blog/[slug].tsx"},
	}, decls)
}

func TestScan_MissingPagesDir(t *testing.T) {
	s, err := NewPageScanner(t.TempDir(), "pages")
	require.NoError(t, err)

	_, err = s.Scan(context.Background())
	assert.Error(t, err)
}

func TestScan_Canceled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "pages/index.tsx")
	s, err := NewPageScanner(root, "pages")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModuleURL(t *testing.T) {
	root := t.TempDir()
	s, err := NewPageScanner(root, "pages")
	require.NoError(t, err)

	url, err := s.ModuleURL(filepath.Join(root, "pages", "blog.tsx"))
	require.NoError(t, err)
	assert.Equal(t, "/pages/blog.tsx", url)
	assert.Equal(t, filepath.Join(s.Root(), "pages", "blog.tsx"), s.FilePath(url))

	_, err = s.ModuleURL(filepath.Join(root, "..", "outside.tsx"))
	assert.Error(t, err)
}
