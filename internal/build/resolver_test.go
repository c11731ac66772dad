package build

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/types"
)

func TestSpecifierResolver_Resolve(t *testing.T) {
	resolver := NewSpecifierResolver(map[string]string{
		"react": "https://esm.sh/react@17.0.2",
		"lib/":  "/lib/",
	})

	tests := []struct {
		name       string
		importer   string
		specifier  string
		dynamic    bool
		wantURL    string
		wantImport string
	}{
		{"relative parent", "/pages/index.tsx", "../components/logo.tsx", false,
			"/components/logo.tsx", "../components/logo.xxxxxxxxx.js"},
		{"sibling at root", "/index.tsx", "./logo.tsx", false,
			"/logo.tsx", "./logo.xxxxxxxxx.js"},
		{"dynamic import is unhashed", "/pages/index.tsx", "./lazy.tsx", true,
			"/pages/lazy.tsx", "./lazy.js"},
		{"style keeps its extension", "/pages/index.tsx", "@/styles/app.css", false,
			"/styles/app.css", "../styles/app.css.xxxxxxxxx.js"},
		{"tilde alias", "/pages/index.tsx", "~/lib/util.ts", false,
			"/lib/util.ts", "../lib/util.xxxxxxxxx.js"},
		{"absolute from nested page", "/pages/blog/[slug].tsx", "/components/nav.tsx", false,
			"/components/nav.tsx", "../../components/nav.xxxxxxxxx.js"},
		{"remote specifier", "/pages/index.tsx", "https://esm.sh/react@17.0.2", false,
			"https://esm.sh/react@17.0.2", "../-/esm.sh/react@17.0.2.js"},
		{"import map exact", "/pages/index.tsx", "react", false,
			"https://esm.sh/react@17.0.2", "../-/esm.sh/react@17.0.2.js"},
		{"import map prefix", "/pages/index.tsx", "lib/util.ts", false,
			"/lib/util.ts", "../lib/util.xxxxxxxxx.js"},
		{"relative to remote importer", "https://esm.sh/react@17.0.2", "/v96/react.js", false,
			"https://esm.sh/v96/react.js", "./v96/react.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(tt.importer, tt.specifier, tt.dynamic)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, got.URL)
			assert.Equal(t, tt.wantImport, got.ImportPath)
		})
	}
}

func TestSpecifierResolver_BareSpecifier(t *testing.T) {
	resolver := NewSpecifierResolver(nil)

	_, err := resolver.Resolve("/pages/index.tsx", "lodash", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build.import_map")
}

func TestSpecifierResolver_LongestPrefixWins(t *testing.T) {
	resolver := NewSpecifierResolver(map[string]string{
		"@ui/":       "/components/",
		"@ui/icons/": "/assets/icons/",
	})

	got, err := resolver.Resolve("/index.tsx", "@ui/icons/star.tsx", false)
	require.NoError(t, err)
	assert.Equal(t, "/assets/icons/star.tsx", got.URL)
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		url  string
		slot string
		want string
	}{
		{"/pages/blog.tsx", "abc123def", "/pages/blog.abc123def.js"},
		{"/pages/index.tsx", "", "/pages/index.js"},
		{"/styles/app.css", "abc123def", "/styles/app.css.abc123def.js"},
		{"/lib/util.mjs", "abc123def", "/lib/util.abc123def.js"},
		{"https://esm.sh/react@17.0.1?target=es2015&dev", "abc123def", "/-/esm.sh/react@17.0.1_target=es2015&dev.js"},
		{"http://localhost:8080/mod", "", "/-/http_localhost_8080/mod.js"},
		{"https://deno.land/std/path/mod.ts", "", "/-/deno.land/std/path/mod.js"},
		{"https://example.com/", "", "/-/example.com/index.js"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtifactName(tt.url, tt.slot))
		})
	}
}

func TestIsVersionedURL(t *testing.T) {
	assert.True(t, IsVersionedURL("https://esm.sh/react@17.0.2"))
	assert.True(t, IsVersionedURL("https://deno.land/std@0.100.0/path/mod.ts"))
	assert.True(t, IsVersionedURL("https://esm.sh/preact@10.5.13-rc.1"))
	assert.False(t, IsVersionedURL("https://esm.sh/react"))
	assert.False(t, IsVersionedURL("/pages/a@1.tsx"))
}

func TestRelativePath(t *testing.T) {
	assert.Equal(t, "./a.js", relativePath("/", "/a.js"))
	assert.Equal(t, "./b/a.js", relativePath("/", "/b/a.js"))
	assert.Equal(t, "../a.js", relativePath("/pages", "/a.js"))
	assert.Equal(t, "./a.js", relativePath("/pages", "/pages/a.js"))
	assert.Equal(t, "../../x/y.js", relativePath("/pages/blog", "/x/y.js"))
}

func TestRewriteReference(t *testing.T) {
	first := ContentHash([]byte("first"))
	second := ContentHash([]byte("second"))

	dep := types.DependencyDescriptor{URL: "/components/logo.tsx", ImportPath: "../components/logo.xxxxxxxxx.js"}
	code := `import Logo from "../components/logo.xxxxxxxxx.js";` + "\n" +
		`const again = import('../components/logo.xxxxxxxxx.js');`

	code, dep = rewriteReference(code, dep, first)
	assert.Equal(t, first, dep.ResolvedHash)
	assert.Equal(t, "../components/logo.xxxxxxxxx.js", dep.ImportPath, "the template is kept")
	assert.Contains(t, code, `"../components/logo.`+HashPrefix(first)+`.js"`)
	assert.Contains(t, code, `'../components/logo.`+HashPrefix(first)+`.js'`)
	assert.NotContains(t, code, HashPlaceholder)

	code, dep = rewriteReference(code, dep, second)
	assert.Contains(t, code, "logo."+HashPrefix(second)+".js")
	assert.NotContains(t, code, HashPrefix(first))

	code, dep = rewriteReference(code, dep, "")
	assert.True(t, dep.Unavailable())
	assert.Contains(t, code, "logo.xxxxxxxxx.js", "an unavailable dependency falls back to the placeholder")
}

func TestBreakCycle(t *testing.T) {
	dep := types.DependencyDescriptor{URL: "/a.ts", ImportPath: "./a.xxxxxxxxx.js"}
	code, dep := breakCycle(`import { a } from "./a.xxxxxxxxx.js";`, dep, "")

	assert.True(t, dep.IsCyclic)
	assert.False(t, dep.Chained())
	assert.Equal(t, "./a.js", dep.ImportPath)
	assert.Equal(t, `import { a } from "./a.js";`, code)
}
