// Package testutils holds fixtures shared by package tests: temporary
// project trees, a ready-to-use configuration and hostile path vectors.
package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/config"
)

// CreateTempProject creates a temporary project root holding files, keyed
// by slash-separated path relative to the root.
func CreateTempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		WriteFile(t, root, name, content)
	}
	return root
}

// WriteFile writes content to root/name, creating parent directories, and
// returns the absolute path.
func WriteFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// CreateTestConfig returns a complete configuration for a project rooted at
// root. Remote fetches fail fast and the watcher settles quickly.
func CreateTestConfig(root string) *config.Config {
	return &config.Config{
		Project: config.ProjectConfig{
			Root:           root,
			PagesDir:       "pages",
			PageExtensions: []string{".md"},
		},
		Build: config.BuildConfig{
			OutDir:       ".pagegraph",
			FetchRetries: 1,
			FetchTimeout: time.Second,
			FetchBackoff: 10 * time.Millisecond,
			CacheSize:    1 << 20,
			Concurrency:  4,
			ImportMap:    map[string]string{},
		},
		Routing: config.RoutingConfig{
			DefaultLocale: "en",
			Locales:       []string{"en", "fr"},
		},
		Development: config.DevelopmentConfig{
			Debounce: 10 * time.Millisecond,
			Ignore:   []string{"*.swp", "*~"},
		},
		Log: config.LogConfig{Level: "error", Format: "text"},
	}
}

// StandardSite is a small site: an index page importing a component, a
// markdown page, a dynamic route, a layout that is not a page and a shell
// module.
var StandardSite = map[string]string{
	"pages/index.tsx": `import Logo from "../components/logo.tsx";
export default function Index() { return Logo; }
`,
	"pages/about.md":        "# About\n\nHello.\n",
	"pages/blog/[slug].tsx": `export default function Post() { return "post"; }`,
	"pages/_layout.tsx":     `export default "layout";`,
	"components/logo.tsx":   `export default "logo";`,
	"shell/app.tsx":         `export default "app";`,
}

// Site returns a copy of StandardSite with overrides applied. An empty
// override value removes the file.
func Site(overrides map[string]string) map[string]string {
	files := make(map[string]string, len(StandardSite)+len(overrides))
	for k, v := range StandardSite {
		files[k] = v
	}
	for k, v := range overrides {
		if v == "" {
			delete(files, k)
			continue
		}
		files[k] = v
	}
	return files
}

// PathTraversal lists module identifiers that try to escape the project
// root. Every one must be rejected.
var PathTraversal = []string{
	"../../../etc/passwd",
	"..\\..\\..\\windows\\system32\\config\\sam",
	"....//....//....//etc/passwd",
	"..%2F..%2F..%2Fetc%2Fpasswd",
	"/./../../etc/passwd",
	"/pages/../../../../../etc/passwd",
	"/pages/..",
}
