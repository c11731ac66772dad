package services

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/pagegraph/internal/config"
	"github.com/conneroisu/pagegraph/internal/errors"
)

// ConfigFileName is the project configuration written by Init and read by
// the CLI.
const ConfigFileName = ".pagegraph.yml"

// InitOptions contains options for project initialization.
type InitOptions struct {
	ProjectDir string
	// Minimal skips the example pages.
	Minimal bool
	// Force overwrites existing files.
	Force bool
}

// starterConfig is the file layout of a fresh .pagegraph.yml. Durations
// are written as strings so the file reads like hand-written config.
type starterConfig struct {
	Project struct {
		PagesDir       string   `yaml:"pages_dir"`
		ShellModules   []string `yaml:"shell_modules,omitempty"`
		PageExtensions []string `yaml:"page_extensions"`
	} `yaml:"project"`
	Build struct {
		OutDir        string `yaml:"out_dir"`
		ImportMapFile string `yaml:"import_map_file"`
		FetchRetries  int    `yaml:"fetch_retries"`
		FetchTimeout  string `yaml:"fetch_timeout"`
	} `yaml:"build"`
	Routing struct {
		DefaultLocale string           `yaml:"default_locale"`
		Locales       []string         `yaml:"locales"`
		Rewrites      []config.Rewrite `yaml:"rewrites,omitempty"`
	} `yaml:"routing"`
	Development struct {
		Debounce string   `yaml:"debounce"`
		Ignore   []string `yaml:"ignore"`
	} `yaml:"development"`
}

var starterFiles = map[string]string{
	"pages/index.tsx": `import Layout from "./_layout.tsx";

export default function Home() {
  return <Layout title="Home"><h1>Hello</h1></Layout>;
}
`,
	"pages/_layout.tsx": `export default function Layout({ title, children }) {
  return <main data-title={title}>{children}</main>;
}
`,
	"pages/about.md": `# About

Rendered from markdown.
`,
	"pages/blog/[slug].tsx": `import post from "#data:/api/posts";

export default function Post({ slug }) {
  return <article data-slug={slug}>{post.title}</article>;
}
`,
	config.DefaultImportMapFile: `{
  "imports": {
    "react": "https://esm.sh/react@18.2.0"
  }
}
`,
}

// Init writes a starter project: the config file, an import map and, unless
// Minimal is set, a few example pages. Existing files are kept unless Force
// is set.
func Init(opts InitOptions) ([]string, error) {
	dir := opts.ProjectDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(filepath.Join(dir, "pages"), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, errors.ErrCodeArtifactWrite,
			"cannot create project directory")
	}

	content, err := starterConfigYAML()
	if err != nil {
		return nil, err
	}

	files := map[string]string{ConfigFileName: content}
	for name, body := range starterFiles {
		if opts.Minimal && name != config.DefaultImportMapFile {
			continue
		}
		files[name] = body
	}

	var written []string
	for _, name := range sortedKeys(files) {
		target := filepath.Join(dir, filepath.FromSlash(name))
		if _, err := os.Stat(target); err == nil && !opts.Force {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, errors.Wrap(err, errors.ErrorTypeIO, errors.ErrCodeArtifactWrite,
				fmt.Sprintf("cannot create %s", filepath.Dir(name)))
		}
		if err := os.WriteFile(target, []byte(files[name]), 0o644); err != nil {
			return written, errors.Wrap(err, errors.ErrorTypeIO, errors.ErrCodeArtifactWrite,
				fmt.Sprintf("cannot write %s", name))
		}
		written = append(written, name)
	}
	return written, nil
}

func starterConfigYAML() (string, error) {
	var cfg starterConfig
	cfg.Project.PagesDir = "pages"
	cfg.Project.PageExtensions = []string{".md", ".mdx"}
	cfg.Build.OutDir = ".pagegraph"
	cfg.Build.ImportMapFile = config.DefaultImportMapFile
	cfg.Build.FetchRetries = 3
	cfg.Build.FetchTimeout = "30s"
	cfg.Routing.DefaultLocale = "en"
	cfg.Routing.Locales = []string{"en"}
	cfg.Development.Debounce = "100ms"
	cfg.Development.Ignore = []string{"*.swp", "*~", "*.tmp"}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&cfg); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, errors.ErrCodeInternalError,
			"cannot encode starter config")
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
