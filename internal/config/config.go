// Package config provides configuration management for pagegraph using
// Viper for loading from files, environment variables and command-line
// flags.
//
// The configuration is read from .pagegraph.yml with PAGEGRAPH_ environment
// overrides (PAGEGRAPH_BUILD_OUT_DIR, PAGEGRAPH_LOG_LEVEL). It covers the
// project layout, the build pipeline, routing locales and rewrites, watch
// mode and logging.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DefaultImportMapFile is read from the project root when present.
const DefaultImportMapFile = "import_map.json"

type Config struct {
	Project     ProjectConfig     `mapstructure:"project" yaml:"project" json:"project"`
	Build       BuildConfig       `mapstructure:"build" yaml:"build" json:"build"`
	Routing     RoutingConfig     `mapstructure:"routing" yaml:"routing" json:"routing"`
	Development DevelopmentConfig `mapstructure:"development" yaml:"development" json:"development"`
	Log         LogConfig         `mapstructure:"log" yaml:"log" json:"log"`
}

type ProjectConfig struct {
	Root     string `mapstructure:"root" yaml:"root" json:"root"`
	PagesDir string `mapstructure:"pages_dir" yaml:"pages_dir" json:"pagesDir"`
	// ShellModules wrap every page; a change to one evicts every render.
	ShellModules   []string `mapstructure:"shell_modules" yaml:"shell_modules" json:"shellModules"`
	PageExtensions []string `mapstructure:"page_extensions" yaml:"page_extensions" json:"pageExtensions"`
}

type BuildConfig struct {
	OutDir        string        `mapstructure:"out_dir" yaml:"out_dir" json:"outDir"`
	ImportMapFile string        `mapstructure:"import_map_file" yaml:"import_map_file" json:"importMapFile"`
	FetchRetries  int           `mapstructure:"fetch_retries" yaml:"fetch_retries" json:"fetchRetries"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout" json:"fetchTimeout"`
	FetchBackoff  time.Duration `mapstructure:"fetch_backoff" yaml:"fetch_backoff" json:"fetchBackoff"`
	CacheSize     int64         `mapstructure:"cache_size" yaml:"cache_size" json:"cacheSize"`
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`

	// ImportMap is loaded from ImportMapFile, not from the config file.
	ImportMap map[string]string `mapstructure:"-" yaml:"-" json:"importMap,omitempty"`
}

type RoutingConfig struct {
	DefaultLocale string    `mapstructure:"default_locale" yaml:"default_locale" json:"defaultLocale"`
	Locales       []string  `mapstructure:"locales" yaml:"locales" json:"locales"`
	Rewrites      []Rewrite `mapstructure:"rewrites" yaml:"rewrites" json:"rewrites"`
}

// Rewrite maps an exact decoded pathname to another.
type Rewrite struct {
	From string `mapstructure:"from" yaml:"from" json:"from"`
	To   string `mapstructure:"to" yaml:"to" json:"to"`
}

type DevelopmentConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore" json:"ignore"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// RewriteMap returns the rewrites keyed by source path.
func (c *RoutingConfig) RewriteMap() map[string]string {
	m := make(map[string]string, len(c.Rewrites))
	for _, r := range c.Rewrites {
		m[r.From] = r.To
	}
	return m
}

// OutPath returns the absolute build output directory.
func (c *Config) OutPath() string {
	return filepath.Join(c.Project.Root, c.Build.OutDir)
}

// SetDefaults registers default values with viper. Defaults make every key
// known to viper, so environment overrides apply during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project.root", ".")
	v.SetDefault("project.pages_dir", "pages")
	v.SetDefault("project.shell_modules", []string{})
	v.SetDefault("project.page_extensions", []string{".md", ".mdx"})

	v.SetDefault("build.out_dir", ".pagegraph")
	v.SetDefault("build.import_map_file", DefaultImportMapFile)
	v.SetDefault("build.fetch_retries", 3)
	v.SetDefault("build.fetch_timeout", 30*time.Second)
	v.SetDefault("build.fetch_backoff", 500*time.Millisecond)
	v.SetDefault("build.cache_size", int64(64<<20))
	v.SetDefault("build.concurrency", 8)

	v.SetDefault("routing.default_locale", "en")
	v.SetDefault("routing.locales", []string{})
	v.SetDefault("routing.rewrites", []Rewrite{})

	v.SetDefault("development.debounce", 100*time.Millisecond)
	v.SetDefault("development.ignore", []string{"*.swp", "*~", "*.tmp"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, completes and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(config.Project.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	config.Project.Root = root

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	importMap, err := LoadImportMap(root, config.Build.ImportMapFile)
	if err != nil {
		return nil, err
	}
	config.Build.ImportMap = importMap

	return &config, nil
}

// importMapFile is the on-disk import map format.
type importMapFile struct {
	Imports map[string]string `json:"imports"`
}

// LoadImportMap reads {"imports": {...}} from root/file. A missing file
// yields an empty map.
func LoadImportMap(root, file string) (map[string]string, error) {
	imports := map[string]string{}
	if file == "" {
		return imports, nil
	}

	data, err := os.ReadFile(filepath.Join(root, file))
	if os.IsNotExist(err) {
		return imports, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import map: %w", err)
	}

	var parsed importMapFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing import map %s: %w", file, err)
	}
	for k, v := range parsed.Imports {
		imports[k] = v
	}
	return imports, nil
}
