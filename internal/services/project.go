// Package services wires the compiler, the route resolver and the render
// cache into the build, watch and render flows used by the CLI.
package services

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/config"
	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/registry"
	"github.com/conneroisu/pagegraph/internal/renderer"
	"github.com/conneroisu/pagegraph/internal/routing"
	"github.com/conneroisu/pagegraph/internal/scanner"
	"github.com/conneroisu/pagegraph/internal/types"
)

// RenderFactory returns the render function for a resolved route.
type RenderFactory func(u routing.RouterURL, stack []types.RouteModule) renderer.RenderFunc

// ProjectOptions overrides collaborators of a Project. Zero values use the
// defaults: HTTP fetching, built-in loaders plus markdown, and the stack
// renderer.
type ProjectOptions struct {
	Fetcher build.Fetcher
	Loaders *build.LoaderRegistry
	Render  RenderFactory
	Logger  logging.Logger
}

// Project holds the live state of one site: its module graph, route tree
// and render cache.
type Project struct {
	config   *config.Config
	logger   logging.Logger
	errors   *errors.ErrorHandler
	registry *registry.ModuleRegistry
	compiler *build.Compiler
	router   *routing.Router
	cache    *renderer.RenderCache
	scanner  *scanner.PageScanner
	render   RenderFactory
	shell    map[string]bool

	// changeMu processes one change batch at a time.
	changeMu sync.Mutex
}

// NewProject creates a project from configuration.
func NewProject(cfg *config.Config, opts ProjectOptions) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	pages, err := scanner.NewPageScanner(cfg.Project.Root, cfg.Project.PagesDir,
		scanner.WithExtensions(cfg.Project.PageExtensions...),
		scanner.WithIgnore(cfg.Development.Ignore...))
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error())
	}

	loaders := opts.Loaders
	if loaders == nil {
		loaders = build.NewLoaderRegistry(nil)
		loaders.Register(build.NewMarkdownLoader())
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = build.NewHTTPFetcher(cfg.Build.FetchTimeout)
	}

	reg := registry.NewModuleRegistry()
	compiler := build.NewCompiler(build.CompilerConfig{
		Root:         cfg.Project.Root,
		OutDir:       cfg.OutPath(),
		ImportMap:    cfg.Build.ImportMap,
		FetchRetries: cfg.Build.FetchRetries,
		FetchBackoff: cfg.Build.FetchBackoff,
		CacheSize:    cfg.Build.CacheSize,
	}, reg, loaders, fetcher, logger)

	p := &Project{
		config:   cfg,
		logger:   logger.WithComponent("project"),
		errors:   errors.NewErrorHandler(logger.WithComponent("project")),
		registry: reg,
		compiler: compiler,
		router: routing.NewRouter(routing.Options{
			DefaultLocale: cfg.Routing.DefaultLocale,
			Locales:       cfg.Routing.Locales,
			Rewrites:      cfg.Routing.RewriteMap(),
		}),
		cache:   renderer.NewRenderCache(),
		scanner: pages,
		shell:   make(map[string]bool, len(cfg.Project.ShellModules)),
	}
	for _, url := range cfg.Project.ShellModules {
		p.shell[url] = true
	}

	p.render = opts.Render
	if p.render == nil {
		stack := &renderer.StackRenderer{
			Shell:     cfg.Project.ShellModules,
			Artifacts: p.artifactPath,
		}
		p.render = stack.RenderFunc
	}

	return p, nil
}

// Config returns the project configuration.
func (p *Project) Config() *config.Config { return p.config }

// Compiler returns the module compiler.
func (p *Project) Compiler() *build.Compiler { return p.compiler }

// Registry returns the module record store.
func (p *Project) Registry() *registry.ModuleRegistry { return p.registry }

// Router returns the route tree.
func (p *Project) Router() *routing.Router { return p.router }

// Cache returns the render cache.
func (p *Project) Cache() *renderer.RenderCache { return p.cache }

// Scanner returns the pages scanner.
func (p *Project) Scanner() *scanner.PageScanner { return p.scanner }

// BuildOptions contains options for a build pass.
type BuildOptions struct {
	// Force re-transforms every module.
	Force bool
	// Clean removes the output directory first.
	Clean bool
}

// BuildResult summarizes a build pass.
type BuildResult struct {
	Duration time.Duration       `json:"duration" yaml:"duration"`
	Modules  int                 `json:"modules" yaml:"modules"`
	Routes   int                 `json:"routes" yaml:"routes"`
	Failures []errors.BuildError `json:"failures,omitempty" yaml:"failures,omitempty"`
	Metrics  *build.BuildMetrics `json:"metrics" yaml:"metrics"`
	Cache    build.CacheStats    `json:"cache" yaml:"cache"`
	Loaders  []string            `json:"loaders" yaml:"loaders"`
	Success  bool                `json:"success" yaml:"success"`
}

// Build scans the pages root, compiles the shell modules and every page,
// registers the routes and writes the manifest. Per-module failures are
// reported in the result; only scan, cancellation and manifest errors are
// returned.
func (p *Project) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	perf := logging.StartOperation(p.logger, "build")

	if opts.Clean {
		if err := os.RemoveAll(p.config.OutPath()); err != nil {
			return nil, errors.NewArtifactWriteError(p.config.OutPath(), err)
		}
	}

	decls, err := p.scanner.Scan(ctx)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}

	urls := make([]string, 0, len(p.config.Project.ShellModules)+len(decls))
	urls = append(urls, p.config.Project.ShellModules...)
	for _, decl := range decls {
		urls = append(urls, decl.ModuleURL)
	}

	hashed := p.compiler.PrehashSources(urls)
	p.logger.Debug(ctx, "Hashed sources", "count", len(hashed), "requested", len(urls))

	collector := errors.NewErrorCollector()

	g := new(errgroup.Group)
	if p.config.Build.Concurrency > 0 {
		g.SetLimit(p.config.Build.Concurrency)
	}
	for _, url := range urls {
		url := url
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := p.compiler.Compile(ctx, url, build.Options{Force: opts.Force, Refresh: true})
			for _, e := range errors.Flatten(err) {
				if errors.ModuleOf(e) == "" {
					collector.AddError(e)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, decl := range decls {
		if err := p.registerRoute(decl); err != nil {
			collector.AddError(err)
		}
	}

	for _, m := range p.registry.All() {
		if m.Error != nil {
			collector.AddError(m.Error)
		}
	}

	if err := p.compiler.WriteManifest(); err != nil {
		perf.EndWithError(ctx, err)
		return nil, err
	}
	p.cache.InvalidateAll()

	metrics := p.compiler.Metrics().GetSnapshot()
	result := &BuildResult{
		Duration: time.Since(start),
		Modules:  p.registry.Count(),
		Routes:   len(p.router.Routes()),
		Failures: collector.GetErrors(),
		Metrics:  &metrics,
		Cache:    p.compiler.CacheStats(),
		Loaders:  p.compiler.Loaders().Names(),
		Success:  !collector.HasFatal(),
	}
	for _, e := range collector.GetAllErrors() {
		p.errors.Handle(ctx, e)
	}

	perf.End(ctx, "modules", result.Modules, "routes", result.Routes, "failures", len(result.Failures))
	return result, nil
}

// registerRoute projects a compiled page module into the route tree.
// Failed pages are not routed.
func (p *Project) registerRoute(decl types.RouteDeclaration) error {
	m, ok := p.compiler.Module(decl.ModuleURL)
	if !ok || m.Error != nil {
		return nil
	}

	err := p.router.Update(decl.Path, routeModule(m), routing.UpdateOptions{IsIndexModule: decl.IsIndexModule})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, errors.ErrCodeConflictingSegment,
			fmt.Sprintf("cannot route %s", decl.ModuleURL)).WithModule(decl.ModuleURL)
	}
	return nil
}

func routeModule(m types.Module) types.RouteModule {
	return types.RouteModule{
		URL:                m.URL,
		OutputHash:         m.OutputHash,
		RequiresServerData: m.RequiresServerData(),
	}
}

// artifactPath resolves a module to its current artifact for rendering.
// Modules that failed, or that reach an unavailable dependency through
// static imports at any depth, have none.
func (p *Project) artifactPath(url string) (string, bool) {
	m, ok := p.compiler.Module(url)
	if !ok || m.Error != nil || m.ArtifactPath == "" {
		return "", false
	}
	if missing, broken := p.unavailableDependency(url); broken {
		p.logger.Debug(context.Background(), "Dependency unavailable", "url", url, "dependency", missing)
		return "", false
	}
	return m.ArtifactPath, true
}

// unavailableDependency walks the static import closure of url, each
// module once, and returns the first dependency without a resolved hash.
func (p *Project) unavailableDependency(url string) (string, bool) {
	visited := map[string]bool{url: true}
	queue := []string{url}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		m, ok := p.compiler.Module(current)
		if !ok {
			continue
		}
		for _, dep := range m.Deps {
			if !dep.Chained() {
				continue
			}
			if dep.Unavailable() {
				return dep.URL, true
			}
			if !visited[dep.URL] {
				visited[dep.URL] = true
				queue = append(queue, dep.URL)
			}
		}
	}
	return "", false
}

// Render resolves location and renders it through the render cache. An
// unknown location yields a 404 result.
func (p *Project) Render(ctx context.Context, location string) (*renderer.RenderResult, error) {
	u, stack := p.router.CreateRouter(location)
	if !u.Found() || len(stack) == 0 {
		return renderer.NotFound(u.Pathname), nil
	}

	result, err := p.cache.GetOrRender(ctx, u.PagePath, renderKey(u), p.render(u, stack))
	if err != nil {
		p.logger.Error(ctx, err, "Render failed", "page", u.PagePath, "location", location)
	}
	return result, err
}

// renderKey identifies one render of a page: the same page path can be
// reached with different locales, params and queries.
func renderKey(u routing.RouterURL) string {
	return u.Locale + "|" + u.Pathname + "?" + u.Query.Encode()
}

// Modules lists module snapshots sorted by URL.
func (p *Project) Modules() []types.Module {
	all := p.registry.All()
	out := make([]types.Module, 0, len(all))
	for _, m := range all {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
