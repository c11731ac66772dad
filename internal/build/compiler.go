// Package build implements the incremental module compiler: content
// hashing, loader dispatch, dependency rewriting, artifact persistence and
// the invalidation cascade that keeps dependents' hashes current.
package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/registry"
	"github.com/conneroisu/pagegraph/internal/types"
	"github.com/conneroisu/pagegraph/internal/validation"
)

// Options control a single Compile call.
type Options struct {
	// Source replaces reading the module from disk or network.
	Source []byte
	// Force re-transforms the module and its dependencies even when their
	// source hashes are unchanged.
	Force bool
	// Refresh re-reads the module's source, skipping the transform when
	// the hash is unchanged. Watch mode uses it for changed files.
	Refresh bool
	// Once compiles without persisting artifacts.
	Once bool
}

// CompilerConfig configures a Compiler.
type CompilerConfig struct {
	// Root is the project directory local module URLs are relative to.
	Root string
	// OutDir receives artifacts.
	OutDir string
	// ImportMap maps bare specifiers to module URLs.
	ImportMap map[string]string
	// FetchRetries bounds attempts per remote module.
	FetchRetries int
	// FetchBackoff is the delay before the second attempt; later attempts
	// wait proportionally longer.
	FetchBackoff time.Duration
	// CacheSize bounds the in-memory transform and hash cache, in bytes.
	CacheSize int64
}

// Compiler compiles modules into content-addressed artifacts.
type Compiler struct {
	config   CompilerConfig
	registry *registry.ModuleRegistry
	loaders  *LoaderRegistry
	resolver *SpecifierResolver
	fetcher  Fetcher
	store    *ArtifactStore
	cache    *BuildCache
	hasher   *HashProvider
	metrics  *BuildMetrics
	logger   logging.Logger

	inflight singleflight.Group
	// passMu serializes compile passes and cascades. The module graph is
	// only mutated while it is held.
	passMu sync.Mutex
}

// NewCompiler creates a compiler. A nil fetcher uses HTTP; nil loaders
// use the built-in script and style loaders.
func NewCompiler(cfg CompilerConfig, reg *registry.ModuleRegistry, loaders *LoaderRegistry, fetcher Fetcher, logger logging.Logger) *Compiler {
	if cfg.FetchRetries < 1 {
		cfg.FetchRetries = 3
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 64 << 20
	}
	if loaders == nil {
		loaders = NewLoaderRegistry(nil)
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(30 * time.Second)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	metrics := NewBuildMetrics()
	cache := NewBuildCache(cfg.CacheSize, 0)

	return &Compiler{
		config:   cfg,
		registry: reg,
		loaders:  loaders,
		resolver: NewSpecifierResolver(cfg.ImportMap),
		fetcher:  fetcher,
		store:    NewArtifactStore(cfg.OutDir, metrics),
		cache:    cache,
		hasher:   NewHashProvider(cache),
		metrics:  metrics,
		logger:   logger.WithComponent("compiler"),
	}
}

// Registry returns the module record store.
func (c *Compiler) Registry() *registry.ModuleRegistry { return c.registry }

// Store returns the artifact store.
func (c *Compiler) Store() *ArtifactStore { return c.store }

// Metrics returns the compiler's metrics.
func (c *Compiler) Metrics() *BuildMetrics { return c.metrics }

// Loaders returns the loader registry.
func (c *Compiler) Loaders() *LoaderRegistry { return c.loaders }

// CacheStats reports the shared hash and transform cache.
func (c *Compiler) CacheStats() CacheStats { return c.hasher.Stats() }

// PrehashSources hashes the local sources of urls concurrently, warming
// the hash cache ahead of a compile pass. Remote and unreadable modules
// are omitted from the result.
func (c *Compiler) PrehashSources(urls []string) map[string]string {
	byPath := make(map[string]string, len(urls))
	paths := make([]string, 0, len(urls))
	for _, url := range urls {
		if types.IsRemoteURL(url) {
			continue
		}
		path := c.localPath(url)
		byPath[path] = url
		paths = append(paths, path)
	}

	hashes := make(map[string]string, len(paths))
	for path, hash := range c.hasher.HashBatch(paths) {
		hashes[byPath[path]] = hash
	}
	return hashes
}

// Compile compiles url and, recursively, its dependencies. The returned
// module is a snapshot. Missing local sources are reported through
// Module.Error only; download, loader and transform failures of the
// module or any dependency are also returned, joined.
func (c *Compiler) Compile(ctx context.Context, url string, opts Options) (*types.Module, error) {
	if err := validation.ValidateModuleURL(url); err != nil {
		return nil, errors.NewInvalidModuleURL(url, err.Error())
	}

	key := fmt.Sprintf("%s|force=%t|refresh=%t|once=%t", url, opts.Force, opts.Refresh, opts.Once)
	if opts.Source != nil {
		key += "|src=" + ContentHash(opts.Source)
	}

	v, err, _ := c.inflight.Do(key, func() (interface{}, error) {
		c.passMu.Lock()
		defer c.passMu.Unlock()

		perf := logging.StartOperation(c.logger, "compile")
		p := &compilePass{
			compiler: c,
			ctx:      ctx,
			state:    make(map[string]passState),
		}
		m, err := p.compile(url, opts)
		if settleErr := p.settle(opts.Once); settleErr != nil {
			err = stderrors.Join(err, settleErr)
		}
		perf.End(ctx, "url", url, "modules", len(p.state))

		if m == nil {
			return nil, err
		}
		snapshot, _ := c.registry.Snapshot(url)
		return &snapshot, err
	})

	m, _ := v.(*types.Module)
	return m, err
}

// Module returns a snapshot of a compiled module.
func (c *Compiler) Module(url string) (types.Module, bool) {
	return c.registry.Snapshot(url)
}

// Remove forgets a module whose source was deleted and removes its
// artifacts. Dependents keep their edge; propagate the removal with an
// empty hash to mark it unavailable.
func (c *Compiler) Remove(url string) error {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	c.registry.Remove(url)
	if err := c.store.Remove(url); err != nil {
		return errors.NewArtifactWriteError(url, err)
	}
	return nil
}

// WriteManifest persists manifest.json for every compiled module.
func (c *Compiler) WriteManifest() error {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	if err := c.store.WriteManifest(c.registry.All()); err != nil {
		return errors.NewArtifactWriteError("/"+ManifestFile, err)
	}
	return nil
}

type passState int

const (
	stateInProgress passState = iota + 1
	stateDone
)

// compilePass compiles one requested module and the dependencies it
// reaches. Each URL is compiled at most once per pass; a request for a
// URL still in progress (an import cycle) returns its current record.
type compilePass struct {
	compiler *Compiler
	ctx      context.Context
	state    map[string]passState
}

func (p *compilePass) compile(url string, opts Options) (*types.Module, error) {
	c := p.compiler

	if _, seen := p.state[url]; seen {
		m, _ := c.registry.Get(url)
		return m, nil
	}
	p.state[url] = stateInProgress
	defer func() { p.state[url] = stateDone }()

	m, created := c.registry.Register(url)
	if !created && !opts.Force && !opts.Refresh && opts.Source == nil {
		return m, nil
	}

	start := time.Now()
	err := p.build(m, created, opts)
	c.metrics.RecordCompile(time.Since(start), err)

	return m, err
}

// settle refreshes the resolved hash of cycle-closing edges whose target
// was still in progress when the edge was linked. Those edges are not
// chained, so only sidecars change.
func (p *compilePass) settle(once bool) error {
	c := p.compiler

	for url := range p.state {
		m, ok := c.registry.Get(url)
		if !ok || m.Error != nil {
			continue
		}

		var stale bool
		deps := append([]types.DependencyDescriptor(nil), m.Deps...)
		for i, dep := range deps {
			if !dep.IsCyclic {
				continue
			}
			target := ""
			if t, ok := c.registry.Get(dep.URL); ok && t.Error == nil {
				target = t.OutputHash
			}
			if target != dep.ResolvedHash {
				deps[i].ResolvedHash = target
				stale = true
			}
		}
		if !stale {
			continue
		}

		c.registry.Update(url, func(m *types.Module) { m.Deps = deps })
		if once {
			continue
		}
		if err := c.store.WriteSidecar(m); err != nil {
			return errors.NewArtifactWriteError(url, err)
		}
	}
	return nil
}

// build loads, transforms, links and persists one module.
func (p *compilePass) build(m *types.Module, created bool, opts Options) error {
	c := p.compiler
	url := m.URL
	prev := m.Clone()

	next, skip, err := p.load(prev, created, opts)
	if err != nil || next.Error != nil {
		p.fail(url, next.Error)
		return err
	}
	if skip {
		c.metrics.RecordCacheHit()
		return nil
	}
	if created && next.ArtifactPath != "" {
		// Adopted from disk: the sidecar is the persisted baseline.
		prev = next.Clone()
	}

	// Publish the edges before descending so cycle detection sees them.
	published := append([]types.DependencyDescriptor(nil), next.Deps...)
	c.registry.Update(url, func(m *types.Module) {
		m.Code = next.Code
		m.SourceMap = next.SourceMap
		m.Deps = published
		m.Kind = next.Kind
		m.SourceHash = next.SourceHash
		m.Error = nil
	})

	depOpts := Options{Force: opts.Force, Once: opts.Once}
	var errs []error

	for i := range next.Deps {
		dep := next.Deps[i]
		if dep.IsData {
			continue
		}

		depModule, depErr := p.compile(dep.URL, depOpts)
		if depErr != nil {
			errs = append(errs, depErr)
		}

		newHash := ""
		if depModule != nil && depModule.Error == nil {
			newHash = depModule.OutputHash
		}

		// Cyclicity is recomputed on every link: an edge stays cycle-closing
		// only while its target still reaches this module.
		switch {
		case dep.IsDynamic:
			next.Deps[i].ResolvedHash = newHash
		case c.reaches(dep.URL, url):
			if dep.IsCyclic {
				next.Deps[i].ResolvedHash = newHash
			} else {
				next.Code, next.Deps[i] = breakCycle(next.Code, dep, newHash)
			}
		case dep.IsCyclic:
			next.Code, next.Deps[i] = restoreChain(next.Code, dep, newHash)
		default:
			next.Code, next.Deps[i] = rewriteReference(next.Code, dep, newHash)
		}
	}

	next.OutputHash = OutputHash(next.Code, next.Deps)
	next.CompiledAt = time.Now()

	if !opts.Once {
		if err := p.persist(&prev, &next); err != nil {
			errs = append(errs, err)
			p.fail(url, err)
			return stderrors.Join(errs...)
		}
	}

	c.registry.Update(url, func(m *types.Module) {
		*m = next
	})

	c.logger.Debug(p.ctx, "Compiled module",
		"url", url,
		"hash", HashPrefix(next.OutputHash),
		"changed", next.OutputHash != prev.OutputHash,
		"deps", len(next.Deps))

	return stderrors.Join(errs...)
}

// persist writes the artifact triple when the output hash changed or the
// artifact is missing. A changed source hash alone only refreshes the
// sidecar.
func (p *compilePass) persist(prev, next *types.Module) error {
	store := p.compiler.store

	switch {
	case next.OutputHash != prev.OutputHash || !store.Exists(next.URL, next.OutputHash):
		if err := store.Write(next); err != nil {
			return errors.NewArtifactWriteError(next.URL, err)
		}
	case next.SourceHash != prev.SourceHash || !depsEqual(next.Deps, prev.Deps):
		if err := store.WriteSidecar(next); err != nil {
			return errors.NewArtifactWriteError(next.URL, err)
		}
		next.ArtifactPath, next.SourceMapPath, _ = store.Names(next.URL, next.OutputHash)
		if next.SourceMap == "" {
			next.SourceMapPath = ""
		}
	default:
		next.ArtifactPath = prev.ArtifactPath
		next.SourceMapPath = prev.SourceMapPath
	}
	return nil
}

// fail records a terminal failure. The output hash is cleared so
// dependents see the edge as unavailable.
func (p *compilePass) fail(url string, err error) {
	if err == nil {
		return
	}
	p.compiler.registry.Update(url, func(m *types.Module) {
		m.Error = err
		m.OutputHash = ""
	})
	p.compiler.logger.Warn(p.ctx, err, "Module failed to compile", "url", url)
}

// load produces the module's next state up to, but not including,
// dependency linking. skip reports that the current record is still
// valid and nothing else needs doing.
func (p *compilePass) load(prev types.Module, created bool, opts Options) (next types.Module, skip bool, err error) {
	c := p.compiler
	url := prev.URL
	next = prev.Clone()
	next.Error = nil

	if types.IsRemoteURL(url) && opts.Source == nil {
		return p.loadRemote(prev, created, opts)
	}

	var source []byte
	var sourceHash string

	switch {
	case opts.Source != nil:
		source = opts.Source
		sourceHash = ContentHash(source)
	default:
		path := c.localPath(url)
		if opts.Refresh && !opts.Force && prev.Error == nil && prev.SourceHash != "" {
			if hash, err := c.hasher.HashFile(path); err == nil && hash == prev.SourceHash {
				return prev, true, nil
			}
		}
		source, sourceHash, err = c.hasher.ReadFile(path)
		if err != nil {
			next.Error = errors.NewSourceNotFound(url, err)
			return next, false, nil
		}
	}

	if !opts.Force && prev.Error == nil && prev.Code != "" && sourceHash == prev.SourceHash {
		// Unchanged source: keep the transform, relink below.
		c.metrics.RecordCacheHit()
		return next, false, nil
	}

	if created && !opts.Force {
		if adopted, ok := p.adopt(url, sourceHash); ok {
			c.metrics.RecordCacheHit()
			return adopted, false, nil
		}
	}

	return p.transform(next, source, sourceHash, opts)
}

func (p *compilePass) loadRemote(prev types.Module, created bool, opts Options) (types.Module, bool, error) {
	c := p.compiler
	url := prev.URL
	next := prev.Clone()
	next.Error = nil

	if !created && prev.Error == nil && prev.OutputHash != "" && IsVersionedURL(url) {
		return prev, true, nil
	}

	if created && !opts.Force {
		if adopted, ok := p.adopt(url, ""); ok {
			c.metrics.RecordCacheHit()
			return adopted, false, nil
		}
	}

	result, err := fetchWithRetry(p.ctx, c.fetcher, url, c.config.FetchRetries, c.config.FetchBackoff)
	if err != nil {
		next.Error = err
		return next, false, err
	}

	sourceHash := ContentHash(result.Body)
	c.logger.Debug(p.ctx, "Fetched remote module",
		"url", url,
		"bytes", len(result.Body),
		"content_type", result.ContentType)

	if !opts.Force && prev.Error == nil && prev.Code != "" && sourceHash == prev.SourceHash {
		return next, false, nil
	}

	return p.transform(next, result.Body, sourceHash, opts)
}

// adopt restores a module from its on-disk sidecar when the sidecar was
// produced from the same source. An empty sourceHash accepts any sidecar.
func (p *compilePass) adopt(url, sourceHash string) (types.Module, bool) {
	sidecar, code, sourceMap, ok := p.compiler.store.Load(url)
	if !ok || (sourceHash != "" && sidecar.SourceHash != sourceHash) {
		return types.Module{}, false
	}

	artifact, mapName, _ := p.compiler.store.Names(url, sidecar.OutputHash)
	m := types.Module{
		URL:          url,
		SourceHash:   sidecar.SourceHash,
		OutputHash:   sidecar.OutputHash,
		Deps:         sidecar.Deps,
		ArtifactPath: artifact,
		Kind:         sidecar.Kind,
		Code:         code,
		SourceMap:    sourceMap,
	}
	if sourceMap != "" {
		m.SourceMapPath = mapName
	}
	return m, true
}

func (p *compilePass) transform(next types.Module, source []byte, sourceHash string, opts Options) (types.Module, bool, error) {
	c := p.compiler
	url := next.URL

	result, cached := (*TransformResult)(nil), false
	if !opts.Force {
		result, cached = c.cache.GetTransform(url, sourceHash)
	}

	if !cached {
		loader, ok := c.loaders.Select(url)
		if !ok {
			err := errors.NewUnsupportedLoader(url)
			next.Error = err
			return next, false, err
		}

		var err error
		result, err = loader.Transform(p.ctx, TransformInput{
			URL:      url,
			Source:   source,
			Resolver: c.resolver,
		})
		if err != nil {
			wrapped := errors.NewTransformFailure(url, err).WithContext("loader", loader.Name())
			next.Error = wrapped
			return next, false, wrapped
		}
		c.metrics.RecordTransform()
		c.cache.SetTransform(url, sourceHash, result)
	}

	next.Code = result.Code
	next.SourceMap = result.SourceMap
	next.Kind = result.Kind
	next.Deps = make([]types.DependencyDescriptor, len(result.Deps))
	copy(next.Deps, result.Deps)
	next.SourceHash = sourceHash

	return next, false, nil
}

// reaches reports whether target is reachable from start through chained
// edges. Linking an edge to start from target would close a cycle.
func (c *Compiler) reaches(start, target string) bool {
	visited := make(map[string]bool)
	var walk func(url string) bool
	walk = func(url string) bool {
		if url == target {
			return true
		}
		if visited[url] {
			return false
		}
		visited[url] = true

		m, ok := c.registry.Snapshot(url)
		if !ok {
			return false
		}
		for _, dep := range m.Deps {
			if dep.Chained() && walk(dep.URL) {
				return true
			}
		}
		return false
	}
	return walk(start)
}

// linked reports whether dep takes part in the hash chain of importer:
// a chained edge, or a cycle-closing edge whose cycle no longer exists.
func (c *Compiler) linked(importer string, dep types.DependencyDescriptor) bool {
	if dep.Chained() {
		return true
	}
	return dep.IsCyclic && !c.reaches(dep.URL, importer)
}

func (c *Compiler) localPath(url string) string {
	return filepath.Join(c.config.Root, filepath.FromSlash(url))
}

func depsEqual(a, b []types.DependencyDescriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
