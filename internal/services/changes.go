package services

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/types"
	"github.com/conneroisu/pagegraph/internal/watcher"
)

// ChangeOutcome reports what one settled change did.
type ChangeOutcome struct {
	URL         string   `json:"url" yaml:"url"`
	Removed     bool     `json:"removed,omitempty" yaml:"removed,omitempty"`
	HashChanged bool     `json:"hashChanged,omitempty" yaml:"hashChanged,omitempty"`
	Propagated  []string `json:"propagated,omitempty" yaml:"propagated,omitempty"`
	Err         error    `json:"-" yaml:"-"`
}

// HandleChanges applies settled file changes in order. Failures are
// logged and recorded in the outcome; the last good state keeps serving.
// It has the watcher.ChangeHandler signature.
func (p *Project) HandleChanges(ctx context.Context, events []watcher.ChangeEvent) error {
	_ = p.ApplyChanges(ctx, events)
	return nil
}

// ApplyChanges is HandleChanges returning per-event outcomes.
func (p *Project) ApplyChanges(ctx context.Context, events []watcher.ChangeEvent) []ChangeOutcome {
	p.changeMu.Lock()
	defer p.changeMu.Unlock()

	outcomes := make([]ChangeOutcome, 0, len(events))
	for _, event := range events {
		url, err := p.scanner.ModuleURL(event.Path)
		if err != nil || p.inOutDir(event.Path) {
			continue
		}

		var outcome ChangeOutcome
		if event.Type == watcher.EventTypeDeleted {
			outcome = p.removeModule(ctx, url)
		} else {
			outcome = p.refreshModule(ctx, url)
		}
		if outcome.URL == "" {
			continue
		}
		if outcome.Err != nil {
			p.errors.Handle(ctx, outcome.Err)
		}
		outcomes = append(outcomes, outcome)
	}

	if len(outcomes) > 0 {
		if err := p.compiler.WriteManifest(); err != nil {
			p.logger.Error(ctx, err, "Failed to write manifest")
		}
	}
	return outcomes
}

func (p *Project) inOutDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	out := p.config.OutPath()
	return abs == out || strings.HasPrefix(abs, out+string(filepath.Separator))
}

// refreshModule recompiles a created or modified module and cascades a
// changed output hash. Files that are neither pages, shell modules nor
// already in the graph are ignored until something imports them.
func (p *Project) refreshModule(ctx context.Context, url string) ChangeOutcome {
	decl, isPage := p.scanner.Declare(url)
	prev, known := p.compiler.Module(url)
	if !isPage && !known && !p.shell[url] {
		return ChangeOutcome{}
	}

	outcome := ChangeOutcome{URL: url}
	m, err := p.compiler.Compile(ctx, url, build.Options{Refresh: true})
	if err != nil {
		outcome.Err = err
	}
	if m == nil {
		return outcome
	}
	if m.Error != nil {
		if outcome.Err == nil {
			outcome.Err = m.Error
		}
		// A failure that replaced a good hash marks the edge
		// unavailable in every dependent.
		if prev.OutputHash == "" {
			return outcome
		}
	}

	if isPage {
		if _, _, routed := p.router.Lookup(url); !routed {
			if err := p.registerRoute(decl); err != nil {
				outcome.Err = err
			}
			p.cache.Invalidate(decl.Path)
		}
	}

	if m.OutputHash == prev.OutputHash && known {
		return outcome
	}
	outcome.HashChanged = true
	p.moduleUpdated(*m)

	err = p.compiler.Propagate(ctx, url, m.OutputHash, func(updated types.Module) {
		outcome.Propagated = append(outcome.Propagated, updated.URL)
		p.moduleUpdated(updated)
	})
	if err != nil {
		outcome.Err = err
	}

	p.logger.Info(ctx, "Module updated",
		"url", url,
		"hash", build.HashPrefix(m.OutputHash),
		"propagated", len(outcome.Propagated))
	return outcome
}

// removeModule forgets a deleted source. Importers keep their edge but see
// it as unavailable.
func (p *Project) removeModule(ctx context.Context, url string) ChangeOutcome {
	_, known := p.compiler.Module(url)
	_, _, routed := p.router.Lookup(url)
	if !known && !routed {
		return ChangeOutcome{}
	}

	outcome := ChangeOutcome{URL: url, Removed: true}

	if routed {
		p.cache.InvalidatePages(p.router.RemoveModule(url))
	}
	if p.shell[url] {
		p.cache.InvalidateAll()
	}

	if known {
		if err := p.compiler.Remove(url); err != nil {
			outcome.Err = err
			return outcome
		}
		err := p.compiler.Propagate(ctx, url, "", func(updated types.Module) {
			outcome.Propagated = append(outcome.Propagated, updated.URL)
			p.moduleUpdated(updated)
		})
		if err != nil {
			outcome.Err = err
		}
	}

	p.logger.Info(ctx, "Module removed", "url", url, "propagated", len(outcome.Propagated))
	return outcome
}

// moduleUpdated refreshes the route projection of m and evicts the renders
// that include it.
func (p *Project) moduleUpdated(m types.Module) {
	if p.shell[m.URL] {
		p.cache.InvalidateAll()
	}
	paths := p.router.Refresh(m.URL, m.OutputHash, m.RequiresServerData())
	p.cache.InvalidatePages(paths)
}

// Watch builds the project, then applies file changes until ctx is done.
func (p *Project) Watch(ctx context.Context) error {
	if _, err := p.Build(ctx, BuildOptions{}); err != nil {
		return err
	}

	fw, err := watcher.NewFileWatcher(p.config.Development.Debounce, p.logger)
	if err != nil {
		return err
	}
	defer fw.Stop()

	out := p.config.OutPath()
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.IgnoreFilter(p.config.Development.Ignore...))
	fw.AddFilter(watcher.ExcludeDirFilter(out))
	fw.AddDirFilter(watcher.NoGitFilter)
	fw.AddDirFilter(watcher.NoNodeModulesFilter)
	fw.AddDirFilter(watcher.NoHiddenFilter)
	fw.AddDirFilter(watcher.ExcludeDirFilter(out))
	fw.AddHandler(p.HandleChanges)

	if err := fw.AddRecursive(p.config.Project.Root); err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		return err
	}

	perf := logging.StartOperation(p.logger, "watch")
	p.logger.Info(ctx, "Watching for changes", "root", p.config.Project.Root)
	<-ctx.Done()
	perf.End(context.Background())
	return nil
}
