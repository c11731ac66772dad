package build

import (
	"context"
	"time"

	"github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/logging"
	"github.com/conneroisu/pagegraph/internal/types"
)

// Propagate pushes a changed output hash of changedURL to every module
// that references it, directly or transitively. Each affected module has
// its references rewritten, its output hash recomputed and its triple
// persisted before onUpdated is called with a snapshot. Modules are
// processed once each, dependencies before dependents, so a module that
// imports two changed modules is rewritten after both.
//
// Dynamic and cycle-closing edges only record the new hash in the
// sidecar; they do not change the importer's hash and are not followed.
// A cycle-closing edge whose target no longer reaches the importer is
// restored to a chained edge and followed.
//
// A write failure stops the cascade. Modules processed before it stay
// updated; the failing module and everything after it are untouched.
func (c *Compiler) Propagate(ctx context.Context, changedURL, newHash string, onUpdated func(types.Module)) error {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	perf := logging.StartOperation(c.logger, "propagate")
	defer perf.End(ctx, "url", changedURL)

	visited := map[string]bool{changedURL: true}
	affected := c.collectAffected(changedURL, visited)
	order := c.cascadeOrder(changedURL, affected)

	hashes := map[string]string{changedURL: newHash}

	for _, url := range order {
		if err := c.relink(ctx, url, hashes, onUpdated); err != nil {
			return err
		}
	}

	// Lazy and cycle-closing importers of anything that changed,
	// including changedURL itself when it closes a cycle.
	for _, m := range c.registry.All() {
		if m.Error != nil {
			continue
		}
		if err := c.relinkSoft(m.URL, hashes); err != nil {
			return err
		}
	}

	return nil
}

// collectAffected returns the modules reachable from changedURL through
// reversed chained edges, threading visited through the walk. A
// cycle-closing edge whose cycle is gone counts as chained.
func (c *Compiler) collectAffected(changedURL string, visited map[string]bool) []string {
	var affected []string
	queue := []string{changedURL}

	for len(queue) > 0 {
		url := queue[0]
		queue = queue[1:]

		for _, dependent := range c.registry.Dependents(url) {
			snapshot, ok := c.registry.Snapshot(dependent.URL)
			if !ok || visited[snapshot.URL] || snapshot.Error != nil {
				continue
			}
			if !c.linksTo(snapshot, url) {
				continue
			}
			visited[snapshot.URL] = true
			affected = append(affected, snapshot.URL)
			queue = append(queue, snapshot.URL)
		}
	}

	return affected
}

// cascadeOrder sorts affected modules so every module follows the
// modules it imports (Kahn's algorithm). Nodes left over by a cycle are
// appended in discovery order so the cascade still terminates.
func (c *Compiler) cascadeOrder(changedURL string, affected []string) []string {
	inSet := make(map[string]bool, len(affected)+1)
	inSet[changedURL] = true
	for _, url := range affected {
		inSet[url] = true
	}

	inDegree := make(map[string]int, len(affected))
	importers := make(map[string][]string)
	for _, url := range affected {
		snapshot, _ := c.registry.Snapshot(url)
		for _, dep := range snapshot.Deps {
			if !inSet[dep.URL] || dep.URL == changedURL || !c.linked(url, dep) {
				continue
			}
			inDegree[url]++
			importers[dep.URL] = append(importers[dep.URL], url)
		}
	}

	var queue, order []string
	for _, url := range affected {
		if inDegree[url] == 0 {
			queue = append(queue, url)
		}
	}

	placed := make(map[string]bool, len(affected))
	for len(queue) > 0 {
		url := queue[0]
		queue = queue[1:]
		order = append(order, url)
		placed[url] = true

		for _, importer := range importers[url] {
			inDegree[importer]--
			if inDegree[importer] == 0 {
				queue = append(queue, importer)
			}
		}
	}

	for _, url := range affected {
		if !placed[url] {
			order = append(order, url)
		}
	}

	return order
}

// relink rewrites the references of one affected module and persists it
// when its output hash changed.
func (c *Compiler) relink(ctx context.Context, url string, hashes map[string]string, onUpdated func(types.Module)) error {
	next, ok := c.registry.Snapshot(url)
	if !ok {
		return nil
	}
	prev := next.Clone()

	for i, dep := range next.Deps {
		newHash, changed := hashes[dep.URL]
		if !changed {
			continue
		}
		switch {
		case dep.IsCyclic && !c.reaches(dep.URL, url):
			next.Code, next.Deps[i] = restoreChain(next.Code, dep, newHash)
		case dep.ResolvedHash == newHash:
		case dep.Chained():
			next.Code, next.Deps[i] = rewriteReference(next.Code, dep, newHash)
		case !dep.IsData:
			next.Deps[i].ResolvedHash = newHash
		}
	}

	next.OutputHash = OutputHash(next.Code, next.Deps)

	if next.OutputHash == prev.OutputHash {
		if depsEqual(next.Deps, prev.Deps) {
			return nil
		}
		if err := c.store.WriteSidecar(&next); err != nil {
			return errors.NewArtifactWriteError(url, err)
		}
		c.registry.Update(url, func(m *types.Module) { m.Deps = next.Deps })
		return nil
	}

	next.CompiledAt = time.Now()
	if err := c.store.Write(&next); err != nil {
		c.logger.Error(ctx, err, "Cascade stopped", "url", url)
		return errors.NewArtifactWriteError(url, err)
	}

	c.registry.Update(url, func(m *types.Module) { *m = next })
	hashes[url] = next.OutputHash
	c.metrics.RecordPropagation()

	c.logger.Debug(ctx, "Propagated hash change",
		"url", url,
		"from", HashPrefix(prev.OutputHash),
		"to", HashPrefix(next.OutputHash))

	if onUpdated != nil {
		onUpdated(next.Clone())
	}
	return nil
}

// relinkSoft records new hashes on dynamic and cycle-closing edges of a
// module outside the cascade. Its own hash does not change.
func (c *Compiler) relinkSoft(url string, hashes map[string]string) error {
	next, ok := c.registry.Snapshot(url)
	if !ok {
		return nil
	}

	var stale bool
	for i, dep := range next.Deps {
		newHash, changed := hashes[dep.URL]
		if !changed || dep.Chained() || dep.IsData || dep.ResolvedHash == newHash {
			continue
		}
		next.Deps[i].ResolvedHash = newHash
		stale = true
	}
	if !stale {
		return nil
	}

	if err := c.store.WriteSidecar(&next); err != nil {
		return errors.NewArtifactWriteError(url, err)
	}
	c.registry.Update(url, func(m *types.Module) { m.Deps = next.Deps })
	return nil
}

func (c *Compiler) linksTo(m types.Module, url string) bool {
	for _, dep := range m.Deps {
		if dep.URL == url && c.linked(m.URL, dep) {
			return true
		}
	}
	return false
}
