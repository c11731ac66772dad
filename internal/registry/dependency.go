package registry

import (
	"sort"

	"github.com/conneroisu/pagegraph/internal/types"
)

// Dependents returns the modules holding a dependency edge to url, in
// insertion order.
func (r *ModuleRegistry) Dependents(url string) []*types.Module {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var dependents []*types.Module
	for _, u := range r.order {
		m := r.modules[u]
		for _, dep := range m.Deps {
			if dep.URL == url {
				dependents = append(dependents, m)
				break
			}
		}
	}
	return dependents
}

// DependencyClosure returns every module reachable from url through
// compiled dependency edges, excluding url itself. Each module appears once
// even when the graph has cycles.
func (r *ModuleRegistry) DependencyClosure(url string) []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	visited := map[string]bool{url: true}
	var result []string
	r.collectDeps(url, visited, &result)
	return result
}

func (r *ModuleRegistry) collectDeps(url string, visited map[string]bool, result *[]string) {
	m, exists := r.modules[url]
	if !exists {
		return
	}

	for _, dep := range m.Deps {
		if dep.IsData || visited[dep.URL] {
			continue
		}
		visited[dep.URL] = true
		*result = append(*result, dep.URL)
		r.collectDeps(dep.URL, visited, result)
	}
}

// DependencyGraph returns the adjacency list of compiled dependency edges.
func (r *ModuleRegistry) DependencyGraph() map[string][]string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	graph := make(map[string][]string, len(r.modules))
	for url, m := range r.modules {
		edges := make([]string, 0, len(m.Deps))
		for _, dep := range m.Deps {
			if !dep.IsData {
				edges = append(edges, dep.URL)
			}
		}
		graph[url] = edges
	}
	return graph
}

// DetectCycles returns the dependency cycles found by a depth-first walk.
// Each cycle starts and ends with the same URL.
func (r *ModuleRegistry) DetectCycles() [][]string {
	graph := r.DependencyGraph()

	roots := make([]string, 0, len(graph))
	for url := range graph {
		roots = append(roots, url)
	}
	sort.Strings(roots)

	var cycles [][]string
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, root := range roots {
		if !visited[root] {
			cycles = detectCycleDFS(root, graph, visited, recStack, nil, cycles)
		}
	}
	return cycles
}

func detectCycleDFS(url string, graph map[string][]string, visited, recStack map[string]bool, path []string, cycles [][]string) [][]string {
	visited[url] = true
	recStack[url] = true
	path = append(path, url)

	for _, dep := range graph[url] {
		if !visited[dep] {
			cycles = detectCycleDFS(dep, graph, visited, recStack, path, cycles)
			continue
		}
		if !recStack[dep] {
			continue
		}
		for i, p := range path {
			if p == dep {
				cycle := make([]string, len(path)-i+1)
				copy(cycle, path[i:])
				cycle[len(cycle)-1] = dep
				cycles = append(cycles, cycle)
				break
			}
		}
	}

	recStack[url] = false
	return cycles
}
