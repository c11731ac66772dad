// Package types provides common type definitions used throughout pagegraph.
// This package contains shared types to avoid circular dependencies between packages.
package types

import (
	"strings"
	"time"
)

// LoaderKind identifies which loader produced a module's emitted code.
type LoaderKind string

const (
	LoaderScript   LoaderKind = "script"
	LoaderStyle    LoaderKind = "style"
	LoaderMarkdown LoaderKind = "markdown"
	LoaderPlugin   LoaderKind = "plugin"
)

// Module is one compiled unit tracked by the module registry. Records are
// created on the first compile request and mutated in place afterwards.
type Module struct {
	// URL is the canonical identifier: a local path ("/pages/x.tsx") or an
	// absolute remote locator ("https://esm.sh/react@17.0.2").
	URL string `json:"url"`
	// SourceHash is the digest of the raw source bytes as last observed.
	SourceHash string `json:"sourceHash"`
	// OutputHash is the digest of the fully-resolved emitted code plus the
	// resolved hash of every non-dynamic dependency.
	OutputHash string `json:"outputHash"`
	// Deps lists the declared dependencies in source order.
	Deps []DependencyDescriptor `json:"deps"`
	// ArtifactPath is the content-addressed output location, relative to the
	// build directory.
	ArtifactPath string `json:"-"`
	// SourceMapPath is empty when the loader produced no source map.
	SourceMapPath string `json:"-"`
	// Kind is the loader kind that produced Code.
	Kind LoaderKind `json:"-"`
	// Error is set when the source could not be loaded or compiled. The
	// module stays registered so dependents can observe the failure.
	Error error `json:"-"`

	// Code holds the emitted code after dependency reference rewriting.
	Code string `json:"-"`
	// SourceMap holds the loader's source map, if any.
	SourceMap string `json:"-"`
	// CompiledAt records the last time the output hash was (re)computed.
	CompiledAt time.Time `json:"-"`
}

// IsRemote reports whether the module was fetched from a remote locator.
func (m *Module) IsRemote() bool {
	return IsRemoteURL(m.URL)
}

// Failed reports whether the module is in the terminal failed state.
func (m *Module) Failed() bool {
	return m.Error != nil
}

// RequiresServerData reports whether any dependency is a server data hook.
func (m *Module) RequiresServerData() bool {
	for _, dep := range m.Deps {
		if dep.IsData {
			return true
		}
	}
	return false
}

// Clone returns a copy of the module whose dependency slice is not shared.
func (m *Module) Clone() Module {
	c := *m
	c.Deps = make([]DependencyDescriptor, len(m.Deps))
	copy(c.Deps, m.Deps)
	return c
}

// DependencyDescriptor describes one declared dependency edge.
type DependencyDescriptor struct {
	// URL is the resolved dependency identifier.
	URL string `json:"url"`
	// ResolvedHash is the dependency's OutputHash when the edge was last
	// rewritten. Empty means the dependency is unavailable.
	ResolvedHash string `json:"resolvedHash,omitempty"`
	// ImportPath is the specifier as emitted in the importer's code. Local,
	// non-dynamic imports carry a hash placeholder or hash prefix.
	ImportPath string `json:"importPath,omitempty"`
	IsDynamic  bool   `json:"isDynamic,omitempty"`
	IsData     bool   `json:"isData,omitempty"`
	IsStyle    bool   `json:"isStyle,omitempty"`
	// IsCyclic marks the edge that closes an import cycle. Like a dynamic
	// edge it is emitted without a hash and stays out of the hash chain.
	IsCyclic bool `json:"isCyclic,omitempty"`
}

// Chained reports whether the edge participates in the importer's output
// hash.
func (d DependencyDescriptor) Chained() bool {
	return !d.IsDynamic && !d.IsData && !d.IsCyclic
}

// Unavailable reports whether the dependency has no resolved hash. Consumers
// must treat such an edge as a missing dependency.
func (d DependencyDescriptor) Unavailable() bool {
	return !d.IsData && d.ResolvedHash == ""
}

// RouteModule is the projection of a Module used by the route resolver.
type RouteModule struct {
	Path               string `json:"path" yaml:"path"`
	URL                string `json:"url" yaml:"url"`
	OutputHash         string `json:"outputHash" yaml:"outputHash"`
	RequiresServerData bool   `json:"requiresServerData,omitempty" yaml:"requiresServerData,omitempty"`
}

// RouteDeclaration is one (urlPath, sourcePath) pair discovered under the
// pages root.
type RouteDeclaration struct {
	// Path is the route path ("/blog/[slug]").
	Path string
	// ModuleURL is the module identifier ("/pages/blog/[slug].tsx").
	ModuleURL string
	// IsIndexModule marks a directory index file ("pages/blog/index.tsx").
	IsIndexModule bool
}

// EventType represents the type of module change event.
type EventType string

const (
	EventTypeAdded   EventType = "added"
	EventTypeUpdated EventType = "updated"
	EventTypeRemoved EventType = "removed"
)

// ModuleEvent represents a change in the module registry.
type ModuleEvent struct {
	Type      EventType
	URL       string
	Timestamp time.Time
}

// IsRemoteURL reports whether url is an absolute http(s) locator.
func IsRemoteURL(url string) bool {
	return strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://")
}
