// Package scanner discovers route declarations under the pages root.
//
// Every page file maps to one (route path, module URL) pair. A file named
// index declares the directory's index module; any other file declares the
// page module of the route named by its path without extension:
//
//	pages/index.tsx         -> /              (index)
//	pages/blog.tsx          -> /blog          (page)
//	pages/blog/index.tsx    -> /blog          (index)
//	pages/blog/[slug].tsx   -> /blog/[slug]   (page)
//	pages/docs/[...path].md -> /docs/[...path] (page)
//
// Hidden files and files or directories starting with "_" are skipped, as
// is anything matching an ignore pattern.
package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/types"
)

// PageScanner walks the pages directory of a project.
type PageScanner struct {
	// root is the absolute project root; module URLs are relative to it
	root string
	// pagesDir is the slash-separated pages directory below root ("pages")
	pagesDir string
	// extensions accepted in addition to script extensions (".md")
	extensions map[string]bool
	// ignore holds path.Match patterns tested against the module URL and
	// the base name
	ignore []string
}

// Option configures a PageScanner.
type Option func(*PageScanner)

// WithExtensions accepts extra page file extensions (with leading dot).
func WithExtensions(exts ...string) Option {
	return func(s *PageScanner) {
		for _, ext := range exts {
			s.extensions[strings.ToLower(ext)] = true
		}
	}
}

// WithIgnore skips files matching any of the patterns.
func WithIgnore(patterns ...string) Option {
	return func(s *PageScanner) {
		s.ignore = append(s.ignore, patterns...)
	}
}

// NewPageScanner creates a scanner for root/pagesDir.
func NewPageScanner(root, pagesDir string, opts ...Option) (*PageScanner, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute root: %w", err)
	}

	pagesDir = strings.Trim(filepath.ToSlash(filepath.Clean(pagesDir)), "/")
	if pagesDir == "" || pagesDir == "." || strings.HasPrefix(pagesDir, "..") {
		return nil, fmt.Errorf("invalid pages directory %q", pagesDir)
	}

	s := &PageScanner{
		root:       absRoot,
		pagesDir:   pagesDir,
		extensions: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute project root.
func (s *PageScanner) Root() string {
	return s.root
}

// PagesDir returns the absolute pages directory.
func (s *PageScanner) PagesDir() string {
	return filepath.Join(s.root, filepath.FromSlash(s.pagesDir))
}

// Scan walks the pages directory and returns the declarations sorted by
// route path, page modules before index modules.
func (s *PageScanner) Scan(ctx context.Context) ([]types.RouteDeclaration, error) {
	var decls []types.RouteDeclaration

	err := filepath.WalkDir(s.PagesDir(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		name := d.Name()
		if d.IsDir() {
			if p != s.PagesDir() && skipName(name) {
				return filepath.SkipDir
			}
			return nil
		}

		moduleURL, err := s.ModuleURL(p)
		if err != nil {
			return nil
		}
		if decl, ok := s.Declare(moduleURL); ok {
			decls = append(decls, decl)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning pages: %w", err)
	}

	sort.Slice(decls, func(i, j int) bool {
		if decls[i].Path != decls[j].Path {
			return decls[i].Path < decls[j].Path
		}
		return !decls[i].IsIndexModule && decls[j].IsIndexModule
	})
	return decls, nil
}

// ModuleURL converts a file path into a project-rooted module URL. Paths
// outside the project root are rejected.
func (s *PageScanner) ModuleURL(file string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(file))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside the project root", file)
	}
	return "/" + rel, nil
}

// FilePath converts a local module URL back into a file path.
func (s *PageScanner) FilePath(moduleURL string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(moduleURL, "/")))
}

// Declare returns the route declaration of moduleURL when it is a page
// file.
func (s *PageScanner) Declare(moduleURL string) (types.RouteDeclaration, bool) {
	prefix := "/" + s.pagesDir + "/"
	if !strings.HasPrefix(moduleURL, prefix) {
		return types.RouteDeclaration{}, false
	}

	rel := strings.TrimPrefix(moduleURL, prefix)
	for _, segment := range strings.Split(rel, "/") {
		if segment == "" || skipName(segment) {
			return types.RouteDeclaration{}, false
		}
	}

	ext := path.Ext(rel)
	if !build.IsScriptExtension(ext) && !s.extensions[strings.ToLower(ext)] {
		return types.RouteDeclaration{}, false
	}
	if s.ignored(moduleURL) {
		return types.RouteDeclaration{}, false
	}

	dir, base := path.Split(strings.TrimSuffix(rel, ext))
	decl := types.RouteDeclaration{ModuleURL: moduleURL}
	if base == "index" {
		decl.Path = "/" + strings.TrimSuffix(dir, "/")
		decl.IsIndexModule = true
	} else {
		decl.Path = "/" + dir + base
	}
	return decl, true
}

// IsPage reports whether moduleURL declares a route.
func (s *PageScanner) IsPage(moduleURL string) bool {
	_, ok := s.Declare(moduleURL)
	return ok
}

func (s *PageScanner) ignored(moduleURL string) bool {
	base := path.Base(moduleURL)
	for _, pattern := range s.ignore {
		if ok, _ := path.Match(pattern, moduleURL); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func skipName(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")
}
