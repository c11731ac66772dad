package build

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/pagegraph/internal/types"
)

// DataHookPrefix marks a specifier as a server data hook. Such
// dependencies are recorded on the module but never compiled.
const DataHookPrefix = "#data:"

// TransformInput is handed to a loader.
type TransformInput struct {
	URL      string
	Source   []byte
	Resolver *SpecifierResolver
}

// TransformResult is the emitted code for one module. Deps carry the
// import path templates written into Code.
type TransformResult struct {
	Code      string
	SourceMap string
	Kind      types.LoaderKind
	Deps      []types.DependencyDescriptor
}

// Loader turns module source into emitted code.
type Loader interface {
	Name() string
	Test(url string) bool
	Transform(ctx context.Context, in TransformInput) (*TransformResult, error)
}

// TranspileFunc converts script source (TypeScript, JSX) into plain
// JavaScript before import rewriting. It is the external transformer.
type TranspileFunc func(ctx context.Context, url string, source []byte) (code string, sourceMap string, err error)

var (
	fromImportPattern    = regexp.MustCompile(`\b(?:import|export)\s[^;'"]*?\bfrom\s*["']([^"'\n]+)["']`)
	bareImportPattern    = regexp.MustCompile(`\bimport\s*["']([^"'\n]+)["']`)
	dynamicImportPattern = regexp.MustCompile(`\bimport\s*\(\s*["']([^"'\n]+)["']\s*\)`)
	cssImportPattern     = regexp.MustCompile(`@import\s+(?:url\(\s*)?["']([^"']+)["']\s*\)?[^;\n]*;?`)
)

// moduleExt returns the lowercase extension of a module URL's file name.
// Remote names ending in a version ("react@17.0.2") have none.
func moduleExt(moduleURL string) string {
	p := moduleURL
	if types.IsRemoteURL(moduleURL) {
		u, err := url.Parse(moduleURL)
		if err != nil {
			return ""
		}
		p = u.Path
	}
	base := path.Base(p)
	if versionSuffix.MatchString(base) {
		return ""
	}
	return strings.ToLower(path.Ext(base))
}

// ScriptLoader handles JavaScript and TypeScript modules.
type ScriptLoader struct {
	Transpile TranspileFunc
}

// Name implements Loader.
func (l *ScriptLoader) Name() string { return "script" }

// Test implements Loader.
func (l *ScriptLoader) Test(moduleURL string) bool {
	ext := moduleExt(moduleURL)
	if IsScriptExtension(ext) {
		return true
	}
	return types.IsRemoteURL(moduleURL) && ext == ""
}

// Transform implements Loader.
func (l *ScriptLoader) Transform(ctx context.Context, in TransformInput) (*TransformResult, error) {
	code := string(in.Source)
	sourceMap := ""

	if l.Transpile != nil {
		var err error
		code, sourceMap, err = l.Transpile(ctx, in.URL, in.Source)
		if err != nil {
			return nil, err
		}
	}

	rewritten, deps, err := rewriteScriptImports(code, in)
	if err != nil {
		return nil, err
	}

	return &TransformResult{
		Code:      rewritten,
		SourceMap: sourceMap,
		Kind:      types.LoaderScript,
		Deps:      deps,
	}, nil
}

type specifierEdit struct {
	start, end int
	specifier  string
	dynamic    bool
}

func rewriteScriptImports(code string, in TransformInput) (string, []types.DependencyDescriptor, error) {
	var edits []specifierEdit
	collect := func(pattern *regexp.Regexp, dynamic bool) {
		for _, m := range pattern.FindAllStringSubmatchIndex(code, -1) {
			edits = append(edits, specifierEdit{
				start:     m[2],
				end:       m[3],
				specifier: code[m[2]:m[3]],
				dynamic:   dynamic,
			})
		}
	}
	collect(fromImportPattern, false)
	collect(bareImportPattern, false)
	collect(dynamicImportPattern, true)

	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })

	var (
		b     strings.Builder
		deps  []types.DependencyDescriptor
		index = make(map[string]int)
		last  = 0
	)

	for _, edit := range edits {
		if edit.start < last {
			continue
		}

		b.WriteString(code[last:edit.start])
		last = edit.end

		if strings.HasPrefix(edit.specifier, DataHookPrefix) {
			b.WriteString(edit.specifier)
			if _, seen := index[edit.specifier]; !seen {
				index[edit.specifier] = len(deps)
				deps = append(deps, types.DependencyDescriptor{
					URL:        edit.specifier,
					ImportPath: edit.specifier,
					IsData:     true,
				})
			}
			continue
		}

		resolved, err := in.Resolver.Resolve(in.URL, edit.specifier, edit.dynamic)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(resolved.ImportPath)

		if i, seen := index[resolved.URL]; seen {
			// A static import of a module that is also loaded lazily
			// keeps the edge in the hash chain.
			if deps[i].IsDynamic && !edit.dynamic {
				deps[i].IsDynamic = false
				deps[i].ImportPath = resolved.ImportPath
			}
			continue
		}

		index[resolved.URL] = len(deps)
		deps = append(deps, types.DependencyDescriptor{
			URL:        resolved.URL,
			ImportPath: resolved.ImportPath,
			IsDynamic:  edit.dynamic,
			IsStyle:    moduleExt(resolved.URL) == ".css",
		})
	}
	b.WriteString(code[last:])

	return b.String(), deps, nil
}

// StyleLoader wraps CSS into a JavaScript module. "@import" rules become
// style dependencies.
type StyleLoader struct{}

// Name implements Loader.
func (l *StyleLoader) Name() string { return "style" }

// Test implements Loader.
func (l *StyleLoader) Test(moduleURL string) bool {
	return moduleExt(moduleURL) == ".css"
}

// Transform implements Loader.
func (l *StyleLoader) Transform(_ context.Context, in TransformInput) (*TransformResult, error) {
	css := string(in.Source)

	var (
		deps    []types.DependencyDescriptor
		imports strings.Builder
		seen    = make(map[string]bool)
	)

	for _, m := range cssImportPattern.FindAllStringSubmatch(css, -1) {
		resolved, err := in.Resolver.Resolve(in.URL, m[1], false)
		if err != nil {
			return nil, err
		}
		if seen[resolved.URL] {
			continue
		}
		seen[resolved.URL] = true
		deps = append(deps, types.DependencyDescriptor{
			URL:        resolved.URL,
			ImportPath: resolved.ImportPath,
			IsStyle:    true,
		})
		fmt.Fprintf(&imports, "import %q;\n", resolved.ImportPath)
	}

	body := strings.TrimSpace(cssImportPattern.ReplaceAllString(css, ""))
	literal, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	code := imports.String() +
		"const css = " + string(literal) + ";\n" +
		"export default css;\n"

	return &TransformResult{
		Code: code,
		Kind: types.LoaderStyle,
		Deps: deps,
	}, nil
}

// FuncLoader is a registered predicate and transform pair.
type FuncLoader struct {
	ID    string
	Match func(url string) bool
	Fn    func(ctx context.Context, in TransformInput) (*TransformResult, error)
}

// Name implements Loader.
func (l *FuncLoader) Name() string { return l.ID }

// Test implements Loader.
func (l *FuncLoader) Test(moduleURL string) bool {
	return l.Match != nil && l.Match(moduleURL)
}

// Transform implements Loader.
func (l *FuncLoader) Transform(ctx context.Context, in TransformInput) (*TransformResult, error) {
	result, err := l.Fn(ctx, in)
	if err != nil {
		return nil, err
	}
	if result.Kind == "" {
		result.Kind = types.LoaderPlugin
	}
	return result, nil
}

// ExtensionLoader returns a FuncLoader matching the given file extensions.
func ExtensionLoader(id string, kind types.LoaderKind, fn func(ctx context.Context, in TransformInput) (*TransformResult, error), exts ...string) *FuncLoader {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = true
	}
	return &FuncLoader{
		ID:    id,
		Match: func(u string) bool { return set[moduleExt(u)] },
		Fn: func(ctx context.Context, in TransformInput) (*TransformResult, error) {
			result, err := fn(ctx, in)
			if err == nil && result.Kind == "" {
				result.Kind = kind
			}
			return result, err
		},
	}
}

// LoaderRegistry selects the loader for a module. Registered loaders are
// tested in registration order before the built-in style and script
// loaders.
type LoaderRegistry struct {
	mu      sync.RWMutex
	loaders []Loader
	style   *StyleLoader
	script  *ScriptLoader
}

// NewLoaderRegistry creates a registry with the built-in loaders.
func NewLoaderRegistry(script *ScriptLoader) *LoaderRegistry {
	if script == nil {
		script = &ScriptLoader{}
	}
	return &LoaderRegistry{
		style:  &StyleLoader{},
		script: script,
	}
}

// Register appends a loader.
func (r *LoaderRegistry) Register(loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders = append(r.loaders, loader)
}

// Select returns the first loader whose test accepts moduleURL.
func (r *LoaderRegistry) Select(moduleURL string) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, loader := range r.loaders {
		if loader.Test(moduleURL) {
			return loader, true
		}
	}
	if r.style.Test(moduleURL) {
		return r.style, true
	}
	if r.script.Test(moduleURL) {
		return r.script, true
	}
	return nil, false
}

// Names lists loader names in selection order.
func (r *LoaderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.loaders)+2)
	for _, loader := range r.loaders {
		names = append(names, loader.Name())
	}
	return append(names, r.style.Name(), r.script.Name())
}
