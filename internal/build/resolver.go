package build

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/conneroisu/pagegraph/internal/types"
)

var (
	scriptExtensions = map[string]bool{
		".js":  true,
		".jsx": true,
		".ts":  true,
		".tsx": true,
		".mjs": true,
	}

	versionSuffix = regexp.MustCompile(`@\d+(\.\d+){0,2}(-[a-z0-9]+(\.[a-z0-9]+)?)?$`)
)

// IsScriptExtension reports whether ext (with leading dot) is compiled by
// the script loader.
func IsScriptExtension(ext string) bool {
	return scriptExtensions[strings.ToLower(ext)]
}

// IsVersionedURL reports whether a remote locator pins a version
// ("https://esm.sh/react@17.0.2"). Such modules never change once fetched.
func IsVersionedURL(raw string) bool {
	if !types.IsRemoteURL(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(u.Path, "/") {
		if versionSuffix.MatchString(segment) {
			return true
		}
	}
	return false
}

// ResolvedSpecifier is the outcome of resolving one import specifier.
type ResolvedSpecifier struct {
	// URL is the dependency's module identifier.
	URL string
	// ImportPath is the specifier to emit in the importer's code. Local,
	// non-dynamic imports of a local importer carry HashPlaceholder.
	ImportPath string
}

// SpecifierResolver maps import specifiers found in a module to module
// identifiers and emitted import paths.
type SpecifierResolver struct {
	imports  map[string]string
	prefixes []string
}

// NewSpecifierResolver creates a resolver using the given import map.
// Keys ending in "/" map every specifier with that prefix.
func NewSpecifierResolver(importMap map[string]string) *SpecifierResolver {
	r := &SpecifierResolver{imports: make(map[string]string, len(importMap))}
	for k, v := range importMap {
		r.imports[k] = v
		if strings.HasSuffix(k, "/") {
			r.prefixes = append(r.prefixes, k)
		}
	}
	sort.Slice(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i]) > len(r.prefixes[j])
	})
	return r
}

func (r *SpecifierResolver) applyImportMap(specifier string) string {
	if mapped, ok := r.imports[specifier]; ok {
		return mapped
	}
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(specifier, prefix) {
			return r.imports[prefix] + strings.TrimPrefix(specifier, prefix)
		}
	}
	return specifier
}

// Resolve resolves specifier as imported by importer.
//
//	[/pages/index.tsx]
//	../components/logo.tsx  -> /components/logo.tsx   ../components/logo.xxxxxxxxx.js
//	@/styles/app.css        -> /styles/app.css        ../styles/app.css.xxxxxxxxx.js
//	https://esm.sh/react@17 -> https://esm.sh/react@17 ../-/esm.sh/react@17.js
func (r *SpecifierResolver) Resolve(importer, specifier string, dynamic bool) (ResolvedSpecifier, error) {
	spec := r.applyImportMap(specifier)

	var target string
	switch {
	case types.IsRemoteURL(spec):
		target = spec
	case types.IsRemoteURL(importer):
		base, err := url.Parse(importer)
		if err != nil {
			return ResolvedSpecifier{}, fmt.Errorf("invalid importer %q: %w", importer, err)
		}
		ref, err := url.Parse(spec)
		if err != nil {
			return ResolvedSpecifier{}, fmt.Errorf("invalid specifier %q: %w", specifier, err)
		}
		target = base.ResolveReference(ref).String()
	case strings.HasPrefix(spec, "@/"), strings.HasPrefix(spec, "~/"):
		target = path.Clean(spec[1:])
	case strings.HasPrefix(spec, "/"):
		target = path.Clean(spec)
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"):
		target = path.Join(path.Dir(importer), spec)
	default:
		return ResolvedSpecifier{}, fmt.Errorf("unresolved bare specifier %q (add it to build.import_map)", specifier)
	}

	slot := ""
	if !dynamic && !types.IsRemoteURL(target) {
		slot = HashPlaceholder
	}

	from := path.Dir(ArtifactName(importer, "x"))
	return ResolvedSpecifier{
		URL:        target,
		ImportPath: relativePath(from, ArtifactName(target, slot)),
	}, nil
}

// ArtifactName returns the emitted file name, rooted at "/", for a module.
// Local modules embed slot (a hash prefix or the placeholder) when it is
// non-empty; remote modules map under "/-/" and never carry a hash.
//
//	/pages/blog.tsx              -> /pages/blog.<slot>.js
//	/styles/app.css              -> /styles/app.css.<slot>.js
//	https://esm.sh/react@17?dev  -> /-/esm.sh/react@17_dev.js
//	http://localhost:8080/mod    -> /-/http_localhost_8080/mod.js
func ArtifactName(moduleURL, slot string) string {
	if types.IsRemoteURL(moduleURL) {
		return remoteArtifactName(moduleURL)
	}

	dir, base := path.Split(moduleURL)
	return dir + emittedFileName(base, "", slot)
}

func remoteArtifactName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "/-/" + strings.NewReplacer(":", "_", "?", "_").Replace(raw) + ".js"
	}

	var b strings.Builder
	b.WriteString("/-/")
	if u.Scheme == "http" {
		b.WriteString("http_")
	}
	b.WriteString(u.Hostname())
	if port := u.Port(); port != "" {
		b.WriteString("_")
		b.WriteString(port)
	}

	dir, base := path.Split(u.Path)
	if dir == "" {
		dir = "/"
	}
	if base == "" {
		base = "index"
	}
	b.WriteString(dir)
	b.WriteString(emittedFileName(base, u.RawQuery, ""))
	return b.String()
}

// emittedFileName turns a source file name into its emitted ".js" name.
// Script extensions are replaced; anything else is kept and suffixed.
func emittedFileName(base, query, slot string) string {
	ext := path.Ext(base)
	stem := base
	if IsScriptExtension(ext) && !versionSuffix.MatchString(base) {
		stem = strings.TrimSuffix(base, ext)
	}
	if query != "" {
		stem += "_" + query
	}
	if slot != "" {
		stem += "." + slot
	}
	return stem + ".js"
}

// relativePath returns a "./" or "../" path from directory from to target.
// Both arguments are slash-separated and rooted at "/".
func relativePath(from, target string) string {
	fromParts := splitPath(from)
	targetParts := splitPath(target)

	common := 0
	for common < len(fromParts) && common < len(targetParts)-1 &&
		fromParts[common] == targetParts[common] {
		common++
	}

	var b strings.Builder
	ups := len(fromParts) - common
	if ups == 0 {
		b.WriteString("./")
	}
	for i := 0; i < ups; i++ {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(targetParts[common:], "/"))
	return b.String()
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// embeddedImportPath is the import path currently written in the
// importer's code for dep.
func embeddedImportPath(dep types.DependencyDescriptor) string {
	if dep.ResolvedHash == "" {
		return dep.ImportPath
	}
	return withHashSlot(dep.ImportPath, HashPrefix(dep.ResolvedHash))
}

func withHashSlot(importPath, prefix string) string {
	idx := strings.LastIndex(importPath, HashPlaceholder)
	if idx < 0 {
		return importPath
	}
	return importPath[:idx] + prefix + importPath[idx+len(HashPlaceholder):]
}

// rewriteReference replaces the quoted import path of dep in code with the
// path embedding newHash. It returns the new code and the updated edge.
func rewriteReference(code string, dep types.DependencyDescriptor, newHash string) (string, types.DependencyDescriptor) {
	oldPath := embeddedImportPath(dep)
	dep.ResolvedHash = newHash
	newPath := embeddedImportPath(dep)

	if oldPath == newPath {
		return code, dep
	}

	for _, quote := range []string{`"`, `'`, "`"} {
		code = strings.ReplaceAll(code, quote+oldPath+quote, quote+newPath+quote)
	}
	return code, dep
}

// breakCycle turns dep into a cycle-closing edge: the hash slot is dropped
// from its import path so the importer no longer tracks the target's hash.
func breakCycle(code string, dep types.DependencyDescriptor, newHash string) (string, types.DependencyDescriptor) {
	oldPath := embeddedImportPath(dep)
	dep.ImportPath = strings.Replace(dep.ImportPath, "."+HashPlaceholder, "", 1)
	dep.ResolvedHash = newHash
	dep.IsCyclic = true

	for _, quote := range []string{`"`, `'`, "`"} {
		code = strings.ReplaceAll(code, quote+oldPath+quote, quote+dep.ImportPath+quote)
	}
	return code, dep
}

// restoreChain turns a cycle-closing edge back into a chained one once the
// cycle is gone: the hash slot returns to its import path and newHash is
// embedded in the importer's code.
func restoreChain(code string, dep types.DependencyDescriptor, newHash string) (string, types.DependencyDescriptor) {
	oldPath := dep.ImportPath
	dep.ImportPath = strings.TrimSuffix(dep.ImportPath, ".js") + "." + HashPlaceholder + ".js"
	dep.ResolvedHash = newHash
	dep.IsCyclic = false
	newPath := embeddedImportPath(dep)

	for _, quote := range []string{`"`, `'`, "`"} {
		code = strings.ReplaceAll(code, quote+oldPath+quote, quote+newPath+quote)
	}
	return code, dep
}
