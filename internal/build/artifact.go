package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/conneroisu/pagegraph/internal/types"
)

// ManifestFile is written at the root of the output directory.
const ManifestFile = "manifest.json"

// Sidecar is the JSON metadata persisted next to each artifact.
type Sidecar struct {
	URL        string                       `json:"url"`
	SourceHash string                       `json:"sourceHash"`
	OutputHash string                       `json:"outputHash"`
	Deps       []types.DependencyDescriptor `json:"deps"`
	Kind       types.LoaderKind             `json:"kind,omitempty"`
	SourceMap  bool                         `json:"sourceMap,omitempty"`
}

// Manifest maps module URLs to their current artifact names. Dynamic
// imports are emitted without a hash and resolved through it.
type Manifest struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	Modules     map[string]string `json:"modules"`
}

// ArtifactStore persists the (code, source map, sidecar) triple of each
// module under an output directory.
type ArtifactStore struct {
	outDir  string
	metrics *BuildMetrics

	// beforeWrite, when set, runs before each file is committed. Tests
	// use it to inject write failures.
	beforeWrite func(rel string) error
}

// NewArtifactStore creates a store rooted at outDir.
func NewArtifactStore(outDir string, metrics *BuildMetrics) *ArtifactStore {
	if metrics == nil {
		metrics = NewBuildMetrics()
	}
	return &ArtifactStore{outDir: outDir, metrics: metrics}
}

// OutDir returns the output directory.
func (s *ArtifactStore) OutDir() string {
	return s.outDir
}

// artifactSlot is the hash slot embedded in a module's artifact names.
func artifactSlot(moduleURL, outputHash string) string {
	if types.IsRemoteURL(moduleURL) {
		return ""
	}
	return HashPrefix(outputHash)
}

// Names returns the artifact, source map and sidecar names for a module
// at outputHash, rooted at "/".
func (s *ArtifactStore) Names(moduleURL, outputHash string) (artifact, sourceMap, sidecar string) {
	artifact = ArtifactName(moduleURL, artifactSlot(moduleURL, outputHash))
	return artifact, artifact + ".map", strings.TrimSuffix(artifact, ".js") + ".meta.json"
}

func (s *ArtifactStore) abs(name string) string {
	return filepath.Join(s.outDir, filepath.FromSlash(strings.TrimPrefix(name, "/")))
}

// Exists reports whether the module's artifact at outputHash is on disk.
func (s *ArtifactStore) Exists(moduleURL, outputHash string) bool {
	artifact, _, _ := s.Names(moduleURL, outputHash)
	_, err := os.Stat(s.abs(artifact))
	return err == nil
}

// Write commits the module's triple. The sidecar is written last so a
// sidecar on disk always describes complete artifacts. Variants left by
// earlier hashes are removed afterwards.
func (s *ArtifactStore) Write(m *types.Module) error {
	artifact, sourceMap, sidecar := s.Names(m.URL, m.OutputHash)

	if err := s.writeFile(artifact, []byte(m.Code)); err != nil {
		return err
	}

	if m.SourceMap != "" {
		if err := s.writeFile(sourceMap, []byte(m.SourceMap)); err != nil {
			return err
		}
		m.SourceMapPath = sourceMap
	} else {
		m.SourceMapPath = ""
	}

	if err := s.writeSidecar(m, sidecar); err != nil {
		return err
	}
	m.ArtifactPath = artifact

	return s.removeStale(m.URL, m.OutputHash)
}

// WriteSidecar rewrites only the sidecar of the module's current triple.
func (s *ArtifactStore) WriteSidecar(m *types.Module) error {
	_, _, sidecar := s.Names(m.URL, m.OutputHash)
	return s.writeSidecar(m, sidecar)
}

func (s *ArtifactStore) writeSidecar(m *types.Module, name string) error {
	data, err := json.MarshalIndent(Sidecar{
		URL:        m.URL,
		SourceHash: m.SourceHash,
		OutputHash: m.OutputHash,
		Deps:       m.Deps,
		Kind:       m.Kind,
		SourceMap:  m.SourceMap != "",
	}, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile(name, data)
}

// Load reads back the persisted state of a module: the newest sidecar and
// the code it describes. ok is false when no complete triple exists.
func (s *ArtifactStore) Load(moduleURL string) (sidecar *Sidecar, code, sourceMap string, ok bool) {
	name, found := s.findSidecar(moduleURL)
	if !found {
		return nil, "", "", false
	}

	data, err := os.ReadFile(s.abs(name))
	if err != nil {
		return nil, "", "", false
	}

	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil || sc.URL != moduleURL {
		return nil, "", "", false
	}

	artifact, mapName, _ := s.Names(moduleURL, sc.OutputHash)
	codeBytes, err := os.ReadFile(s.abs(artifact))
	if err != nil {
		return nil, "", "", false
	}

	if sc.SourceMap {
		if mapBytes, err := os.ReadFile(s.abs(mapName)); err == nil {
			sourceMap = string(mapBytes)
		}
	}

	return &sc, string(codeBytes), sourceMap, true
}

// Remove deletes every artifact variant of a module.
func (s *ArtifactStore) Remove(moduleURL string) error {
	return s.removeStale(moduleURL, "")
}

// WriteManifest persists the URL to artifact mapping.
func (s *ArtifactStore) WriteManifest(modules []*types.Module) error {
	manifest := Manifest{
		GeneratedAt: time.Now().UTC(),
		Modules:     make(map[string]string, len(modules)),
	}
	for _, m := range modules {
		if m.ArtifactPath != "" {
			manifest.Modules[m.URL] = m.ArtifactPath
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return s.writeFile("/"+ManifestFile, data)
}

// ReadManifest loads the manifest written by WriteManifest.
func (s *ArtifactStore) ReadManifest() (*Manifest, error) {
	data, err := os.ReadFile(s.abs(ManifestFile))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	return &manifest, nil
}

// writeFile commits data atomically: a temp file in the target directory
// is renamed over the destination.
func (s *ArtifactStore) writeFile(name string, data []byte) error {
	if s.beforeWrite != nil {
		if err := s.beforeWrite(name); err != nil {
			return err
		}
	}

	dest := s.abs(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}

	s.metrics.RecordWrite()
	return nil
}

// variantPattern matches every hashed file of a local module in its
// directory. Remote modules have a single fixed name.
func variantPattern(moduleURL string) *regexp.Regexp {
	stem := strings.TrimSuffix(path.Base(ArtifactName(moduleURL, "")), ".js")
	return regexp.MustCompile(`^` + regexp.QuoteMeta(stem) + `\.([0-9a-f]{` +
		fmt.Sprint(HashPrefixLength) + `})\.(js|js\.map|meta\.json)$`)
}

func (s *ArtifactStore) findSidecar(moduleURL string) (string, bool) {
	if types.IsRemoteURL(moduleURL) {
		_, _, sidecar := s.Names(moduleURL, "")
		if _, err := os.Stat(s.abs(sidecar)); err != nil {
			return "", false
		}
		return sidecar, true
	}

	dir := path.Dir(ArtifactName(moduleURL, ""))
	entries, err := os.ReadDir(s.abs(dir))
	if err != nil {
		return "", false
	}

	pattern := variantPattern(moduleURL)
	type candidate struct {
		name    string
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil || m[2] != "meta.json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path.Join(dir, entry.Name()), info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})
	return candidates[0].name, true
}

// removeStale deletes artifact variants whose hash differs from keep.
// An empty keep removes every variant.
func (s *ArtifactStore) removeStale(moduleURL, keep string) error {
	if types.IsRemoteURL(moduleURL) {
		if keep != "" {
			return nil
		}
		artifact, sourceMap, sidecar := s.Names(moduleURL, "")
		for _, name := range []string{sidecar, artifact, sourceMap} {
			if err := os.Remove(s.abs(name)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
		return nil
	}

	dir := path.Dir(ArtifactName(moduleURL, ""))
	entries, err := os.ReadDir(s.abs(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	keepPrefix := HashPrefix(keep)
	pattern := variantPattern(moduleURL)
	for _, entry := range entries {
		m := pattern.FindStringSubmatch(entry.Name())
		if m == nil || (keep != "" && m[1] == keepPrefix) {
			continue
		}
		if err := os.Remove(s.abs(path.Join(dir, entry.Name()))); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
