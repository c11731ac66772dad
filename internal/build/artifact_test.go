package build

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/types"
)

func testModule(url, code string) *types.Module {
	m := &types.Module{
		URL:        url,
		SourceHash: ContentHash([]byte("source:" + code)),
		Code:       code,
		Kind:       types.LoaderScript,
	}
	m.OutputHash = OutputHash(m.Code, m.Deps)
	return m
}

func TestArtifactStore_WriteAndLoad(t *testing.T) {
	out := t.TempDir()
	store := NewArtifactStore(out, nil)

	m := testModule("/pages/index.tsx", "export default 1;")
	m.SourceMap = `{"version":3}`
	m.Deps = []types.DependencyDescriptor{{URL: "/pages/lazy.tsx", ImportPath: "./lazy.js", IsDynamic: true}}
	require.NoError(t, store.Write(m))

	prefix := HashPrefix(m.OutputHash)
	assert.Equal(t, "/pages/index."+prefix+".js", m.ArtifactPath)
	assert.Equal(t, "/pages/index."+prefix+".js.map", m.SourceMapPath)
	assert.FileExists(t, filepath.Join(out, "pages", "index."+prefix+".js"))
	assert.FileExists(t, filepath.Join(out, "pages", "index."+prefix+".js.map"))
	assert.FileExists(t, filepath.Join(out, "pages", "index."+prefix+".meta.json"))
	assert.True(t, store.Exists(m.URL, m.OutputHash))

	sidecar, code, sourceMap, ok := store.Load(m.URL)
	require.True(t, ok)
	assert.Equal(t, m.URL, sidecar.URL)
	assert.Equal(t, m.SourceHash, sidecar.SourceHash)
	assert.Equal(t, m.OutputHash, sidecar.OutputHash)
	assert.Equal(t, m.Deps, sidecar.Deps)
	assert.Equal(t, "export default 1;", code)
	assert.Equal(t, `{"version":3}`, sourceMap)
}

func TestArtifactStore_RemovesStaleVariants(t *testing.T) {
	out := t.TempDir()
	store := NewArtifactStore(out, nil)

	first := testModule("/pages/index.tsx", "export default 1;")
	require.NoError(t, store.Write(first))
	second := testModule("/pages/index.tsx", "export default 2;")
	require.NoError(t, store.Write(second))

	entries, err := os.ReadDir(filepath.Join(out, "pages"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	prefix := HashPrefix(second.OutputHash)
	assert.ElementsMatch(t, []string{"index." + prefix + ".js", "index." + prefix + ".meta.json"}, names)

	_, code, _, ok := store.Load("/pages/index.tsx")
	require.True(t, ok)
	assert.Equal(t, "export default 2;", code)
}

func TestArtifactStore_SiblingModulesAreIndependent(t *testing.T) {
	out := t.TempDir()
	store := NewArtifactStore(out, nil)

	blog := testModule("/pages/blog.tsx", "blog")
	about := testModule("/pages/about.tsx", "about")
	require.NoError(t, store.Write(blog))
	require.NoError(t, store.Write(about))
	require.NoError(t, store.Remove("/pages/about.tsx"))

	assert.True(t, store.Exists(blog.URL, blog.OutputHash))
	assert.False(t, store.Exists(about.URL, about.OutputHash))
	_, _, _, ok := store.Load("/pages/about.tsx")
	assert.False(t, ok)
}

func TestArtifactStore_RemoteNames(t *testing.T) {
	store := NewArtifactStore(t.TempDir(), nil)

	artifact, sourceMap, sidecar := store.Names("https://esm.sh/react@17.0.2", ContentHash([]byte("x")))
	assert.Equal(t, "/-/esm.sh/react@17.0.2.js", artifact)
	assert.Equal(t, "/-/esm.sh/react@17.0.2.js.map", sourceMap)
	assert.Equal(t, "/-/esm.sh/react@17.0.2.meta.json", sidecar)

	m := testModule("https://esm.sh/react@17.0.2", "export default {};")
	require.NoError(t, store.Write(m))
	_, code, _, ok := store.Load(m.URL)
	require.True(t, ok)
	assert.Equal(t, "export default {};", code)
}

func TestArtifactStore_WriteSidecarOnly(t *testing.T) {
	out := t.TempDir()
	metrics := NewBuildMetrics()
	store := NewArtifactStore(out, metrics)

	m := testModule("/lib/a.ts", "a")
	require.NoError(t, store.Write(m))
	writes := metrics.GetSnapshot().Writes

	m.SourceHash = ContentHash([]byte("reformatted"))
	require.NoError(t, store.WriteSidecar(m))
	assert.Equal(t, writes+1, metrics.GetSnapshot().Writes)

	sidecar, _, _, ok := store.Load(m.URL)
	require.True(t, ok)
	assert.Equal(t, m.SourceHash, sidecar.SourceHash)
}

func TestArtifactStore_WriteFailureLeavesNothing(t *testing.T) {
	out := t.TempDir()
	store := NewArtifactStore(out, nil)
	store.beforeWrite = func(string) error { return errors.New("disk full") }

	m := testModule("/pages/index.tsx", "x")
	assert.EqualError(t, store.Write(m), "disk full")
	assert.Empty(t, m.ArtifactPath)
	assert.False(t, store.Exists(m.URL, m.OutputHash))
}

func TestArtifactStore_Manifest(t *testing.T) {
	store := NewArtifactStore(t.TempDir(), nil)

	index := testModule("/pages/index.tsx", "index")
	require.NoError(t, store.Write(index))
	failed := &types.Module{URL: "/pages/broken.tsx"}

	require.NoError(t, store.WriteManifest([]*types.Module{index, failed}))

	manifest, err := store.ReadManifest()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/pages/index.tsx": index.ArtifactPath}, manifest.Modules)
	assert.False(t, manifest.GeneratedAt.IsZero())
}
