package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/pagegraph/internal/registry"
	"github.com/conneroisu/pagegraph/internal/routing"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/types"
)

// executeCommand runs the root command with fresh flag and viper state and
// returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func initSite(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "site")
	_, err := executeCommand(t, "init", dir)
	require.NoError(t, err)
	return dir
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "site")

	out, err := executeCommand(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, services.ConfigFileName)

	for _, name := range []string{
		".pagegraph.yml",
		"import_map.json",
		"pages/index.tsx",
		"pages/_layout.tsx",
		"pages/about.md",
		"pages/blog/[slug].tsx",
	} {
		assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(name)))
	}

	out, err = executeCommand(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to do")
}

func TestInitCommandMinimal(t *testing.T) {
	dir := t.TempDir()

	_, err := executeCommand(t, "init", "--minimal", dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, ".pagegraph.yml"))
	assert.NoFileExists(t, filepath.Join(dir, "pages", "index.tsx"))
}

func TestBuildCommand(t *testing.T) {
	dir := initSite(t)

	out, err := executeCommand(t, "build", "--root", dir, "-o", "json")
	require.NoError(t, err)

	var result services.BuildResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Routes)
	assert.FileExists(t, filepath.Join(dir, ".pagegraph", "manifest.json"))

	assert.Equal(t, []string{"markdown", "style", "script"}, result.Loaders)
	assert.Positive(t, result.Cache.Entries)

	out, err = executeCommand(t, "build", "--root", dir, "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "/pages/_layout.tsx")
	assert.Contains(t, out, "Built 4 modules")
	assert.Contains(t, out, "Loaders: markdown, style, script")
	assert.Contains(t, out, "hit rate")
}

func TestPrintModuleEvents(t *testing.T) {
	reg := registry.NewModuleRegistry()
	events := reg.Watch()

	var buf bytes.Buffer
	done := printModuleEvents(&buf, events)

	reg.Register("/pages/index.tsx")
	reg.Update("/pages/index.tsx", func(*types.Module) {})
	reg.Register("/components/logo.tsx")
	reg.Remove("/components/logo.tsx")
	reg.UnWatch(events)
	<-done

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "updates are not printed")
	assert.Contains(t, lines[0], "+ /pages/index.tsx")
	assert.Contains(t, lines[1], "+ /components/logo.tsx")
	assert.Contains(t, lines[2], "- /components/logo.tsx")
}

func TestBuildCommandFailure(t *testing.T) {
	dir := initSite(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pages", "logo.tsx"),
		[]byte(`import logo from "./logo.svg";`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pages", "logo.svg"), []byte(`<svg/>`), 0o644))

	out, err := executeCommand(t, "build", "--root", dir)
	require.Error(t, err)
	assert.Contains(t, out, "/pages/logo.svg")
}

func TestRoutesCommand(t *testing.T) {
	dir := initSite(t)

	out, err := executeCommand(t, "routes", "--root", dir, "-o", "json")
	require.NoError(t, err)

	var routes []routing.RouteEntry
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	require.Len(t, routes, 3)
	assert.Equal(t, "/", routes[0].Path)
	require.NotNil(t, routes[0].Index)
	assert.Equal(t, "/pages/index.tsx", routes[0].Index.URL)
	assert.Equal(t, "/blog/[slug]", routes[2].Path)
	assert.True(t, routes[2].Page.RequiresServerData)
}

func TestRoutesCommandResolve(t *testing.T) {
	dir := initSite(t)

	out, err := executeCommand(t, "routes", "--root", dir, "--resolve", "/blog/hello?draft=1", "-o", "json")
	require.NoError(t, err)

	var res resolution
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "/blog/[slug]", res.URL.PagePath)
	assert.Equal(t, "hello", res.URL.Params["slug"])
	assert.Equal(t, "1", res.URL.Query.Get("draft"))
	require.Len(t, res.Stack, 1)
	assert.Equal(t, "/pages/blog/[slug].tsx", res.Stack[0].URL)

	out, err = executeCommand(t, "routes", "--root", dir, "--resolve", "/blog/hello")
	require.NoError(t, err)
	assert.Contains(t, out, "param:    slug=hello")
}

func TestRoutesCommandResolveMissing(t *testing.T) {
	dir := initSite(t)

	_, err := executeCommand(t, "routes", "--root", dir, "--resolve", "/nope/nope")
	assert.Error(t, err)
}

func TestGraphCommand(t *testing.T) {
	dir := initSite(t)

	out, err := executeCommand(t, "graph", "--root", dir, "/pages/index.tsx", "-o", "json")
	require.NoError(t, err)

	var report closureReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []string{"/pages/_layout.tsx"}, report.Closure)
	assert.Empty(t, report.Dependents)

	out, err = executeCommand(t, "graph", "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "#data:/api/posts (data)")

	_, err = executeCommand(t, "graph", "--root", dir, "/pages/missing.tsx")
	assert.Error(t, err)
}

func TestRenderCommand(t *testing.T) {
	dir := initSite(t)

	out, err := executeCommand(t, "render", "--root", dir, "/about")
	require.NoError(t, err)
	assert.Contains(t, out, "modulepreload")
	assert.Contains(t, out, "/pages/about.md.")

	out, err = executeCommand(t, "render", "--root", dir, "/missing/page")
	assert.Error(t, err)
	assert.Contains(t, out, "Not Found")
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version", "--format", "json")
	require.NoError(t, err)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "go_version")

	_, err = executeCommand(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestOutputFlagValidation(t *testing.T) {
	dir := initSite(t)

	_, err := executeCommand(t, "build", "--root", dir, "-o", "jso")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "json"`)
}

func TestValidateFormatWithSuggestion(t *testing.T) {
	assert.NoError(t, ValidateFormatWithSuggestion("YAML", outputFormats))
	assert.Error(t, ValidateFormatWithSuggestion("csv", outputFormats))
}
