package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/build"
	pgerrors "github.com/conneroisu/pagegraph/internal/errors"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/types"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Compile every page and its dependencies",
	Long: `Scan the pages directory, compile every page, shell module and imported
module into content-hashed artifacts, register the routes and write the
manifest. Unchanged modules are adopted from the output directory.

Examples:
  pagegraph build                 # Incremental build
  pagegraph build --force         # Re-transform every module
  pagegraph build --clean         # Remove the output directory first
  pagegraph build -o json         # Machine-readable summary`,
	RunE: runBuild,
}

var (
	buildForce bool
	buildClean bool
	buildFlags *OutputFlags
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildForce, "force", false, "Re-transform every module")
	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "Remove build artifacts before building")
	buildFlags = AddOutputFlags(buildCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runBuild(cmd *cobra.Command, args []string) error {
	if err := buildFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	result, err := p.Build(commandContext(cmd), services.BuildOptions{
		Force: buildForce,
		Clean: buildClean,
	})
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	err = buildFlags.Write(cmd.OutOrStdout(), result, func(w io.Writer) error {
		return printBuildSummary(w, p.Modules(), result, buildFlags.Verbose)
	})
	if err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("build failed: %d module(s) reported errors", len(result.Failures))
	}
	return nil
}

func printBuildSummary(w io.Writer, modules []types.Module, result *services.BuildResult, verbose bool) error {
	if verbose {
		fmt.Fprintln(w, TitleStyle.Render("Modules"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "URL\tKIND\tHASH\tSIZE\tSTATUS")
		for _, m := range modules {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				m.URL, m.Kind, build.HashPrefix(m.OutputHash),
				humanize.Bytes(uint64(len(m.Code))), moduleStatus(m))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w, SubtitleStyle.Render("Loaders: "+strings.Join(result.Loaders, ", ")))
		fmt.Fprintln(w)
	}

	for _, failure := range result.Failures {
		style := ErrorStyle
		if failure.Severity < pgerrors.ErrorSeverityError {
			style = WarningStyle
		}
		fmt.Fprintf(w, "%s %s: %s\n", style.Render("✗"), PathStyle.Render(failure.Module), failure.Message)
	}

	var size uint64
	for _, m := range modules {
		size += uint64(len(m.Code))
	}

	summary := fmt.Sprintf("Built %d modules (%s), %d routes in %s",
		result.Modules, humanize.Bytes(size), result.Routes, result.Duration.Round(time.Millisecond))
	if result.Success {
		fmt.Fprintln(w, SuccessStyle.Render("✓ "+summary))
	} else {
		fmt.Fprintln(w, ErrorStyle.Render("✗ "+summary))
	}

	if result.Metrics != nil {
		fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("%d transforms, %d cache hits, %d writes",
			result.Metrics.Transforms, result.Metrics.CacheHits, result.Metrics.Writes)))
	}
	fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("cache: %d entries (%s), %.0f%% hit rate",
		result.Cache.Entries, humanize.Bytes(uint64(result.Cache.Size)), result.Cache.HitRate*100)))
	return nil
}

func moduleStatus(m types.Module) string {
	if m.Error != nil {
		return "failed"
	}
	for _, dep := range m.Deps {
		if dep.Chained() && dep.Unavailable() {
			return "unavailable dependency"
		}
	}
	return "ok"
}
