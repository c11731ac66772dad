package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/types"
)

var graphCmd = &cobra.Command{
	Use:   "graph [module-url]",
	Short: "Show the module dependency graph",
	Long: `Build the project and print each module with its dependency edges.
Dynamic, cyclic and data edges are marked; they do not take part in the
importer's hash. With a module URL, print that module's transitive
dependencies and the modules that import it.

Examples:
  pagegraph graph
  pagegraph graph /pages/index.tsx
  pagegraph graph -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

var graphFlags *OutputFlags

func init() {
	rootCmd.AddCommand(graphCmd)
	graphFlags = AddOutputFlags(graphCmd)
}

type graphEdge struct {
	URL          string `json:"url" yaml:"url"`
	ResolvedHash string `json:"resolvedHash,omitempty" yaml:"resolvedHash,omitempty"`
	Kind         string `json:"kind" yaml:"kind"`
}

type graphNode struct {
	URL        string      `json:"url" yaml:"url"`
	OutputHash string      `json:"outputHash,omitempty" yaml:"outputHash,omitempty"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
	Deps       []graphEdge `json:"deps,omitempty" yaml:"deps,omitempty"`
}

type graphReport struct {
	Modules []graphNode `json:"modules" yaml:"modules"`
	Cycles  [][]string  `json:"cycles,omitempty" yaml:"cycles,omitempty"`
}

type closureReport struct {
	URL        string   `json:"url" yaml:"url"`
	Closure    []string `json:"closure" yaml:"closure"`
	Dependents []string `json:"dependents" yaml:"dependents"`
}

func runGraph(cmd *cobra.Command, args []string) error {
	if err := graphFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}
	if _, err := p.Build(commandContext(cmd), services.BuildOptions{}); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	out := cmd.OutOrStdout()
	reg := p.Registry()

	if len(args) == 1 {
		url := args[0]
		if _, ok := reg.Snapshot(url); !ok {
			return fmt.Errorf("module %s is not part of the graph", url)
		}
		report := closureReport{URL: url, Closure: reg.DependencyClosure(url)}
		for _, m := range reg.Dependents(url) {
			report.Dependents = append(report.Dependents, m.URL)
		}
		sort.Strings(report.Closure)
		sort.Strings(report.Dependents)
		return graphFlags.Write(out, report, func(w io.Writer) error {
			return printClosure(w, report)
		})
	}

	report := graphReport{Cycles: reg.DetectCycles()}
	for _, m := range p.Modules() {
		report.Modules = append(report.Modules, newGraphNode(m))
	}
	return graphFlags.Write(out, report, func(w io.Writer) error {
		return printGraph(w, report)
	})
}

func newGraphNode(m types.Module) graphNode {
	node := graphNode{URL: m.URL, OutputHash: m.OutputHash}
	if m.Error != nil {
		node.Error = m.Error.Error()
	}
	for _, dep := range m.Deps {
		node.Deps = append(node.Deps, graphEdge{
			URL:          dep.URL,
			ResolvedHash: dep.ResolvedHash,
			Kind:         edgeKind(dep),
		})
	}
	return node
}

func edgeKind(dep types.DependencyDescriptor) string {
	switch {
	case dep.IsData:
		return "data"
	case dep.IsDynamic:
		return "dynamic"
	case dep.IsCyclic:
		return "cyclic"
	case dep.IsStyle:
		return "style"
	default:
		return "static"
	}
}

func printGraph(w io.Writer, report graphReport) error {
	for _, node := range report.Modules {
		status := SubtitleStyle.Render(build.HashPrefix(node.OutputHash))
		if node.Error != "" {
			status = ErrorStyle.Render("failed: " + node.Error)
		}
		fmt.Fprintf(w, "%s %s\n", PathStyle.Render(node.URL), status)

		for i, dep := range node.Deps {
			branch := "├──"
			if i == len(node.Deps)-1 {
				branch = "└──"
			}
			label := dep.URL
			if dep.Kind != "static" {
				label += SubtitleStyle.Render(" (" + dep.Kind + ")")
			}
			if dep.Kind != "data" && dep.ResolvedHash == "" {
				label += WarningStyle.Render(" unavailable")
			}
			fmt.Fprintf(w, "  %s %s\n", branch, label)
		}
	}

	if len(report.Cycles) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render("Cycles"))
		for _, cycle := range report.Cycles {
			fmt.Fprintf(w, "  %s\n", strings.Join(cycle, " → "))
		}
	}
	return nil
}

func printClosure(w io.Writer, report closureReport) error {
	fmt.Fprintln(w, TitleStyle.Render("Dependencies of ")+PathStyle.Render(report.URL))
	if len(report.Closure) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("  none"))
	}
	for _, url := range report.Closure {
		fmt.Fprintf(w, "  %s\n", url)
	}

	fmt.Fprintln(w, TitleStyle.Render("Imported by"))
	if len(report.Dependents) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("  none"))
	}
	for _, url := range report.Dependents {
		fmt.Fprintf(w, "  %s\n", url)
	}
	return nil
}
