package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/build"
	"github.com/conneroisu/pagegraph/internal/routing"
	"github.com/conneroisu/pagegraph/internal/services"
	"github.com/conneroisu/pagegraph/internal/types"
)

var routesCmd = &cobra.Command{
	Use:     "routes",
	Aliases: []string{"r"},
	Short:   "List the route tree or resolve a location",
	Long: `Build the project and list every route with its page and index modules.
With --resolve, show what one location resolves to: the locale, the
matched page path, the captured params and the module stack.

Examples:
  pagegraph routes
  pagegraph routes --resolve /blog/hello
  pagegraph routes --resolve "/fr/docs/a/b?tab=1" -o yaml`,
	RunE: runRoutes,
}

var (
	routesResolve string
	routesFlags   *OutputFlags
)

func init() {
	rootCmd.AddCommand(routesCmd)

	routesCmd.Flags().StringVar(&routesResolve, "resolve", "", "Resolve a location instead of listing routes")
	routesFlags = AddOutputFlags(routesCmd)
}

// resolution is the output of routes --resolve.
type resolution struct {
	URL   routing.RouterURL   `json:"url" yaml:"url"`
	Stack []types.RouteModule `json:"stack" yaml:"stack"`
}

func runRoutes(cmd *cobra.Command, args []string) error {
	if err := routesFlags.ValidateFlags(); err != nil {
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
	if routesResolve != "" {
		u, stack := p.Router().CreateRouter(routesResolve)
		res := resolution{URL: u, Stack: stack}
		if err := routesFlags.Write(out, res, func(w io.Writer) error {
			return printResolution(w, res)
		}); err != nil {
			return err
		}
		if !u.Found() {
			return fmt.Errorf("no route matches %s", routesResolve)
		}
		return nil
	}

	routes := p.Router().Routes()
	return routesFlags.Write(out, routes, func(w io.Writer) error {
		return printRoutes(w, routes)
	})
}

func printRoutes(w io.Writer, routes []routing.RouteEntry) error {
	if len(routes) == 0 {
		fmt.Fprintln(w, "No routes found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tMODULE\tHASH\tDATA")
	for _, r := range routes {
		if r.Page != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Path, r.Page.URL, build.HashPrefix(r.Page.OutputHash), yesNo(r.Page.RequiresServerData))
		}
		if r.Index != nil {
			path := r.Path
			if r.Page != nil {
				path = ""
			}
			fmt.Fprintf(tw, "%s\t%s (index)\t%s\t%s\n", path, r.Index.URL, build.HashPrefix(r.Index.OutputHash), yesNo(r.Index.RequiresServerData))
		}
	}
	return tw.Flush()
}

func printResolution(w io.Writer, res resolution) error {
	if !res.URL.Found() {
		fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("✗ no route matches"), PathStyle.Render(res.URL.Pathname))
		return nil
	}

	fmt.Fprintf(w, "%s %s\n", TitleStyle.Render("Page"), PathStyle.Render(res.URL.PagePath))
	fmt.Fprintf(w, "  locale:   %s\n", res.URL.Locale)
	fmt.Fprintf(w, "  pathname: %s\n", res.URL.Pathname)
	names := make([]string, 0, len(res.URL.Params))
	for k := range res.URL.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(w, "  param:    %s=%s\n", k, res.URL.Params[k])
	}
	if q := res.URL.Query.Encode(); q != "" {
		fmt.Fprintf(w, "  query:    %s\n", q)
	}

	fmt.Fprintln(w, TitleStyle.Render("Stack"))
	for i, m := range res.Stack {
		fmt.Fprintf(w, "  %d. %s %s\n", i+1, m.URL, SubtitleStyle.Render(build.HashPrefix(m.OutputHash)))
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
