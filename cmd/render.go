package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/services"
)

var renderCmd = &cobra.Command{
	Use:   "render <location>",
	Short: "Render one location",
	Long: `Build the project, resolve the location and render it through the
render cache. The document is written to stdout. An unmatched location
prints the 404 page; a failing render prints the error page and exits
non-zero.

Examples:
  pagegraph render /
  pagegraph render "/blog/hello?draft=1"
  pagegraph render /about -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var renderFlags *OutputFlags

func init() {
	rootCmd.AddCommand(renderCmd)
	renderFlags = AddOutputFlags(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	if err := renderFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	if _, err := p.Build(ctx, services.BuildOptions{}); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	result, renderErr := p.Render(ctx, args[0])
	if result == nil {
		return renderErr
	}

	err = renderFlags.Write(cmd.OutOrStdout(), result, func(w io.Writer) error {
		_, err := io.WriteString(w, result.Body)
		return err
	})
	if err != nil {
		return err
	}

	if renderErr != nil {
		return renderErr
	}
	if result.Status >= 400 {
		return fmt.Errorf("%s: status %d", args[0], result.Status)
	}
	return nil
}
