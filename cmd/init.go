package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/services"
)

var initCmd = &cobra.Command{
	Use:     "init [directory]",
	Aliases: []string{"i"},
	Short:   "Write a starter project",
	Long: `Write .pagegraph.yml, an import map and a few example pages. Existing
files are left alone unless --force is given.

Examples:
  pagegraph init                  # Initialize the current directory
  pagegraph init my-site          # Create and initialize my-site
  pagegraph init --minimal        # Config and import map only`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initMinimal bool
	initForce   bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Skip the example pages")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	written, err := services.Init(services.InitOptions{
		ProjectDir: dir,
		Minimal:    initMinimal,
		Force:      initForce,
	})
	if err != nil {
		return fmt.Errorf("init failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(written) == 0 {
		fmt.Fprintln(out, SubtitleStyle.Render("Nothing to do, every file already exists (use --force to overwrite)"))
		return nil
	}
	for _, name := range written {
		fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render("created"), name)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, TitleStyle.Render("Next: ")+"pagegraph build --root "+dir)
	return nil
}
