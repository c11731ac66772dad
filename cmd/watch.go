package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/pagegraph/internal/types"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Build, then rebuild incrementally as files change",
	Long: `Build the project, then watch the project root. Each settled change
recompiles the changed module, cascades its new hash to every importer,
refreshes the affected routes and evicts their cached renders.

Failures are logged and the last good state keeps serving. Modules
entering (+) and leaving (-) the graph are printed as they happen.

Examples:
  pagegraph watch
  pagegraph watch --log-level debug`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(cmd.OutOrStdout(), TitleStyle.Render("Watching "+p.Config().Project.Root)+
		SubtitleStyle.Render(" (Ctrl+C to stop)"))

	reg := p.Registry()
	events := reg.Watch()
	printed := printModuleEvents(cmd.OutOrStdout(), events)

	err = p.Watch(ctx)
	reg.UnWatch(events)
	<-printed
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), SubtitleStyle.Render("Stopped"))
	return nil
}

// printModuleEvents prints modules added to and removed from the graph
// until events is closed. The returned channel closes when it stops.
func printModuleEvents(w io.Writer, events <-chan types.ModuleEvent) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range events {
			switch event.Type {
			case types.EventTypeAdded:
				fmt.Fprintln(w, SuccessStyle.Render("+")+" "+PathStyle.Render(event.URL))
			case types.EventTypeRemoved:
				fmt.Fprintln(w, ErrorStyle.Render("-")+" "+PathStyle.Render(event.URL))
			}
		}
	}()
	return done
}
