package cmd

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/overseer-cli/overseer/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of sessions and task activity",
	Long: `Open a live terminal dashboard fed by the daemon's websocket event
stream: the session registry, context usage, and a scrolling activity
feed.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	events, err := c.WatchEvents(ctx)
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.NewModel(c, events), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
