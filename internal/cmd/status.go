package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseer-cli/overseer/internal/style"
	"github.com/overseer-cli/overseer/internal/task"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, session, and queue status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	if err := c.Health(cmd.Context()); err != nil {
		fmt.Println(style.Fail("daemon not running"))
		return err
	}

	snap, err := c.Sessions(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(style.Title.Render("overseer") +
		style.Dim.Render(fmt.Sprintf("  %d/%d sessions, %d free", snap.Active, snap.MaxConcurrent, snap.AvailableSlots)))
	fmt.Println()

	if len(snap.Sessions) == 0 {
		fmt.Println("  No live sessions.")
	} else {
		tbl := style.NewTable(
			style.Column{Name: "TASK", Width: 36},
			style.Column{Name: "STATUS", Width: 14},
			style.Column{Name: "CLI", Width: 12},
			style.Column{Name: "TERMINAL", Width: 16},
			style.Column{Name: "PID", Width: 7, Right: true},
			style.Column{Name: "CTX", Width: 5, Right: true},
		)
		for _, s := range snap.Sessions {
			tbl.AddRow(s.TaskID, style.Status(task.Status(s.Status)), s.CLI,
				s.Terminal, fmt.Sprint(s.PID), style.ContextPercent(s.ContextLeft))
		}
		fmt.Print(tbl.Render())
	}

	if len(snap.Queued) > 0 {
		fmt.Println()
		fmt.Println(style.Bold.Render("  Queued:"))
		for i, id := range snap.Queued {
			fmt.Printf("    %d. %s\n", i+1, id)
		}
	}
	return nil
}
