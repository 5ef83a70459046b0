package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/overseer-cli/overseer/internal/client"
	"github.com/overseer-cli/overseer/internal/style"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	RunE:  requireSubcommand,
}

var (
	flagTaskTitle    string
	flagTaskCLI      string
	flagTaskReview   string
	flagTaskCallback string
	flagLogLimit     int
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <project-dir> <doc-path>",
	Short: "Create a task from a project directory and its checklist document",
	Long: `Create a task. The document path is relative to the project
directory and must contain Markdown checkboxes; unchecked boxes are the
remaining work.

Examples:
  overseer task create ~/src/parser TODO.md
  overseer task create ~/src/parser docs/plan.md --cli codex --review on`,
	Args: cobra.ExactArgs(2),
	RunE: runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start a pending task (or queue it when all slots are busy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

var taskStopCmd = &cobra.Command{
	Use:   "stop <task-id>",
	Short: "Stop a task's session",
	Long: `Stop a task's session. A working task returns to pending; a task
under review is marked completed, since the primary work is already
done.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskStop,
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause <task-id>",
	Short: "Pause a task, freeing its slot without changing its status",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskPause,
}

var taskRestartCmd = &cobra.Command{
	Use:   "restart <task-id>",
	Short: "Restart a task's session with a fresh context",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRestart,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task record (stop it first if live)",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

var taskLogsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Show a task's activity log",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskLogs,
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every live session",
	Args:  cobra.NoArgs,
	RunE:  runStopAll,
}

func init() {
	taskCreateCmd.Flags().StringVar(&flagTaskTitle, "title", "", "task title (default: project directory name)")
	taskCreateCmd.Flags().StringVar(&flagTaskCLI, "cli", "", "CLI for this task: claude_code, codex, gemini (default: global setting)")
	taskCreateCmd.Flags().StringVar(&flagTaskReview, "review", "", "cross-review override: on, off (default: inherit)")
	taskCreateCmd.Flags().StringVar(&flagTaskCallback, "callback", "", "URL notified on terminal status changes")
	taskLogsCmd.Flags().IntVar(&flagLogLimit, "limit", 50, "max log lines")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskStartCmd, taskStopCmd,
		taskPauseCmd, taskRestartCmd, taskDeleteCmd, taskLogsCmd)
	rootCmd.AddCommand(taskCmd, stopAllCmd)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	projectDir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	title := flagTaskTitle
	if title == "" {
		title = filepath.Base(projectDir)
	}

	c, err := apiClient()
	if err != nil {
		return err
	}
	t, err := c.CreateTask(cmd.Context(), client.CreateTaskRequest{
		Title:       title,
		ProjectDir:  projectDir,
		DocPath:     args[1],
		CLIType:     flagTaskCLI,
		Review:      flagTaskReview,
		CallbackURL: flagTaskCallback,
	})
	if err != nil {
		return err
	}
	fmt.Println(style.OK("created " + t.ID))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	tasks, err := c.ListTasks(cmd.Context())
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	// Give whatever width the terminal has beyond the fixed columns to
	// the title.
	titleWidth := style.TermWidth(120) - (36 + 14 + 12 + 16 + 6)
	if titleWidth < 12 {
		titleWidth = 12
	}
	tbl := style.NewTable(
		style.Column{Name: "ID", Width: 36},
		style.Column{Name: "TITLE", Width: titleWidth},
		style.Column{Name: "STATUS", Width: 14},
		style.Column{Name: "CLI", Width: 12},
		style.Column{Name: "UPDATED", Width: 16},
	)
	for _, t := range tasks {
		tbl.AddRow(t.ID, t.Title, style.Status(t.Status), string(t.CLIType),
			t.UpdatedAt.Local().Format("Jan 02 15:04"))
	}
	fmt.Print(tbl.Render())
	return nil
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	res, err := c.StartTask(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if res.Queued {
		fmt.Println(style.OK(fmt.Sprintf("queued at position %d", res.Position)))
		return nil
	}
	fmt.Println(style.OK("started"))
	return nil
}

func runTaskStop(cmd *cobra.Command, args []string) error {
	return simpleAction(cmd.Context(), args[0], "stopped", (*client.Client).StopTask)
}

func runTaskPause(cmd *cobra.Command, args []string) error {
	return simpleAction(cmd.Context(), args[0], "paused", (*client.Client).PauseTask)
}

func runTaskRestart(cmd *cobra.Command, args []string) error {
	return simpleAction(cmd.Context(), args[0], "restarted", (*client.Client).RestartTask)
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	return simpleAction(cmd.Context(), args[0], "deleted", (*client.Client).DeleteTask)
}

func simpleAction(ctx context.Context, id, verb string, fn func(*client.Client, context.Context, string) error) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	if err := fn(c, ctx, id); err != nil {
		return err
	}
	fmt.Println(style.OK(verb))
	return nil
}

func runTaskLogs(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	logs, err := c.TaskLogs(cmd.Context(), args[0], flagLogLimit)
	if err != nil {
		return err
	}
	for _, e := range logs {
		stamp := style.Dim.Render(e.CreatedAt.Local().Format(time.TimeOnly))
		fmt.Printf("%s [%s] %s\n", stamp, e.Level, e.Message)
	}
	return nil
}

func runStopAll(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	if err := c.StopAll(cmd.Context()); err != nil {
		return err
	}
	fmt.Println(style.OK("all sessions stopped"))
	return nil
}
