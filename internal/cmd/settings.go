package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/overseer-cli/overseer/internal/settings"
	"github.com/overseer-cli/overseer/internal/style"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change daemon settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Change one runtime setting. Keys:

  terminal                 auto, kitty, iterm, windows_terminal
  default_cli              claude_code, codex, gemini
  review_enabled           true, false
  review_cli               claude_code, codex, gemini
  max_concurrent_sessions  positive integer
  language                 en, zh

Changes take effect immediately and persist across daemon restarts.`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	snap, err := c.Settings(cmd.Context())
	if err != nil {
		return err
	}
	printSettings(snap)
	return nil
}

func printSettings(snap settings.Snapshot) {
	tbl := style.NewTable(
		style.Column{Name: "KEY", Width: 26},
		style.Column{Name: "VALUE", Width: 20},
	)
	tbl.AddRow("terminal", string(snap.Terminal))
	tbl.AddRow("default_cli", string(snap.DefaultCLI))
	tbl.AddRow("review_enabled", strconv.FormatBool(snap.ReviewEnabled))
	tbl.AddRow("review_cli", string(snap.ReviewCLI))
	tbl.AddRow("max_concurrent_sessions", strconv.Itoa(snap.MaxConcurrent))
	tbl.AddRow("language", snap.Language)
	fmt.Print(tbl.Render())
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	var value any = raw
	switch key {
	case "review_enabled":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s wants true or false, got %q", key, raw)
		}
		value = b
	case "max_concurrent_sessions":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s wants an integer, got %q", key, raw)
		}
		value = n
	case "terminal", "default_cli", "review_cli", "language":
	default:
		return fmt.Errorf("unknown setting %q", key)
	}

	c, err := apiClient()
	if err != nil {
		return err
	}
	snap, err := c.UpdateSettings(cmd.Context(), map[string]any{key: value})
	if err != nil {
		return err
	}
	fmt.Println(style.OK(key + " updated"))
	printSettings(snap)
	return nil
}
