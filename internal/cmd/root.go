// Package cmd implements the overseer CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/overseer-cli/overseer/internal/client"
	"github.com/overseer-cli/overseer/internal/config"
)

var (
	flagConfig string
	flagServer string
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "Supervise AI coding CLI sessions against task documents",
	Long: `Overseer runs AI coding CLIs (Claude Code, Codex, Gemini) in real
terminal windows and supervises them against Markdown task documents.

Each task is a project directory plus a checklist document; overseer
spawns the CLI, tracks checkbox progress and context usage, restarts
exhausted sessions, and optionally hands finished work to a second CLI
for cross-review.

Start the daemon with 'overseer serve', then drive it with the task
commands or watch it live with 'overseer watch'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "daemon API base URL (default from config)")
}

// loadConfig resolves the host config for the current invocation.
func loadConfig() (config.Config, error) {
	return config.Load(flagConfig)
}

// apiClient builds a client for the daemon this invocation targets.
func apiClient() (*client.Client, error) {
	base := flagServer
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		base = "http://" + cfg.ListenAddr
	}
	return client.New(base), nil
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}
