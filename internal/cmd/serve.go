package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/overseer-cli/overseer/internal/broadcast"
	"github.com/overseer-cli/overseer/internal/notify"
	"github.com/overseer-cli/overseer/internal/progress"
	"github.com/overseer-cli/overseer/internal/server"
	"github.com/overseer-cli/overseer/internal/session"
	"github.com/overseer-cli/overseer/internal/settings"
	"github.com/overseer-cli/overseer/internal/store"
	"github.com/overseer-cli/overseer/internal/templates"
	"github.com/overseer-cli/overseer/internal/watchdog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the overseer daemon",
	Long: `Run the overseer daemon in the foreground.

The daemon owns the session registry: it spawns CLI sessions in
terminal windows, supervises them, and serves the HTTP API and
websocket event feed. Only one daemon runs per state directory; a
second invocation exits immediately.

On shutdown the daemon leaves running sessions alone and re-attaches
to them on the next start; sessions whose windows died in the gap are
marked failed.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureStateDir(); err != nil {
		return err
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "overseer",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	// Single-instance guard: two daemons sharing one database would
	// double-spawn every task.
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another overseer daemon is already running (lock %s)", cfg.LockPath())
	}
	defer lock.Unlock()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.LoadSettings()
	if err != nil {
		return err
	}
	settingsStore := settings.NewStore(snap, st)

	tmpl, err := templates.New()
	if err != nil {
		return err
	}

	bc := broadcast.New(logger)
	defer bc.Close()

	mgr := session.NewManager(session.Config{
		Settings:        settingsStore,
		Store:           st,
		Broadcaster:     bc,
		Notifier:        notify.New(logger),
		Templates:       tmpl,
		Inspector:       progress.NewInspector(),
		Logger:          logger,
		PromptDir:       cfg.PromptDir,
		CallbackBaseURL: cfg.CallbackBaseURL,
	})
	if err := mgr.Recover(); err != nil {
		return fmt.Errorf("recovering sessions: %w", err)
	}

	wd := watchdog.New(mgr, settingsStore, logger)
	go wd.Run()

	srv := server.New(server.Config{
		Orchestrator: mgr,
		Registry:     st,
		Settings:     settingsStore,
		Broadcaster:  bc,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("daemon starting", "addr", cfg.ListenAddr, "db", cfg.DatabasePath())
	err = srv.Run(ctx, cfg.ListenAddr)

	// Leave the windows running; the next daemon re-attaches.
	wd.Stop()
	mgr.Shutdown()
	logger.Info("daemon stopped")
	return err
}
