// Package config loads the daemon's host configuration from a TOML
// file. Host config is the immutable half of configuration: where to
// listen, where state lives. The mutable half (CLI choice, concurrency,
// language) lives in the settings store and changes at runtime.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/overseer-cli/overseer/internal/util"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "~/.overseer/config.toml"

// Config is the daemon's host configuration.
type Config struct {
	// ListenAddr is the API bind address. Loopback by default: the
	// daemon trusts its callers.
	ListenAddr string `toml:"listen_addr"`

	// StateDir holds the SQLite database and the instance lock.
	StateDir string `toml:"state_dir"`

	// PromptDir is where scratch prompt files are written. Empty means
	// the OS temp directory.
	PromptDir string `toml:"prompt_dir"`

	// CallbackBaseURL is the URL CLIs post notify-status to. Empty
	// derives it from ListenAddr.
	CallbackBaseURL string `toml:"callback_base_url"`

	// LogLevel is the hclog level name (trace, debug, info, warn, error).
	LogLevel string `toml:"log_level"`
}

// Default returns the out-of-the-box host config.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:8420",
		StateDir:   "~/.overseer",
		LogLevel:   "info",
	}
}

// Load reads the config at path, or defaults when the file does not
// exist. An empty path means DefaultPath. Unknown keys are an error so
// typos do not silently fall back to defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	path = util.ExpandHome(path)

	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg.normalize()
		}
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg.normalize()
}

// normalize expands paths, fills derived fields, and validates.
func (c Config) normalize() (Config, error) {
	if c.ListenAddr == "" {
		c.ListenAddr = Default().ListenAddr
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return Config{}, fmt.Errorf("listen_addr %q: %w", c.ListenAddr, err)
	}
	if c.StateDir == "" {
		c.StateDir = Default().StateDir
	}
	c.StateDir = util.ExpandHome(c.StateDir)
	if c.PromptDir != "" {
		c.PromptDir = util.ExpandHome(c.PromptDir)
	}
	if c.CallbackBaseURL == "" {
		c.CallbackBaseURL = "http://" + c.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = Default().LogLevel
	}
	return c, nil
}

// DatabasePath returns the SQLite file under the state dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "overseer.db")
}

// LockPath returns the single-instance lock file under the state dir.
func (c Config) LockPath() string {
	return filepath.Join(c.StateDir, "overseer.lock")
}

// EnsureStateDir creates the state dir if needed.
func (c Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.StateDir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	return nil
}
