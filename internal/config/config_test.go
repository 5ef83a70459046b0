package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "127.0.0.1:8420" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.CallbackBaseURL != "http://127.0.0.1:8420" {
		t.Errorf("CallbackBaseURL = %q", cfg.CallbackBaseURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
listen_addr = "127.0.0.1:9999"
state_dir = "/var/lib/overseer"
log_level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.CallbackBaseURL != "http://127.0.0.1:9999" {
		t.Errorf("derived CallbackBaseURL = %q", cfg.CallbackBaseURL)
	}
	if got := cfg.DatabasePath(); got != "/var/lib/overseer/overseer.db" {
		t.Errorf("DatabasePath = %q", got)
	}
	if got := cfg.LockPath(); got != "/var/lib/overseer/overseer.lock" {
		t.Errorf("LockPath = %q", got)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `listen_adr = "127.0.0.1:1"`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown key") {
		t.Errorf("err = %v, want unknown key error", err)
	}
}

func TestLoadRejectsBadListenAddr(t *testing.T) {
	path := writeConfig(t, `listen_addr = "no-port-here"`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for address without port")
	}
}

func TestExplicitCallbackURLKept(t *testing.T) {
	path := writeConfig(t, `callback_base_url = "http://10.0.0.5:8420"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CallbackBaseURL != "http://10.0.0.5:8420" {
		t.Errorf("CallbackBaseURL = %q", cfg.CallbackBaseURL)
	}
}
