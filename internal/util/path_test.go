package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/", home},
		{"~/.overseer", filepath.Join(home, ".overseer")},
		{"~/.overseer/overseer.db", filepath.Join(home, ".overseer", "overseer.db")},
		{"/etc/overseer/config.toml", "/etc/overseer/config.toml"},
		{"relative/path", "relative/path"},
		// Only the current user's home expands.
		{"~other/.config", "~other/.config"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
