package terminal

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/google/uuid"
)

// ITerm drives iTerm2 through AppleScript. iTerm exposes window ids but
// not the child process, so liveness is answered by asking for the
// window and pid stays zero.
type ITerm struct{}

// NewITerm creates the adapter.
func NewITerm() *ITerm {
	return &ITerm{}
}

func (i *ITerm) Kind() Kind   { return KindITerm }
func (i *ITerm) Name() string { return "iTerm" }

func (i *ITerm) Available() bool {
	_, err := os.Stat("/Applications/iTerm.app")
	return err == nil
}

func (i *ITerm) Spawn(dir string, argv []string) (*Handle, error) {
	if !i.Available() {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, ErrNotInstalled)
	}

	line := fmt.Sprintf("cd %s && %s", appleScriptQuote(dir), ShellLine(argv))
	script := fmt.Sprintf(`
tell application "iTerm"
	set newWindow to (create window with default profile)
	tell current session of newWindow
		write text "%s"
	end tell
	return (id of newWindow)
end tell`, escapeAppleScript(line))

	cmd := exec.Command("osascript", "-e", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%w: osascript: %s", ErrSpawnFailed, msg)
	}

	windowID := strings.TrimSpace(stdout.String())
	if windowID == "" {
		return nil, fmt.Errorf("%w: iTerm returned no window id", ErrSpawnFailed)
	}

	return &Handle{
		Kind:     KindITerm,
		ID:       uuid.NewString()[:8],
		WindowID: windowID,
	}, nil
}

func (i *ITerm) IsAlive(h *Handle) Liveness {
	if h == nil || h.WindowID == "" {
		return LivenessUnknown
	}
	script := fmt.Sprintf(`
tell application "iTerm"
	repeat with w in windows
		if (id of w as string) is "%s" then return "alive"
	end repeat
	return "dead"
end tell`, escapeAppleScript(h.WindowID))

	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		// iTerm not scriptable right now; do not guess.
		return LivenessUnknown
	}
	if strings.TrimSpace(string(out)) == "alive" {
		return LivenessAlive
	}
	return LivenessDead
}

func (i *ITerm) Close(h *Handle) error {
	if h == nil || h.WindowID == "" {
		return nil
	}
	script := fmt.Sprintf(`
tell application "iTerm"
	repeat with w in windows
		if (id of w as string) is "%s" then close w
	end repeat
end tell`, escapeAppleScript(h.WindowID))

	// Closing a window that is already gone is a no-op in the script,
	// so errors here mean osascript itself failed.
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		return fmt.Errorf("iTerm close: %w", err)
	}
	return nil
}

func appleScriptQuote(s string) string {
	return `\"` + escapeAppleScript(s) + `\"`
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
