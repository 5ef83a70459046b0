package terminal

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-cli/overseer/internal/util"
)

// kittySocketWait bounds how long Spawn waits for the control socket to
// appear before giving up on remote control (the window may still open).
const kittySocketWait = 2 * time.Second

// Kitty drives the kitty terminal through its remote-control socket.
// Every window gets its own socket so sessions never cross-talk.
type Kitty struct {
	path string
}

// NewKitty creates the adapter, resolving the kitty binary from the
// common install locations first, then PATH.
func NewKitty() *Kitty {
	return &Kitty{path: findKitty()}
}

var kittyInstallPaths = []string{
	"/Applications/kitty.app/Contents/MacOS/kitty",
	"/usr/local/bin/kitty",
	"/usr/bin/kitty",
}

func findKitty() string {
	for _, p := range kittyInstallPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		local := filepath.Join(home, ".local", "kitty.app", "bin", "kitty")
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}
	if p, err := exec.LookPath("kitty"); err == nil {
		return p
	}
	return ""
}

// kittenPath returns the kitten binary next to kitty, used for remote
// control commands.
func (k *Kitty) kittenPath() string {
	if k.path != "" {
		sibling := filepath.Join(filepath.Dir(k.path), "kitten")
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}
	if p, err := exec.LookPath("kitten"); err == nil {
		return p
	}
	return "kitten"
}

func (k *Kitty) Kind() Kind   { return KindKitty }
func (k *Kitty) Name() string { return "Kitty" }

func (k *Kitty) Available() bool {
	return k.path != ""
}

func (k *Kitty) Spawn(dir string, argv []string) (*Handle, error) {
	if k.path == "" {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, ErrNotInstalled)
	}

	id := uuid.NewString()[:8]
	socketPath := filepath.Join(os.TempDir(), "overseer-kitty-"+id)

	// Keep the shell alive after the CLI exits so the operator can
	// inspect the window before it is reaped.
	line := ShellLine(argv) + `; exec "$SHELL"`

	cmd := exec.Command(k.path,
		"--listen-on", "unix:"+socketPath,
		"--directory", dir,
		"-o", "allow_remote_control=socket-only",
		"-e", "/bin/sh", "-c", line,
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting kitty: %w", ErrSpawnFailed, err)
	}
	// Detach: the window outlives us and is reaped through the socket.
	go func() { _ = cmd.Wait() }()

	// Wait for the control socket so IsAlive and Close work immediately.
	deadline := time.Now().Add(kittySocketWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	return &Handle{
		Kind:       KindKitty,
		ID:         id,
		PID:        cmd.Process.Pid,
		SocketPath: socketPath,
	}, nil
}

func (k *Kitty) IsAlive(h *Handle) Liveness {
	if h == nil || h.SocketPath == "" {
		return LivenessUnknown
	}
	if _, err := os.Stat(h.SocketPath); err != nil {
		// Kitty removes its socket on exit.
		return LivenessDead
	}
	if h.PID > 0 && !util.ProcessExists(h.PID) {
		return LivenessDead
	}
	return LivenessAlive
}

func (k *Kitty) Close(h *Handle) error {
	if h == nil || h.SocketPath == "" {
		return nil
	}
	if _, err := os.Stat(h.SocketPath); err != nil {
		// Socket already gone: window is closed, nothing to do.
		return nil
	}

	cmd := exec.Command(k.kittenPath(), "@", "--to", "unix:"+h.SocketPath, "close-window")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// The window may have died between the stat and the command.
		if _, statErr := os.Stat(h.SocketPath); statErr != nil {
			return nil
		}
		return fmt.Errorf("kitty close-window: %s", firstLine(stderr.String(), err))
	}
	_ = os.Remove(h.SocketPath)
	return nil
}

// SendText types text into the window through the control socket,
// followed by Enter when pressEnter is set. Used to inject resume
// prompts into a live session.
func (k *Kitty) SendText(h *Handle, text string, pressEnter bool) error {
	if h == nil || h.SocketPath == "" {
		return fmt.Errorf("no control socket for window")
	}
	kitten := k.kittenPath()

	send := exec.Command(kitten, "@", "--to", "unix:"+h.SocketPath, "send-text", "--", text)
	var stderr bytes.Buffer
	send.Stderr = &stderr
	if err := send.Run(); err != nil {
		return fmt.Errorf("kitty send-text: %s", firstLine(stderr.String(), err))
	}

	if pressEnter {
		enter := exec.Command(kitten, "@", "--to", "unix:"+h.SocketPath, "send-key", "Enter")
		if err := enter.Run(); err != nil {
			return fmt.Errorf("kitty send-key: %w", err)
		}
	}
	return nil
}

// CaptureTail returns the last lines of the window's screen via
// kitten @ get-text. Feeds the context parser and idle detection.
func (k *Kitty) CaptureTail(h *Handle) (string, error) {
	if h == nil || h.SocketPath == "" {
		return "", fmt.Errorf("no control socket for window")
	}
	cmd := exec.Command(k.kittenPath(), "@", "--to", "unix:"+h.SocketPath, "get-text")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("kitty get-text: %w", err)
	}
	return string(out), nil
}

func firstLine(stderr string, fallback error) string {
	for _, line := range bytes.Split([]byte(stderr), []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			return string(bytes.TrimSpace(line))
		}
	}
	return fallback.Error()
}
