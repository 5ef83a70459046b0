// Package terminal abstracts the supported terminal emulators.
//
// Each adapter can open a window running a command line in a working
// directory, answer a three-valued liveness question about that window,
// and close it best-effort. Emulators differ wildly in how much they
// expose: kitty has a control socket, iTerm speaks AppleScript, and
// Windows Terminal exposes almost nothing, so Unknown is a legal and
// honest liveness answer.
package terminal

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Common errors
var (
	ErrNotInstalled = errors.New("terminal emulator not installed")
	ErrSpawnFailed  = errors.New("terminal spawn failed")
	ErrUnknownKind  = errors.New("unknown terminal kind")
)

// Kind identifies a supported terminal emulator.
type Kind string

const (
	KindAuto            Kind = "auto"
	KindKitty           Kind = "kitty"
	KindITerm           Kind = "iterm"
	KindWindowsTerminal Kind = "windows_terminal"
)

// Liveness is the three-valued answer to "is this window still running?".
type Liveness int

const (
	// LivenessUnknown means the emulator has no introspection for this
	// window. Callers fall back to pid probes or heartbeat timeouts.
	LivenessUnknown Liveness = iota
	LivenessAlive
	LivenessDead
)

func (l Liveness) String() string {
	switch l {
	case LivenessAlive:
		return "alive"
	case LivenessDead:
		return "dead"
	}
	return "unknown"
}

// Handle carries whatever identifiers the emulator exposes for a
// spawned window. Fields are zero when the emulator hides them.
type Handle struct {
	Kind       Kind   `json:"kind"`
	ID         string `json:"id"`                    // adapter-assigned, unique per spawn
	WindowID   string `json:"window_id,omitempty"`   // emulator window identifier
	PID        int    `json:"pid,omitempty"`         // OS process id, 0 when hidden
	SocketPath string `json:"socket_path,omitempty"` // kitty control socket
}

// Adapter is the per-emulator capability set.
type Adapter interface {
	// Kind returns the adapter's emulator kind.
	Kind() Kind

	// Name returns the human-readable emulator name.
	Name() string

	// Available reports whether the emulator is installed and controllable.
	Available() bool

	// Spawn opens a new window in dir running the argv joined as a shell
	// line. Returns ErrSpawnFailed (possibly wrapping ErrNotInstalled)
	// when the window cannot be opened.
	Spawn(dir string, argv []string) (*Handle, error)

	// IsAlive answers the three-valued liveness question for a handle.
	IsAlive(h *Handle) Liveness

	// Close shuts the window best-effort. Idempotent: closing a dead or
	// already-closed window returns nil.
	Close(h *Handle) error
}

// ForKind returns the adapter for an emulator kind. KindAuto and the
// empty string select by platform.
func ForKind(kind Kind) (Adapter, error) {
	switch kind {
	case KindKitty:
		return NewKitty(), nil
	case KindITerm:
		return NewITerm(), nil
	case KindWindowsTerminal:
		return NewWindowsTerminal(), nil
	case KindAuto, "":
		return Detect()
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Detect picks the preferred installed emulator for the platform:
// kitty then iTerm on macOS, kitty on Linux, Windows Terminal on Windows.
func Detect() (Adapter, error) {
	var candidates []Adapter
	switch runtime.GOOS {
	case "darwin":
		candidates = []Adapter{NewKitty(), NewITerm()}
	case "windows":
		candidates = []Adapter{NewWindowsTerminal()}
	default:
		candidates = []Adapter{NewKitty()}
	}
	for _, a := range candidates {
		if a.Available() {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: no supported terminal for %s", ErrNotInstalled, runtime.GOOS)
}

// Supported lists the emulator kinds meaningful on this platform,
// always starting with auto.
func Supported() []Kind {
	switch runtime.GOOS {
	case "darwin":
		return []Kind{KindAuto, KindKitty, KindITerm}
	case "windows":
		return []Kind{KindAuto, KindWindowsTerminal}
	default:
		return []Kind{KindAuto, KindKitty}
	}
}

// ShellLine joins a launch argv into a single shell command line.
// Elements are trusted: adapters already quote anything user-controlled.
func ShellLine(argv []string) string {
	return strings.Join(argv, " ")
}
