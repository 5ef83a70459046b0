package terminal

import (
	"fmt"
	"os/exec"

	"github.com/google/uuid"

	"github.com/overseer-cli/overseer/internal/util"
)

// WindowsTerminal drives wt.exe. Windows Terminal has no remote-control
// protocol, so the only identity we hold is the launcher pid, and
// liveness degrades to Unknown once that pid is gone (wt.exe hands the
// window to an existing instance and exits).
type WindowsTerminal struct{}

// NewWindowsTerminal creates the adapter.
func NewWindowsTerminal() *WindowsTerminal {
	return &WindowsTerminal{}
}

func (w *WindowsTerminal) Kind() Kind   { return KindWindowsTerminal }
func (w *WindowsTerminal) Name() string { return "Windows Terminal" }

func (w *WindowsTerminal) Available() bool {
	_, err := exec.LookPath("wt.exe")
	return err == nil
}

func (w *WindowsTerminal) Spawn(dir string, argv []string) (*Handle, error) {
	if !w.Available() {
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, ErrNotInstalled)
	}

	cmd := exec.Command("wt.exe",
		"-d", dir,
		"powershell.exe", "-NoExit", "-Command", ShellLine(argv),
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting wt.exe: %w", ErrSpawnFailed, err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()

	return &Handle{
		Kind: KindWindowsTerminal,
		ID:   uuid.NewString()[:8],
		PID:  pid,
	}, nil
}

func (w *WindowsTerminal) IsAlive(h *Handle) Liveness {
	if h == nil || h.PID <= 0 {
		return LivenessUnknown
	}
	if util.ProcessExists(h.PID) {
		return LivenessAlive
	}
	// The launcher exits after handing the tab to a running instance,
	// so a dead pid does not mean the window is gone.
	return LivenessUnknown
}

func (w *WindowsTerminal) Close(h *Handle) error {
	if h == nil || h.PID <= 0 {
		return nil
	}
	util.TerminateProcess(h.PID)
	return nil
}
