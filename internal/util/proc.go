package util

import (
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
)

// ProcessExists reports whether a process with the given pid is running.
// Uses signal 0, which checks existence without touching the process.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if runtime.GOOS == "windows" {
		// FindProcess only succeeds for live processes on Windows.
		return true
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// ProcessStartTime returns the start time of a process via ps(1).
// Works on Linux and macOS; on Windows or minimal containers without ps
// the call fails and callers degrade to pid-only tracking.
func ProcessStartTime(pid int) (string, error) {
	cmd := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid))
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// TerminateProcess sends SIGTERM to a pid. Best-effort: a dead or
// unknown pid is not an error.
func TerminateProcess(pid int) {
	if pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
}
