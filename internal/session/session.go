// Package session is the admission-control and lifecycle authority.
// It owns the registry of live sessions, the FIFO waiting queue, the
// per-session monitor goroutines, and every adapter handle.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/overseer-cli/overseer/internal/cliadapter"
	"github.com/overseer-cli/overseer/internal/quota"
	"github.com/overseer-cli/overseer/internal/terminal"
)

// Phase is the session's run phase.
type Phase int32

const (
	PhaseRunning Phase = iota
	PhasePaused
	PhaseStopping
)

// Session is one live supervised execution of one task. Sessions are
// purely in-memory; they never persist.
type Session struct {
	TaskID    string
	Epoch     uint64 // increments on every (re)spawn of this task
	Reviewing bool   // true when this is the cross-review pass

	CLI     cliadapter.Adapter
	Term    terminal.Adapter
	Handle  *terminal.Handle
	Tracker *quota.Tracker

	StartedAt  time.Time
	promptFile string

	phase        atomic.Int32
	lastActivity atomic.Int64 // unix nanos of last observed output change
	idle         atomic.Bool
	nudged       atomic.Bool // status-check prompt injected once per session

	stop     chan struct{}
	stopOnce sync.Once
}

// sessionStartTime stamps new sessions; swapped in tests to age a
// session past the minimum-run guard.
var sessionStartTime = time.Now

func newSession(taskID string, epoch uint64, reviewing bool, cli cliadapter.Adapter, term terminal.Adapter, h *terminal.Handle, promptFile string) *Session {
	start := sessionStartTime()
	s := &Session{
		TaskID:     taskID,
		Epoch:      epoch,
		Reviewing:  reviewing,
		CLI:        cli,
		Term:       term,
		Handle:     h,
		Tracker:    quota.NewTrackerAt(start),
		StartedAt:  start,
		promptFile: promptFile,
		stop:       make(chan struct{}),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Phase returns the current run phase.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *Session) setPhase(p Phase) {
	s.phase.Store(int32(p))
}

// LastActivity returns when terminal output last changed.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Idle reports whether the CLI is sitting at its idle prompt.
func (s *Session) Idle() bool {
	return s.idle.Load()
}

// PID returns the OS pid the terminal exposed, 0 when hidden.
func (s *Session) PID() int {
	if s.Handle == nil {
		return 0
	}
	return s.Handle.PID
}

// signalStop tells the monitor goroutine to exit. Idempotent.
func (s *Session) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Info is the wire-facing snapshot of one session.
type Info struct {
	TaskID       string    `json:"task_id"`
	Status       string    `json:"status"`
	CLI          string    `json:"cli_type"`
	Terminal     string    `json:"terminal"`
	PID          int       `json:"pid,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	ContextLeft  int       `json:"context_usage"`
	Reviewing    bool      `json:"reviewing"`
	Epoch        uint64    `json:"session_counter"`
	LastActivity time.Time `json:"last_activity"`
}

// Snapshot is the full registry view pushed to subscribers and served
// by the sessions endpoint.
type Snapshot struct {
	Sessions       []Info `json:"sessions"`
	Active         int    `json:"count"`
	MaxConcurrent  int    `json:"max_concurrent"`
	AvailableSlots int    `json:"available_slots"`
	Queued         []string `json:"queued,omitempty"`
}

// Probe is the watchdog's read-only view of one live session.
type Probe struct {
	TaskID       string
	Epoch        uint64
	PID          int
	StartedAt    time.Time
	LastActivity time.Time
	Idle         bool
	Paused       bool
	IsAlive      func() terminal.Liveness
}
