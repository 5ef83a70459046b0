// Package watchdog runs the supervisory sweep over live sessions. It
// turns terminal liveness, pid probes, heartbeat age, and idle
// signatures into at most one verdict per session per sweep and hands
// the verdict to the session manager. It never fails a sweep: one bad
// session must not halt supervision of the rest.
package watchdog

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/overseer-cli/overseer/internal/session"
	"github.com/overseer-cli/overseer/internal/settings"
	"github.com/overseer-cli/overseer/internal/terminal"
	"github.com/overseer-cli/overseer/internal/util"
)

// Supervisor is the manager surface the watchdog drives.
type Supervisor interface {
	Probes() []session.Probe
	HandleDead(taskID string, epoch uint64)
	HandleIdle(taskID string, epoch uint64)
}

// Verdict is the outcome of examining one session.
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictDead
	VerdictIdle
)

func (v Verdict) String() string {
	switch v {
	case VerdictDead:
		return "dead"
	case VerdictIdle:
		return "idle"
	}
	return "none"
}

// Watchdog sweeps on the settings-configured interval.
type Watchdog struct {
	sup      Supervisor
	settings *settings.Store
	logger   hclog.Logger

	probePID func(int) bool // injectable for tests

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a watchdog. Call Run to start sweeping.
func New(sup Supervisor, st *settings.Store, logger hclog.Logger) *Watchdog {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Watchdog{
		sup:      sup,
		settings: st,
		logger:   logger.Named("watchdog"),
		probePID: util.ProcessExists,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run sweeps until Stop. Blocks; callers run it on its own goroutine.
func (w *Watchdog) Run() {
	defer close(w.done)

	for {
		interval := w.settings.Current().SweepInterval
		select {
		case <-w.stop:
			return
		case <-time.After(interval):
		}
		w.Sweep()
	}
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// Sweep examines every session once. Exported so tests and the status
// command can force a pass.
func (w *Watchdog) Sweep() {
	snap := w.settings.Current()
	now := time.Now()
	for _, p := range w.sup.Probes() {
		w.examineOne(p, now, snap)
	}
}

// examineOne isolates each session's examination so a panicking probe
// cannot take the rest of the sweep down with it.
func (w *Watchdog) examineOne(p session.Probe, now time.Time, snap settings.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("probe panicked, will retry next tick", "task", p.TaskID, "panic", r)
		}
	}()

	switch Examine(p, now, snap.HeartbeatTimeout, snap.SweepInterval, w.probePID) {
	case VerdictDead:
		w.logger.Warn("session dead", "task", p.TaskID, "epoch", p.Epoch)
		w.sup.HandleDead(p.TaskID, p.Epoch)
	case VerdictIdle:
		w.logger.Warn("session idle-locked", "task", p.TaskID, "epoch", p.Epoch)
		w.sup.HandleIdle(p.TaskID, p.Epoch)
	}
}

// Examine computes the coalesced verdict for one probe. Death always
// wins over idleness.
//
// Liveness resolution order: the terminal's three-valued answer; on
// Unknown a pid probe if a pid is recorded; failing that, the
// heartbeat — no observed activity for heartbeatTimeout means dead.
//
// Idle-lockup needs the idle signature to have persisted through at
// least one full sweep with no output change, so a CLI pausing at its
// prompt between tool calls is not condemned.
func Examine(p session.Probe, now time.Time, heartbeatTimeout, sweepInterval time.Duration, probePID func(int) bool) Verdict {
	if p.Paused {
		return VerdictNone
	}

	alive := p.IsAlive()
	if alive == terminal.LivenessUnknown {
		switch {
		case p.PID > 0:
			if probePID(p.PID) {
				alive = terminal.LivenessAlive
			} else {
				alive = terminal.LivenessDead
			}
		case now.Sub(p.LastActivity) >= heartbeatTimeout:
			alive = terminal.LivenessDead
		}
	}
	if alive == terminal.LivenessDead {
		return VerdictDead
	}

	if p.Idle && now.Sub(p.LastActivity) >= sweepInterval {
		return VerdictIdle
	}
	return VerdictNone
}
