package task

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidState is returned when a requested transition is not in the
// legal graph.
var ErrInvalidState = errors.New("invalid state transition")

// Cause tags a failure or terminal transition with its origin.
type Cause string

const (
	CauseOperator       Cause = "operator"
	CauseProcessDied    Cause = "process_died"
	CauseIdleLockup     Cause = "idle_lockup"
	CauseContext        Cause = "context_exhausted"
	CauseSpawnFailed    Cause = "spawn_failed"
	CauseSpawnTimeout   Cause = "spawn_timeout"
	CauseRecoveryFailed Cause = "recovery_failed"
)

// legal maps each status to the set of statuses reachable from it.
//
//	pending      → in_progress              start
//	in_progress  → pending                  operator stop
//	in_progress  → in_reviewing             complete with review enabled
//	in_progress  → completed                complete without review
//	in_progress  → failed                   watchdog / error
//	in_reviewing → completed                review done, or operator stop
//	in_reviewing → failed                   watchdog / error
//
// completed and failed are terminal.
var legal = map[Status]map[Status]bool{
	StatusPending: {
		StatusInProgress: true,
	},
	StatusInProgress: {
		StatusPending:     true,
		StatusInReviewing: true,
		StatusCompleted:   true,
		StatusFailed:      true,
	},
	StatusInReviewing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	return legal[from][to]
}

// Transition validates from → to, returning ErrInvalidState with both
// endpoints named when the edge is not in the graph.
func Transition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidState, from, to)
	}
	return nil
}

// Arbiter serializes terminal decisions per (task, session epoch).
//
// The CLI callback endpoint and the output parser can both report
// "completed" for the same session. Whichever claims the epoch first
// wins; later claims for the same key are rejected so a slow duplicate
// cannot regress or double-apply a transition.
type Arbiter struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

// NewArbiter creates an empty arbiter.
func NewArbiter() *Arbiter {
	return &Arbiter{claimed: make(map[string]struct{})}
}

// Claim records a terminal decision for the task at the given session
// epoch. Returns true for the first caller, false for every subsequent
// caller with the same task id and epoch.
func (a *Arbiter) Claim(taskID string, epoch uint64) bool {
	key := fmt.Sprintf("%s#%d", taskID, epoch)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.claimed[key]; dup {
		return false
	}
	a.claimed[key] = struct{}{}
	return true
}

// Forget drops all claims for a task. Called when the task record is
// deleted so the arbiter map cannot grow without bound.
func (a *Arbiter) Forget(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.claimed {
		if len(key) > len(taskID) && key[:len(taskID)] == taskID && key[len(taskID)] == '#' {
			delete(a.claimed, key)
		}
	}
}
