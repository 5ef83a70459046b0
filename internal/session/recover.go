package session

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/overseer-cli/overseer/internal/cliadapter"
	"github.com/overseer-cli/overseer/internal/task"
	"github.com/overseer-cli/overseer/internal/terminal"
	"github.com/overseer-cli/overseer/internal/util"
)

// CreateTask validates and persists a new pending task.
func (m *Manager) CreateTask(title, projectDir, docPath string, cli cliadapter.Kind, review task.ReviewMode, callbackURL string) (*task.Task, error) {
	if projectDir == "" || docPath == "" {
		return nil, fmt.Errorf("project directory and document path are required")
	}
	if cli != "" && !cli.Valid() {
		return nil, fmt.Errorf("%w: %q", cliadapter.ErrUnknownKind, cli)
	}
	if _, err := os.Stat(projectDir); err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:          uuid.NewString(),
		Title:       title,
		ProjectDir:  projectDir,
		DocPath:     docPath,
		Status:      task.StatusPending,
		CLIType:     cli,
		Review:      review,
		CallbackURL: callbackURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.cfg.Store.SaveTask(t, nil); err != nil {
		return nil, err
	}
	m.log(t.ID, "info", "task created")
	return t, nil
}

// DeleteTask removes a task record. Live tasks must be stopped first.
func (m *Manager) DeleteTask(taskID string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	_, live := m.reg[taskID]
	m.dequeue(taskID)
	m.mu.Unlock()
	if live {
		return fmt.Errorf("%w: task %s has a live session", task.ErrInvalidState, taskID)
	}
	if err := m.cfg.Store.DeleteTask(taskID); err != nil {
		return err
	}
	m.arbiter.Forget(taskID)
	return nil
}

// Recover reconciles tasks persisted as live across a daemon restart.
// A recorded pid that still exists gets its session re-attached (the
// window was spawned by the previous daemon and keeps running);
// otherwise the task is failed with a recovery-failed cause rather
// than left dangling.
func (m *Manager) Recover() error {
	tasks, handles, err := m.cfg.Store.ListLive()
	if err != nil {
		return fmt.Errorf("listing live tasks: %w", err)
	}

	for i, t := range tasks {
		h := handles[i]
		if m.reattach(t, h) {
			continue
		}
		m.log(t.ID, "error", "could not re-attach session after restart")
		m.failLocked(t, task.CauseRecoveryFailed, "daemon restarted, session not discoverable")
	}
	return nil
}

// reattach tries to adopt a pre-restart session. Returns true when the
// window is verifiably still alive.
func (m *Manager) reattach(t *task.Task, h *terminal.Handle) bool {
	if h == nil {
		return false
	}

	snap := m.cfg.Settings.Current()
	term, err := m.cfg.ResolveTerminal(h.Kind)
	if err != nil {
		return false
	}

	alive := term.IsAlive(h)
	if alive == terminal.LivenessUnknown && h.PID > 0 {
		if util.ProcessExists(h.PID) {
			alive = terminal.LivenessAlive
		} else {
			alive = terminal.LivenessDead
		}
	}
	if alive != terminal.LivenessAlive {
		return false
	}

	kind := t.CLIType
	if kind == "" {
		kind = snap.DefaultCLI
	}
	if t.Status == task.StatusInReviewing {
		if reviewKind := snap.ReviewCLI; reviewKind != kind {
			kind = reviewKind
		} else {
			kind = cliadapter.Alternate(kind)
		}
	}
	cli, err := m.cfg.ResolveCLI(kind)
	if err != nil {
		return false
	}

	m.mu.Lock()
	if m.active >= snap.MaxConcurrent {
		// More live rows than slots (settings shrank): the overflow
		// cannot be supervised, let the caller fail it.
		m.mu.Unlock()
		return false
	}
	m.epochs[t.ID]++
	sess := newSession(t.ID, m.epochs[t.ID], t.Status == task.StatusInReviewing, cli, term, h, "")
	m.reg[t.ID] = sess
	m.active++
	m.mu.Unlock()

	m.wg.Add(1)
	go m.monitor(sess)

	m.logger.Info("session re-attached", "task", t.ID, "pid", h.PID, "terminal", h.Kind)
	m.log(t.ID, "info", "session re-attached after daemon restart")
	m.publishStatus(t)
	return true
}
