package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/overseer-cli/overseer/internal/broadcast"
	"github.com/overseer-cli/overseer/internal/notify"
	"github.com/overseer-cli/overseer/internal/quota"
	"github.com/overseer-cli/overseer/internal/task"
	"github.com/overseer-cli/overseer/internal/templates"
)

// Callback statuses accepted by NotifyStatus. The CLI posts these from
// inside its session.
const (
	CallbackInProgress       = "in_progress"
	CallbackCompleted        = "completed"
	CallbackSessionDone      = "session_completed"
	CallbackFailed           = "failed"
	CallbackReviewCompleted  = "review_completed"
	CallbackReviewSessionEnd = "review_session_completed"
)

// monitor is the per-session supervision goroutine: it polls the
// terminal's screen, feeds the context tracker and idle detector, and
// asks for a restart when the context budget runs out. It exits when
// the session's stop channel closes.
func (m *Manager) monitor(sess *Session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	var (
		lastTail   string
		markerSeen bool
		transcript strings.Builder
	)
	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
		}
		if sess.Phase() != PhaseRunning {
			continue
		}

		capturer, ok := sess.Term.(TailCapturer)
		if !ok {
			// Blind emulator: callbacks and the watchdog's pid probes
			// are the only supervision signals.
			continue
		}
		tail, err := capturer.CaptureTail(sess.Handle)
		if err != nil {
			continue
		}
		changed := tail != lastTail
		if changed {
			lastTail = tail
			sess.touch()
		}

		if pct, found := sess.CLI.ParseContextRemaining(tail); found {
			markerSeen = true
			if accepted, ok := sess.Tracker.Observe(pct); ok {
				m.publishContext(sess.TaskID, accepted)
			}
		} else if !markerSeen && changed {
			// A CLI that never prints a marker gets a token-count
			// estimate over the output seen so far. Screens overlap
			// between polls, so the estimate runs hot; it only has to
			// be good enough to trip the restart threshold.
			transcript.WriteString(tail)
			transcript.WriteByte('\n')
			est := quota.EstimatePercent(transcript.String(), sess.CLI.MaxContextTokens())
			if accepted, ok := sess.Tracker.Observe(est); ok {
				m.publishContext(sess.TaskID, accepted)
			}
		}
		sess.idle.Store(sess.CLI.IdleSignature(tail))

		if sess.Idle() {
			m.maybeNudge(sess)
		}

		snap := m.cfg.Settings.Current()
		if sess.Tracker.ShouldRestart(snap.RestartThreshold, snap.MinSessionRun) {
			m.logger.Info("context budget exhausted, restarting",
				"task", sess.TaskID, "percent", sess.Tracker.Percent())
			m.log(sess.TaskID, "warn", fmt.Sprintf("context at %d%%, recycling session", sess.Tracker.Percent()))
			if err := m.Restart(sess.TaskID, task.CauseContext); err != nil {
				m.logger.Error("context restart failed", "task", sess.TaskID, "error", err)
			}
			return
		}
	}
}

// maybeNudge injects the one-shot status-check prompt when the CLI
// idles with work remaining, for emulators that support typing.
func (m *Manager) maybeNudge(sess *Session) {
	sender, ok := sess.Term.(TextSender)
	if !ok || m.cfg.Templates == nil || m.cfg.Inspector == nil {
		return
	}
	if !sess.nudged.CompareAndSwap(false, true) {
		return
	}

	t, _, err := m.cfg.Store.GetTask(sess.TaskID)
	if err != nil {
		return
	}
	rep, err := m.cfg.Inspector.Inspect(t.FullDocPath())
	if err != nil || rep.Done() {
		return
	}

	snap := m.cfg.Settings.Current()
	text, err := m.cfg.Templates.Render(templates.KindStatusCheck, snap.Language, templates.PromptData{
		TaskID:     t.ID,
		DocPath:    t.FullDocPath(),
		APIBaseURL: m.cfg.CallbackBaseURL,
	})
	if err != nil {
		return
	}
	if err := sender.SendText(sess.Handle, text, true); err != nil {
		m.logger.Debug("status-check nudge failed", "task", sess.TaskID, "error", err)
	}
}

// NotifyStatus injects a CLI callback into the supervision loop. It
// competes with output parsing through the epoch arbiter: the first
// terminal claim per (task, epoch) wins, later duplicates are dropped
// silently.
func (m *Manager) NotifyStatus(taskID, status, message, errMsg string, contextPercent *int) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, _, err := m.cfg.Store.GetTask(taskID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	sess := m.reg[taskID]
	m.mu.Unlock()

	if sess != nil {
		sess.touch()
		if contextPercent != nil {
			if accepted, ok := sess.Tracker.Observe(*contextPercent); ok {
				m.publishContext(taskID, accepted)
			}
		}
	}

	switch status {
	case CallbackInProgress:
		if message != "" {
			m.log(taskID, "info", message)
		}
		m.publishStatus(t)
		return nil

	case CallbackCompleted:
		if sess == nil {
			return fmt.Errorf("%w: %s", ErrNoSession, taskID)
		}
		// A completion claim is verified against the document; with
		// boxes left it only ends the session batch.
		if m.boxesRemain(t) {
			m.log(taskID, "warn", "completed claimed with unchecked boxes, continuing")
			return m.restartLocked(taskID, task.CauseOperator, templates.KindContinue)
		}
		return m.completeLocked(t, sess)

	case CallbackSessionDone:
		if sess == nil {
			return fmt.Errorf("%w: %s", ErrNoSession, taskID)
		}
		if m.boxesRemain(t) {
			m.log(taskID, "info", "session batch done, resuming with fresh context")
			return m.restartLocked(taskID, task.CauseOperator, templates.KindContinue)
		}
		return m.completeLocked(t, sess)

	case CallbackReviewCompleted:
		if sess == nil {
			return fmt.Errorf("%w: %s", ErrNoSession, taskID)
		}
		return m.completeLocked(t, sess)

	case CallbackReviewSessionEnd:
		if sess == nil {
			return fmt.Errorf("%w: %s", ErrNoSession, taskID)
		}
		m.log(taskID, "info", "review batch done, resuming review")
		return m.restartLocked(taskID, task.CauseOperator, templates.KindReview)

	case CallbackFailed:
		if errMsg == "" {
			errMsg = message
		}
		m.failLocked(t, task.CauseOperator, errMsg)
		return nil
	}
	return fmt.Errorf("unknown callback status %q", status)
}

// HandleDead is the watchdog's process-death verdict.
func (m *Manager) HandleDead(taskID string, epoch uint64) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	sess := m.sessionAt(taskID, epoch)
	if sess == nil {
		return
	}
	t, _, err := m.cfg.Store.GetTask(taskID)
	if err != nil {
		return
	}
	m.log(taskID, "error", "session process died")
	m.failLocked(t, task.CauseProcessDied, "terminal window or process died")
}

// HandleIdle is the watchdog's idle-lockup verdict: the CLI is alive
// at its prompt with no callback. The document disambiguates — all
// boxes checked means done, otherwise the session is wedged.
func (m *Manager) HandleIdle(taskID string, epoch uint64) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	sess := m.sessionAt(taskID, epoch)
	if sess == nil {
		return
	}
	t, _, err := m.cfg.Store.GetTask(taskID)
	if err != nil {
		return
	}

	if !m.boxesRemain(t) {
		m.log(taskID, "info", "idle with all boxes checked, completing")
		_ = m.completeLocked(t, sess)
		return
	}
	m.log(taskID, "error", "session idle with work remaining")
	m.failLocked(t, task.CauseIdleLockup, "CLI idle at prompt with unchecked boxes")
}

// sessionAt returns the live session only if its epoch still matches,
// rejecting verdicts about a session that has since been replaced.
func (m *Manager) sessionAt(taskID string, epoch uint64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.reg[taskID]
	if sess == nil || sess.Epoch != epoch {
		return nil
	}
	return sess
}

// boxesRemain asks the document inspector whether required work is
// left. Inspector errors count as "work remains" — never complete a
// task on a read failure.
func (m *Manager) boxesRemain(t *task.Task) bool {
	if m.cfg.Inspector == nil {
		return false
	}
	rep, err := m.cfg.Inspector.Inspect(t.FullDocPath())
	if err != nil {
		m.logger.Warn("document inspection failed", "task", t.ID, "error", err)
		return true
	}
	return !rep.Done()
}

// completeLocked routes a verified completion: into review when the
// effective review flag is on and this was the work pass, else to
// completed. Caller holds the per-task lock.
func (m *Manager) completeLocked(t *task.Task, sess *Session) error {
	if !m.arbiter.Claim(t.ID, sess.Epoch) {
		return nil
	}

	snap := m.cfg.Settings.Current()
	if !sess.Reviewing && t.EffectiveReview(snap.ReviewEnabled) {
		if err := task.Transition(t.Status, task.StatusInReviewing); err != nil {
			return err
		}
		t.Status = task.StatusInReviewing

		// Recycle the window but keep the slot: review replaces work.
		m.closeOldKeepSlot(sess)
		m.log(t.ID, "info", "work complete, starting cross-review")
		if err := m.spawnLocked(t, templates.KindReview, true); err != nil {
			m.mu.Lock()
			m.active--
			m.mu.Unlock()
			m.failLocked(t, task.CauseSpawnFailed, err.Error())
			return err
		}
		return nil
	}

	if err := task.Transition(t.Status, task.StatusCompleted); err != nil {
		return err
	}
	m.releaseSession(sess)
	m.finishTask(t, task.StatusCompleted, "")
	m.log(t.ID, "info", "task completed")
	m.advanceQueue()
	return nil
}

// closeOldKeepSlot tears down a session without releasing its slot.
func (m *Manager) closeOldKeepSlot(sess *Session) {
	snap := m.cfg.Settings.Current()
	sess.setPhase(PhaseStopping)
	sess.signalStop()
	m.closeWithGrace(sess, snap.StopGrace)
	m.mu.Lock()
	delete(m.reg, sess.TaskID)
	m.mu.Unlock()
}

// failLocked drives a task to failed with a cause, tearing down any
// live session. Caller holds the per-task lock. Illegal transitions
// (already terminal) are dropped silently per the arbiter contract.
func (m *Manager) failLocked(t *task.Task, cause task.Cause, msg string) {
	m.mu.Lock()
	sess := m.reg[t.ID]
	m.mu.Unlock()

	if sess != nil {
		if !m.arbiter.Claim(t.ID, sess.Epoch) {
			return
		}
		m.releaseSession(sess)
	}
	if !task.CanTransition(t.Status, task.StatusFailed) {
		return
	}
	m.finishTask(t, task.StatusFailed, fmt.Sprintf("%s: %s", cause, msg))
	m.log(t.ID, "error", fmt.Sprintf("task failed (%s): %s", cause, msg))
	m.logger.Warn("task failed", "task", t.ID, "cause", cause, "error", msg)
	m.advanceQueue()
}

// finishTask persists a status change and fans it out: broadcast to
// subscribers, callback to the task's external URL.
func (m *Manager) finishTask(t *task.Task, status task.Status, errMsg string) {
	now := time.Now().UTC()
	t.Status = status
	t.LastError = errMsg
	t.UpdatedAt = now
	if status.Terminal() {
		t.CompletedAt = &now
	}
	if err := m.cfg.Store.SaveTask(t, nil); err != nil {
		m.logger.Error("persisting task failed", "task", t.ID, "error", err)
	}

	m.publishStatus(t)
	if t.CallbackURL != "" {
		m.cfg.Notifier.SendAsync(t.CallbackURL, notify.Payload{
			TaskID: t.ID,
			Status: string(status),
			Error:  errMsg,
		})
	}
}

func (m *Manager) publishStatus(t *task.Task) {
	m.cfg.Broadcaster.Publish(broadcast.Event{
		Type:    broadcast.TypeTaskStatus,
		TaskID:  t.ID,
		Status:  string(t.Status),
		Message: t.LastError,
		Payload: map[string]any{"snapshot": m.Sessions()},
	})
}

func (m *Manager) publishContext(taskID string, percent int) {
	m.cfg.Broadcaster.Publish(broadcast.Event{
		Type:    broadcast.TypeContext,
		TaskID:  taskID,
		Payload: map[string]any{"context_left": percent},
	})
}

func (m *Manager) publishQueue() {
	m.mu.Lock()
	queued := append([]string(nil), m.queue...)
	m.mu.Unlock()
	m.cfg.Broadcaster.Publish(broadcast.Event{
		Type:    broadcast.TypeQueue,
		Payload: map[string]any{"queued": queued},
	})
}

func (m *Manager) publishSnapshot() {
	m.cfg.Broadcaster.Publish(broadcast.Event{
		Type:    broadcast.TypeTaskStatus,
		Payload: map[string]any{"snapshot": m.Sessions()},
	})
}
