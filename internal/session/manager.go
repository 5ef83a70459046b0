package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/overseer-cli/overseer/internal/broadcast"
	"github.com/overseer-cli/overseer/internal/cliadapter"
	"github.com/overseer-cli/overseer/internal/notify"
	"github.com/overseer-cli/overseer/internal/progress"
	"github.com/overseer-cli/overseer/internal/settings"
	"github.com/overseer-cli/overseer/internal/task"
	"github.com/overseer-cli/overseer/internal/templates"
	"github.com/overseer-cli/overseer/internal/terminal"
	"github.com/overseer-cli/overseer/internal/util"
)

// Persistence is the slice of the task store the manager drives.
type Persistence interface {
	SaveTask(t *task.Task, h *terminal.Handle) error
	GetTask(id string) (*task.Task, *terminal.Handle, error)
	ListTasks() ([]*task.Task, error)
	ListLive() ([]*task.Task, []*terminal.Handle, error)
	DeleteTask(id string) error
	AppendLog(taskID, level, message string) error
}

// DocInspector answers "how many boxes are left" for a task document.
type DocInspector interface {
	Inspect(path string) (progress.Report, error)
}

// TailCapturer is the optional terminal capability of reading the
// window's screen contents. Kitty implements it; other emulators leave
// the monitor blind and supervision falls back to callbacks and pids.
type TailCapturer interface {
	CaptureTail(h *terminal.Handle) (string, error)
}

// TextSender is the optional terminal capability of typing into the
// window, used for the one-shot status-check nudge.
type TextSender interface {
	SendText(h *terminal.Handle, text string, pressEnter bool) error
}

// Config wires the manager's collaborators. Resolve hooks default to
// the real adapter registries and exist for tests.
type Config struct {
	Settings    *settings.Store
	Store       Persistence
	Broadcaster *broadcast.Broadcaster
	Notifier    *notify.Notifier
	Templates   *templates.Templates
	Inspector   DocInspector
	Logger      hclog.Logger

	// PromptDir is where scratch prompt files are written.
	PromptDir string
	// CallbackBaseURL is handed to prompt templates so CLIs can post
	// notify-status back.
	CallbackBaseURL string

	ResolveCLI      func(cliadapter.Kind) (cliadapter.Adapter, error)
	ResolveTerminal func(terminal.Kind) (terminal.Adapter, error)

	// MonitorInterval is the per-session output poll cadence.
	MonitorInterval time.Duration
}

// Manager is the authoritative session registry.
type Manager struct {
	cfg    Config
	logger hclog.Logger

	mu      sync.Mutex
	reg     map[string]*Session // taskID → live session
	active  int
	queue   []string // FIFO of queued task ids
	epochs  map[string]uint64
	arbiter *task.Arbiter

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // per-task transition serialization

	wg sync.WaitGroup
}

// NewManager creates a manager. Config.Settings and Config.Store are
// required; everything else has a working default.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.ResolveCLI == nil {
		cfg.ResolveCLI = cliadapter.Resolve
	}
	if cfg.ResolveTerminal == nil {
		cfg.ResolveTerminal = terminal.ForKind
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 5 * time.Second
	}
	if cfg.PromptDir == "" {
		cfg.PromptDir = os.TempDir()
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = broadcast.New(cfg.Logger)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.New(cfg.Logger)
	}
	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.Named("session"),
		reg:     make(map[string]*Session),
		epochs:  make(map[string]uint64),
		arbiter: task.NewArbiter(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-task mutex, creating it on first use.
func (m *Manager) lockFor(taskID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[taskID] = l
	}
	return l
}

// StartResult reports how a start request was admitted.
type StartResult struct {
	Started  bool `json:"started"`
	Queued   bool `json:"queued"`
	Position int  `json:"position,omitempty"` // 1-based queue position when queued
}

// Start admits a pending task: spawns immediately when a slot is free,
// otherwise appends it to the FIFO queue. Fails with
// task.ErrInvalidState when the task is not pending.
func (m *Manager) Start(taskID string) (StartResult, error) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, _, err := m.cfg.Store.GetTask(taskID)
	if err != nil {
		return StartResult{}, err
	}
	if t.Status != task.StatusPending {
		return StartResult{}, fmt.Errorf("%w: cannot start task in %s", task.ErrInvalidState, t.Status)
	}
	if _, err := os.Stat(t.ProjectDir); err != nil {
		return StartResult{}, fmt.Errorf("%w: project directory: %v", ErrSpawnFailed, err)
	}

	// Admission under the registry lock; the slot is reserved before
	// the blocking spawn and released on rollback.
	m.mu.Lock()
	snap := m.cfg.Settings.Current()
	if m.active >= snap.MaxConcurrent {
		if !m.queued(taskID) {
			m.queue = append(m.queue, taskID)
		}
		pos := m.queuePos(taskID)
		m.mu.Unlock()
		m.logger.Info("task queued", "task", taskID, "position", pos)
		m.publishQueue()
		return StartResult{Queued: true, Position: pos}, nil
	}
	m.active++
	m.mu.Unlock()

	if err := m.spawnLocked(t, templates.KindInitial, false); err != nil {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
		m.advanceQueue()
		return StartResult{}, err
	}
	return StartResult{Started: true}, nil
}

// spawnLocked runs the all-or-nothing spawn transaction for t. The
// caller holds the per-task lock and has already reserved a slot.
// On success the session is registered and the task is transitioned to
// its live status.
func (m *Manager) spawnLocked(t *task.Task, promptKind string, reviewing bool) error {
	snap := m.cfg.Settings.Current()

	cli, err := m.resolveCLIFor(t, reviewing, snap)
	if err != nil {
		return err
	}
	term, err := m.cfg.ResolveTerminal(snap.Terminal)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	promptFile, err := m.writePrompt(t, promptKind, cli, snap)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	argv := cli.LaunchCommand(t.ProjectDir, promptFile, true)
	handle, err := m.spawnWithTimeout(term, t.ProjectDir, argv, snap.SpawnTimeout)
	if err != nil {
		_ = os.Remove(promptFile)
		return err
	}

	m.mu.Lock()
	m.epochs[t.ID]++
	epoch := m.epochs[t.ID]
	sess := newSession(t.ID, epoch, reviewing, cli, term, handle, promptFile)
	m.reg[t.ID] = sess
	m.mu.Unlock()

	next := task.StatusInProgress
	if reviewing {
		next = task.StatusInReviewing
	}
	if t.Status != next {
		if err := task.Transition(t.Status, next); err != nil {
			// Should be unreachable: caller validated the source state.
			m.teardown(sess, snap.StopGrace)
			return err
		}
		t.Status = next
	}
	t.LastPID = handle.PID
	t.LastError = ""
	t.UpdatedAt = time.Now().UTC()
	if err := m.cfg.Store.SaveTask(t, handle); err != nil {
		m.teardown(sess, snap.StopGrace)
		m.mu.Lock()
		delete(m.reg, t.ID)
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	m.wg.Add(1)
	go m.monitor(sess)

	m.logger.Info("session started",
		"task", t.ID, "cli", cli.Kind(), "terminal", term.Kind(),
		"pid", handle.PID, "epoch", epoch, "reviewing", reviewing)
	m.log(t.ID, "info", fmt.Sprintf("session started with %s (epoch %d)", cli.Name(), epoch))
	m.publishStatus(t)
	return nil
}

// resolveCLIFor picks the CLI adapter: the task override or global
// default for work, the review CLI (never the work CLI) for review.
func (m *Manager) resolveCLIFor(t *task.Task, reviewing bool, snap settings.Snapshot) (cliadapter.Adapter, error) {
	kind := t.CLIType
	if kind == "" {
		kind = snap.DefaultCLI
	}
	if reviewing {
		reviewKind := snap.ReviewCLI
		if reviewKind == kind {
			reviewKind = cliadapter.Alternate(kind)
		}
		kind = reviewKind
	}
	cli, err := m.cfg.ResolveCLI(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	return cli, nil
}

// writePrompt renders the prompt template into a scratch file.
func (m *Manager) writePrompt(t *task.Task, kind string, cli cliadapter.Adapter, snap settings.Snapshot) (string, error) {
	var text string
	if m.cfg.Templates != nil {
		rendered, err := m.cfg.Templates.Render(kind, snap.Language, templates.PromptData{
			TaskID:     t.ID,
			Title:      t.Title,
			DocPath:    t.FullDocPath(),
			ProjectDir: t.ProjectDir,
			APIBaseURL: m.cfg.CallbackBaseURL,
			CLIName:    cli.Name(),
		})
		if err != nil {
			return "", fmt.Errorf("rendering %s prompt: %w", kind, err)
		}
		text = rendered
	} else {
		text = cli.ResumePrompt(t.FullDocPath())
	}

	path := filepath.Join(m.cfg.PromptDir, "overseer-prompt-"+uuid.NewString()[:8]+".md")
	if err := os.WriteFile(path, []byte(text), 0o600); err != nil {
		return "", fmt.Errorf("writing prompt file: %w", err)
	}
	return path, nil
}

// spawnWithTimeout bounds the terminal spawn with a wall-clock
// deadline. A handle arriving after the deadline is closed best-effort.
func (m *Manager) spawnWithTimeout(term terminal.Adapter, dir string, argv []string, timeout time.Duration) (*terminal.Handle, error) {
	type result struct {
		h   *terminal.Handle
		err error
	}
	ch := make(chan result, 1)
	go func() {
		h, err := term.Spawn(dir, argv)
		ch <- result{h, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, r.err)
		}
		return r.h, nil
	case <-time.After(timeout):
		go func() {
			if r := <-ch; r.h != nil {
				_ = term.Close(r.h)
			}
		}()
		return nil, fmt.Errorf("%w after %s", ErrSpawnTimeout, timeout)
	}
}

// Stop is the operator stop. in_progress returns to pending (the queue
// candidate pool), in_reviewing advances to completed — the primary
// work is done. Stopping a task with no session is a no-op.
func (m *Manager) Stop(taskID string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	t, _, err := m.cfg.Store.GetTask(taskID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	sess := m.reg[taskID]
	// A queued task is simply withdrawn.
	m.dequeue(taskID)
	m.mu.Unlock()

	if sess == nil {
		return nil
	}

	next := task.StatusPending
	if t.Status == task.StatusInReviewing {
		next = task.StatusCompleted
	}
	if err := task.Transition(t.Status, next); err != nil {
		return err
	}

	m.releaseSession(sess)
	m.finishTask(t, next, "")
	m.log(taskID, "info", "session stopped by operator")
	m.advanceQueue()
	return nil
}

// Pause closes the window and frees the slot while preserving the
// task's status, so the operator can make room without marking
// failure. The paused session stays registered but is skipped by the
// watchdog; Restart brings it back.
func (m *Manager) Pause(taskID string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess := m.reg[taskID]
	m.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, taskID)
	}
	if sess.Phase() == PhasePaused {
		return nil
	}

	snap := m.cfg.Settings.Current()
	sess.setPhase(PhasePaused)
	sess.signalStop()
	m.closeWithGrace(sess, snap.StopGrace)

	m.mu.Lock()
	m.active--
	m.mu.Unlock()

	m.log(taskID, "info", "session paused")
	m.logger.Info("session paused", "task", taskID)
	m.publishSnapshot()
	m.advanceQueue()
	return nil
}

// Restart stops the task's session and immediately respawns it with
// the resume prompt. A running session keeps its slot; a paused one
// must re-enter admission.
func (m *Manager) Restart(taskID string, reason task.Cause) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()
	return m.restartLocked(taskID, reason, templates.KindResume)
}

// restartLocked respawns taskID's session with the given prompt kind.
// A task under review always gets the review prompt regardless.
func (m *Manager) restartLocked(taskID string, reason task.Cause, promptKind string) error {
	t, _, err := m.cfg.Store.GetTask(taskID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	sess := m.reg[taskID]
	m.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, taskID)
	}

	wasPaused := sess.Phase() == PhasePaused
	snap := m.cfg.Settings.Current()

	if !wasPaused {
		sess.setPhase(PhaseStopping)
		sess.signalStop()
		m.closeWithGrace(sess, snap.StopGrace)
	}
	m.mu.Lock()
	delete(m.reg, taskID)
	if wasPaused {
		// The paused session gave its slot up; it must win one back.
		if m.active >= snap.MaxConcurrent {
			m.reg[taskID] = sess
			m.mu.Unlock()
			return fmt.Errorf("%w: no free slot to resume %s", ErrCapacityReached, taskID)
		}
		m.active++
	}
	m.mu.Unlock()

	m.log(taskID, "info", fmt.Sprintf("restarting session (%s)", reason))
	reviewing := t.Status == task.StatusInReviewing
	if reviewing {
		promptKind = templates.KindReview
	}
	if err := m.spawnLocked(t, promptKind, reviewing); err != nil {
		// The restart consumed the slot; release it and fail the task,
		// a dangling in_progress record helps nobody.
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
		m.failLocked(t, task.CauseSpawnFailed, err.Error())
		return err
	}
	return nil
}

// StopAll stops every live session; failures are collected. The
// waiting queue is withdrawn first, so the slots freed by the sweep
// cannot admit new sessions behind its back — stopping everything
// twice is the same as stopping it once.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	withdrawn := len(m.queue) > 0
	m.queue = nil
	ids := make([]string, 0, len(m.reg))
	for id := range m.reg {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	if withdrawn {
		m.publishQueue()
	}

	var errs []error
	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// releaseSession tears a session down and frees its slot. Caller holds
// the per-task lock.
func (m *Manager) releaseSession(sess *Session) {
	snap := m.cfg.Settings.Current()
	wasPaused := sess.Phase() == PhasePaused
	sess.setPhase(PhaseStopping)
	sess.signalStop()
	m.closeWithGrace(sess, snap.StopGrace)

	m.mu.Lock()
	if _, ok := m.reg[sess.TaskID]; ok {
		delete(m.reg, sess.TaskID)
		// A paused session already gave its slot back.
		if !wasPaused {
			m.active--
		}
	}
	m.mu.Unlock()
}

// teardown closes a session's window without touching the registry,
// for spawn-transaction rollback.
func (m *Manager) teardown(sess *Session, grace time.Duration) {
	sess.signalStop()
	m.closeWithGrace(sess, grace)
}

// closeWithGrace closes the window and waits up to grace for the
// emulator to confirm death. If the window ignores the close, the pid
// gets a terminate signal; past that the watchdog owns the corpse.
func (m *Manager) closeWithGrace(sess *Session, grace time.Duration) {
	if sess.Handle == nil {
		return
	}
	if err := sess.Term.Close(sess.Handle); err != nil {
		m.logger.Warn("close window failed", "task", sess.TaskID, "error", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if sess.Term.IsAlive(sess.Handle) != terminal.LivenessAlive {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if sess.Term.IsAlive(sess.Handle) == terminal.LivenessAlive {
		util.TerminateProcess(sess.Handle.PID)
	}
	if sess.promptFile != "" {
		_ = os.Remove(sess.promptFile)
	}
}

// queued reports whether taskID is already waiting. Caller holds m.mu.
func (m *Manager) queued(taskID string) bool {
	for _, id := range m.queue {
		if id == taskID {
			return true
		}
	}
	return false
}

func (m *Manager) queuePos(taskID string) int {
	for i, id := range m.queue {
		if id == taskID {
			return i + 1
		}
	}
	return 0
}

// dequeue removes taskID from the waiting queue. Caller holds m.mu.
func (m *Manager) dequeue(taskID string) {
	for i, id := range m.queue {
		if id == taskID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// advanceQueue starts the oldest queued task if a slot is free. Runs
// on its own goroutine because the caller may hold a per-task lock.
func (m *Manager) advanceQueue() {
	m.mu.Lock()
	snap := m.cfg.Settings.Current()
	if len(m.queue) == 0 || m.active >= snap.MaxConcurrent {
		m.mu.Unlock()
		return
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	m.active++
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		lock := m.lockFor(next)
		lock.Lock()
		defer lock.Unlock()

		t, _, err := m.cfg.Store.GetTask(next)
		if err != nil || t.Status != task.StatusPending {
			m.mu.Lock()
			m.active--
			m.mu.Unlock()
			m.advanceQueue()
			return
		}
		if err := m.spawnLocked(t, templates.KindInitial, false); err != nil {
			m.logger.Error("queued spawn failed", "task", next, "error", err)
			m.mu.Lock()
			m.active--
			m.mu.Unlock()
			m.failLocked(t, task.CauseSpawnFailed, err.Error())
			m.advanceQueue()
		}
	}()
}

// Sessions returns the registry snapshot served to clients.
func (m *Manager) Sessions() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapSettings := m.cfg.Settings.Current()
	out := Snapshot{
		Active:        m.active,
		MaxConcurrent: snapSettings.MaxConcurrent,
		Queued:        append([]string(nil), m.queue...),
	}
	out.AvailableSlots = out.MaxConcurrent - out.Active
	if out.AvailableSlots < 0 {
		out.AvailableSlots = 0
	}

	for _, sess := range m.reg {
		status := string(task.StatusInProgress)
		if sess.Reviewing {
			status = string(task.StatusInReviewing)
		}
		out.Sessions = append(out.Sessions, Info{
			TaskID:       sess.TaskID,
			Status:       status,
			CLI:          string(sess.CLI.Kind()),
			Terminal:     string(sess.Term.Kind()),
			PID:          sess.PID(),
			StartedAt:    sess.StartedAt,
			ContextLeft:  sess.Tracker.Percent(),
			Reviewing:    sess.Reviewing,
			Epoch:        sess.Epoch,
			LastActivity: sess.LastActivity(),
		})
	}
	return out
}

// Probes returns the watchdog's view of every supervisable session.
func (m *Manager) Probes() []Probe {
	m.mu.Lock()
	defer m.mu.Unlock()

	probes := make([]Probe, 0, len(m.reg))
	for _, sess := range m.reg {
		sess := sess
		probes = append(probes, Probe{
			TaskID:       sess.TaskID,
			Epoch:        sess.Epoch,
			PID:          sess.PID(),
			StartedAt:    sess.StartedAt,
			LastActivity: sess.LastActivity(),
			Idle:         sess.Idle(),
			Paused:       sess.Phase() == PhasePaused,
			IsAlive:      func() terminal.Liveness { return sess.Term.IsAlive(sess.Handle) },
		})
	}
	return probes
}

// Close stops all sessions and waits for monitors to drain.
func (m *Manager) Close() {
	_ = m.StopAll()
	m.wg.Wait()
}

// Shutdown stops supervision without touching the terminal windows, so
// a restarted daemon can re-attach to the sessions it left running.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, sess := range m.reg {
		sess.signalStop()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// log appends to the task's persisted log trail, best effort.
func (m *Manager) log(taskID, level, message string) {
	if err := m.cfg.Store.AppendLog(taskID, level, message); err != nil {
		m.logger.Warn("appending task log failed", "task", taskID, "error", err)
	}
}
