package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-cli/overseer/internal/cliadapter"
	"github.com/overseer-cli/overseer/internal/settings"
	"github.com/overseer-cli/overseer/internal/task"
	"github.com/overseer-cli/overseer/internal/terminal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "overseer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestTask(id string, status task.Status) *task.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return &task.Task{
		ID:         id,
		Title:      "build feature",
		ProjectDir: "/work/proj",
		DocPath:    "TODO.md",
		Status:     status,
		CLIType:    cliadapter.KindClaudeCode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSaveAndGetTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := newTestTask("t1", task.StatusInProgress)
	in.LastPID = 4321
	h := &terminal.Handle{Kind: terminal.KindKitty, ID: "ab12cd34", PID: 4321, SocketPath: "/tmp/sock"}
	require.NoError(t, s.SaveTask(in, h))

	got, gotHandle, err := s.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, task.StatusInProgress, got.Status)
	assert.Equal(t, cliadapter.KindClaudeCode, got.CLIType)
	assert.Equal(t, 4321, got.LastPID)
	require.NotNil(t, gotHandle)
	assert.Equal(t, terminal.KindKitty, gotHandle.Kind)
	assert.Equal(t, "/tmp/sock", gotHandle.SocketPath)
}

func TestSaveTaskUpsert(t *testing.T) {
	s := openTestStore(t)

	in := newTestTask("t1", task.StatusPending)
	require.NoError(t, s.SaveTask(in, nil))

	in.Status = task.StatusFailed
	in.LastError = "spawn failed"
	require.NoError(t, s.SaveTask(in, nil))

	got, _, err := s.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, got.Status)
	assert.Equal(t, "spawn failed", got.LastError)

	all, err := s.ListTasks()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetTaskNotFound(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.GetTask("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLiveFiltersTerminalStatuses(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveTask(newTestTask("a", task.StatusInProgress), &terminal.Handle{Kind: terminal.KindKitty, ID: "h1"}))
	require.NoError(t, s.SaveTask(newTestTask("b", task.StatusInReviewing), nil))
	require.NoError(t, s.SaveTask(newTestTask("c", task.StatusCompleted), nil))
	require.NoError(t, s.SaveTask(newTestTask("d", task.StatusPending), nil))

	tasks, handles, err := s.ListLive()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Len(t, handles, 2)

	ids := []string{tasks[0].ID, tasks[1].ID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestDeleteTaskRemovesLogs(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveTask(newTestTask("t1", task.StatusCompleted), nil))
	require.NoError(t, s.AppendLog("t1", "info", "started"))
	require.NoError(t, s.AppendLog("t1", "info", "finished"))

	require.NoError(t, s.DeleteTask("t1"))
	assert.ErrorIs(t, s.DeleteTask("t1"), ErrNotFound)

	logs, err := s.ListLogs("t1", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestListLogsOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveTask(newTestTask("t1", task.StatusInProgress), nil))

	for _, msg := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.AppendLog("t1", "info", msg))
	}

	logs, err := s.ListLogs("t1", 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	// Most recent three, oldest first.
	assert.Equal(t, "two", logs[0].Message)
	assert.Equal(t, "four", logs[2].Message)
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	// Fresh database yields pure defaults.
	snap, err := s.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults().MaxConcurrent, snap.MaxConcurrent)

	snap.MaxConcurrent = 7
	snap.ReviewEnabled = true
	snap.DefaultCLI = cliadapter.KindGemini
	snap.Language = "zh"
	require.NoError(t, s.SaveSettings(snap))

	got, err := s.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxConcurrent)
	assert.True(t, got.ReviewEnabled)
	assert.Equal(t, cliadapter.KindGemini, got.DefaultCLI)
	assert.Equal(t, "zh", got.Language)

	// Supervision knobs are not persisted and stay at defaults.
	assert.Equal(t, settings.Defaults().SweepInterval, got.SweepInterval)
}
