package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/overseer-cli/overseer/internal/broadcast"
	"github.com/overseer-cli/overseer/internal/session"
	"github.com/overseer-cli/overseer/internal/task"
)

type fakeSource struct {
	snap  session.Snapshot
	tasks []*task.Task
}

func (f *fakeSource) Sessions(context.Context) (session.Snapshot, error) { return f.snap, nil }
func (f *fakeSource) ListTasks(context.Context) ([]*task.Task, error)   { return f.tasks, nil }

func newTestModel() (*Model, chan broadcast.Event) {
	ch := make(chan broadcast.Event, 4)
	m := NewModel(&fakeSource{}, ch)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return m, ch
}

func TestQuitKey(t *testing.T) {
	m, _ := newTestModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("got %v, want tea.Quit", msg)
	}
}

func TestEventAppendsToFeed(t *testing.T) {
	m, _ := newTestModel()
	m.Update(eventMsg(broadcast.Event{
		Type: broadcast.TypeTaskStatus, TaskID: "task-abcdef123", Status: "completed",
		Timestamp: time.Now(),
	}))
	if len(m.feed) != 1 {
		t.Fatalf("feed length = %d, want 1", len(m.feed))
	}
	if !strings.Contains(m.feed[0], "task-abc") {
		t.Errorf("feed line missing short id: %q", m.feed[0])
	}
	if !strings.Contains(m.feed[0], "completed") {
		t.Errorf("feed line missing status: %q", m.feed[0])
	}
}

func TestFeedIsBounded(t *testing.T) {
	m, _ := newTestModel()
	for i := 0; i < maxFeedLines+50; i++ {
		m.appendEvent(broadcast.Event{
			Type: broadcast.TypeTaskLog, TaskID: "t1", Message: "line",
			Timestamp: time.Now(),
		})
	}
	if len(m.feed) != maxFeedLines {
		t.Errorf("feed length = %d, want %d", len(m.feed), maxFeedLines)
	}
}

func TestRefreshMsgUpdatesSnapshot(t *testing.T) {
	m, _ := newTestModel()
	m.Update(refreshMsg{snapshot: session.Snapshot{Active: 2, MaxConcurrent: 3}})
	if m.snapshot.Active != 2 {
		t.Errorf("Active = %d", m.snapshot.Active)
	}
	view := m.View()
	if !strings.Contains(view, "2/3 sessions") {
		t.Errorf("view missing session count:\n%s", view)
	}
}

func TestFeedClosedShownInView(t *testing.T) {
	m, _ := newTestModel()
	m.Update(feedClosedMsg{})
	if !strings.Contains(m.View(), "event feed lost") {
		t.Error("view does not surface closed feed")
	}
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		ev   broadcast.Event
		want string
	}{
		{"status", broadcast.Event{Type: broadcast.TypeTaskStatus, TaskID: "t1", Status: "failed", Timestamp: ts}, "failed"},
		{"context", broadcast.Event{Type: broadcast.TypeContext, TaskID: "t1",
			Payload: map[string]any{"context_left": float64(35)}, Timestamp: ts}, "35%"},
		{"log", broadcast.Event{Type: broadcast.TypeTaskLog, TaskID: "t1", Message: "session started", Timestamp: ts}, "session started"},
		{"queue", broadcast.Event{Type: broadcast.TypeQueue, Timestamp: ts}, "queue changed"},
		{"status without task is dropped", broadcast.Event{Type: broadcast.TypeTaskStatus, Timestamp: ts}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEvent(tt.ev)
			if tt.want == "" {
				if got != "" {
					t.Errorf("formatEvent = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("formatEvent = %q, want substring %q", got, tt.want)
			}
		})
	}
}

func TestListenDrainsChannel(t *testing.T) {
	m, ch := newTestModel()
	ch <- broadcast.Event{Type: broadcast.TypeQueue, Timestamp: time.Now()}
	msg := m.listen()()
	if _, ok := msg.(eventMsg); !ok {
		t.Fatalf("got %T, want eventMsg", msg)
	}
	close(ch)
	if _, ok := m.listen()().(feedClosedMsg); !ok {
		t.Error("closed channel should yield feedClosedMsg")
	}
}
