// Package tui is the live dashboard behind `overseer watch`: a
// bubbletea program fed by the daemon's websocket event stream, showing
// the session registry and a scrolling activity feed.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/overseer-cli/overseer/internal/broadcast"
	"github.com/overseer-cli/overseer/internal/session"
	"github.com/overseer-cli/overseer/internal/style"
	"github.com/overseer-cli/overseer/internal/task"
)

const (
	maxFeedLines    = 200
	refreshInterval = 10 * time.Second
)

// Source is the daemon read API the dashboard polls. The HTTP client
// implements it.
type Source interface {
	Sessions(ctx context.Context) (session.Snapshot, error)
	ListTasks(ctx context.Context) ([]*task.Task, error)
}

// KeyMap binds the dashboard keys.
type KeyMap struct {
	Quit    key.Binding
	Refresh key.Binding
	Help    key.Binding
	Up      key.Binding
	Down    key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll down")),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Refresh, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down}, {k.Refresh, k.Help, k.Quit}}
}

// Model is the watch dashboard.
type Model struct {
	source Source
	events <-chan broadcast.Event

	width  int
	height int

	snapshot session.Snapshot
	tasks    []*task.Task
	feed     []string
	feedView viewport.Model

	keys     KeyMap
	help     help.Model
	showHelp bool

	lastErr    error
	feedClosed bool
}

// NewModel creates a dashboard reading events from ch and state from
// source.
func NewModel(source Source, ch <-chan broadcast.Event) *Model {
	return &Model{
		source:   source,
		events:   ch,
		feedView: viewport.New(0, 0),
		keys:     DefaultKeyMap(),
		help:     help.New(),
	}
}

type eventMsg broadcast.Event

type feedClosedMsg struct{}

type refreshMsg struct {
	snapshot session.Snapshot
	tasks    []*task.Task
}

type refreshErrMsg struct{ err error }

type tickMsg time.Time

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.listen(),
		m.refresh(),
		tick(),
		tea.SetWindowTitle("overseer watch"),
	)
}

// listen waits for the next broadcast event.
func (m *Model) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return feedClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// refresh re-reads the registry and task list.
func (m *Model) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := m.source.Sessions(ctx)
		if err != nil {
			return refreshErrMsg{err}
		}
		tasks, err := m.source.ListTasks(ctx)
		if err != nil {
			return refreshErrMsg{err}
		}
		return refreshMsg{snapshot: snap, tasks: tasks}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refresh()
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
			return m, nil
		}
		var cmd tea.Cmd
		m.feedView, cmd = m.feedView.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case eventMsg:
		m.appendEvent(broadcast.Event(msg))
		// Status changes carry a fresh snapshot; re-pull tasks too.
		if msg.Type == broadcast.TypeTaskStatus || msg.Type == broadcast.TypeQueue {
			return m, tea.Batch(m.listen(), m.refresh())
		}
		return m, m.listen()

	case feedClosedMsg:
		m.feedClosed = true
		return m, nil

	case refreshMsg:
		m.snapshot = msg.snapshot
		m.tasks = msg.tasks
		m.lastErr = nil
		return m, nil

	case refreshErrMsg:
		m.lastErr = msg.err
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())
	}
	return m, nil
}

func (m *Model) layout() {
	feedHeight := m.height - m.headerHeight() - 2
	if feedHeight < 3 {
		feedHeight = 3
	}
	m.feedView.Width = m.width
	m.feedView.Height = feedHeight
	m.feedView.SetContent(strings.Join(m.feed, "\n"))
}

func (m *Model) headerHeight() int {
	// Title, session table (header + separator + rows), blank line.
	return 4 + len(m.snapshot.Sessions)
}

func (m *Model) appendEvent(ev broadcast.Event) {
	line := formatEvent(ev)
	if line == "" {
		return
	}
	m.feed = append(m.feed, line)
	if len(m.feed) > maxFeedLines {
		m.feed = m.feed[len(m.feed)-maxFeedLines:]
	}
	atBottom := m.feedView.AtBottom()
	m.feedView.SetContent(strings.Join(m.feed, "\n"))
	if atBottom {
		m.feedView.GotoBottom()
	}
}

// formatEvent renders one feed line. Unknown event types fall back to
// the type name rather than vanishing.
func formatEvent(ev broadcast.Event) string {
	stamp := style.Dim.Render(ev.Timestamp.Format("15:04:05"))
	switch ev.Type {
	case broadcast.TypeTaskStatus:
		if ev.TaskID == "" {
			return ""
		}
		return fmt.Sprintf("%s %s → %s", stamp, shortID(ev.TaskID), style.Status(task.Status(ev.Status)))
	case broadcast.TypeContext:
		if pct, ok := payloadInt(ev.Payload, "context_left"); ok {
			return fmt.Sprintf("%s %s context %s", stamp, shortID(ev.TaskID), style.ContextPercent(pct))
		}
	case broadcast.TypeTaskLog:
		return fmt.Sprintf("%s %s %s", stamp, shortID(ev.TaskID), ev.Message)
	case broadcast.TypeQueue:
		return fmt.Sprintf("%s queue changed", stamp)
	case broadcast.TypeSettings:
		return fmt.Sprintf("%s settings changed", stamp)
	}
	return fmt.Sprintf("%s %s", stamp, ev.Type)
}

func payloadInt(payload map[string]any, field string) (int, bool) {
	v, ok := payload[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64: // JSON numbers decode as float64
		return int(n), true
	}
	return 0, false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// View implements tea.Model.
func (m *Model) View() string {
	var sb strings.Builder

	sb.WriteString(style.Title.Render("overseer"))
	sb.WriteString(style.Dim.Render(fmt.Sprintf("  %d/%d sessions", m.snapshot.Active, m.snapshot.MaxConcurrent)))
	if len(m.snapshot.Queued) > 0 {
		sb.WriteString(style.Dim.Render(fmt.Sprintf(", %d queued", len(m.snapshot.Queued))))
	}
	if m.feedClosed {
		sb.WriteString("  " + style.Fail("event feed lost"))
	}
	if m.lastErr != nil {
		sb.WriteString("  " + style.Fail(m.lastErr.Error()))
	}
	sb.WriteString("\n\n")

	sb.WriteString(m.sessionTable())
	sb.WriteString("\n")
	sb.WriteString(m.feedView.View())
	sb.WriteString("\n")
	sb.WriteString(m.help.View(m.keys))
	return sb.String()
}

func (m *Model) sessionTable() string {
	tbl := style.NewTable(
		style.Column{Name: "TASK", Width: 10},
		style.Column{Name: "STATUS", Width: 14},
		style.Column{Name: "CLI", Width: 12},
		style.Column{Name: "CTX", Width: 5, Right: true},
		style.Column{Name: "STARTED", Width: 9},
	)
	for _, s := range m.snapshot.Sessions {
		tbl.AddRow(
			shortID(s.TaskID),
			style.Status(task.Status(s.Status)),
			s.CLI,
			style.ContextPercent(s.ContextLeft),
			s.StartedAt.Format("15:04:05"),
		)
	}
	if len(m.snapshot.Sessions) == 0 {
		tbl.AddRow(style.Dim.Render("idle"), "", "", "", "")
	}
	return tbl.Render()
}
