// Package style provides consistent terminal styling using Lipgloss.
package style

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/overseer-cli/overseer/internal/task"
)

// Shared text styles.
var (
	Bold  = lipgloss.NewStyle().Bold(true)
	Dim   = lipgloss.NewStyle().Faint(true)
	Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Status renders a task status in its conventional color.
func Status(s task.Status) string {
	switch s {
	case task.StatusInProgress:
		return cyan.Render(string(s))
	case task.StatusInReviewing:
		return yellow.Render(string(s))
	case task.StatusCompleted:
		return green.Render(string(s))
	case task.StatusFailed:
		return red.Render(string(s))
	}
	return Dim.Render(string(s))
}

// ContextPercent renders remaining context, red when nearly exhausted.
func ContextPercent(p int) string {
	text := fmt.Sprintf("%d%%", p)
	switch {
	case p <= 15:
		return red.Render(text)
	case p <= 40:
		return yellow.Render(text)
	}
	return green.Render(text)
}

// Checkboxes renders "done/total" progress, green when complete.
func Checkboxes(completed, total int) string {
	text := fmt.Sprintf("%d/%d", completed, total)
	if total > 0 && completed >= total {
		return green.Render(text)
	}
	return text
}

// OK and Fail mark one-line results in command output.
func OK(text string) string   { return green.Render("✓ " + text) }
func Fail(text string) string { return red.Render("✗ " + text) }

// TermWidth returns the terminal width, or fallback when stdout is not
// a terminal.
func TermWidth(fallback int) int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}
