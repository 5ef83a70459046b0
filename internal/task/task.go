// Package task defines task records and their legal status transitions.
package task

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/overseer-cli/overseer/internal/cliadapter"
)

// Status is the persisted lifecycle state of a task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusInReviewing Status = "in_reviewing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusInReviewing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Live reports whether a task in this status owns a session.
func (s Status) Live() bool {
	return s == StatusInProgress || s == StatusInReviewing
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ReviewMode is the per-task review override. The zero value inherits
// the global review setting.
type ReviewMode int

const (
	ReviewInherit ReviewMode = iota
	ReviewOn
	ReviewOff
)

func (m ReviewMode) String() string {
	switch m {
	case ReviewOn:
		return "on"
	case ReviewOff:
		return "off"
	}
	return "inherit"
}

// ParseReviewMode maps the wire strings back to a mode. Empty means
// inherit.
func ParseReviewMode(s string) (ReviewMode, error) {
	switch s {
	case "", "inherit":
		return ReviewInherit, nil
	case "on":
		return ReviewOn, nil
	case "off":
		return ReviewOff, nil
	}
	return ReviewInherit, fmt.Errorf("unknown review mode %q", s)
}

func (m ReviewMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *ReviewMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	mode, err := ParseReviewMode(s)
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Task is the persisted work item: a project directory plus a Markdown
// document whose unchecked boxes are the remaining work.
type Task struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	ProjectDir  string          `json:"project_dir"`
	DocPath     string          `json:"doc_path"` // relative to ProjectDir
	Status      Status          `json:"status"`
	CLIType     cliadapter.Kind `json:"cli_type,omitempty"` // per-task CLI override; empty means use the default
	Review      ReviewMode      `json:"review"`
	CallbackURL string          `json:"callback_url,omitempty"`
	LastPID     int             `json:"last_pid,omitempty"` // OS pid of the most recent session, 0 if unknown
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// FullDocPath returns the absolute path of the task document.
func (t *Task) FullDocPath() string {
	return filepath.Join(t.ProjectDir, t.DocPath)
}

// ProjectName returns the last element of the project directory.
func (t *Task) ProjectName() string {
	return filepath.Base(t.ProjectDir)
}

// EffectiveReview resolves the tri-state review flag against the global
// setting: a per-task override wins, inherit falls through.
func (t *Task) EffectiveReview(global bool) bool {
	switch t.Review {
	case ReviewOn:
		return true
	case ReviewOff:
		return false
	}
	return global
}
