// Package quota tracks each session's context-window budget. The
// terminal repaints constantly and percent markers scroll past out of
// order, so observed values are clamped monotone: context only shrinks
// until the session restarts.
package quota

import (
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// historySize bounds the per-tracker snapshot ring.
const historySize = 32

// Snapshot records one accepted context observation.
type Snapshot struct {
	At      time.Time `json:"at"`
	Percent int       `json:"percent"`
}

// Tracker follows one session's remaining-context percentage.
type Tracker struct {
	mu        sync.Mutex
	percent   int // remaining percent, 100 when nothing observed yet
	observed  bool
	startedAt time.Time
	history   []Snapshot
}

// NewTracker creates a tracker for a session started now.
func NewTracker() *Tracker {
	return NewTrackerAt(time.Now())
}

// NewTrackerAt creates a tracker with an explicit session start, used
// when re-attaching to a recovered session.
func NewTrackerAt(start time.Time) *Tracker {
	return &Tracker{percent: 100, startedAt: start}
}

// Observe feeds a remaining-context percent parsed from terminal
// output. Values above the current one are stale repaints and are
// ignored. Returns the effective percent and whether the observation
// was accepted.
func (t *Tracker) Observe(percent int) (int, bool) {
	if percent < 0 || percent > 100 {
		return t.Percent(), false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.observed && percent > t.percent {
		return t.percent, false
	}
	t.percent = percent
	t.observed = true
	t.history = append(t.history, Snapshot{At: time.Now(), Percent: percent})
	if len(t.history) > historySize {
		t.history = t.history[len(t.history)-historySize:]
	}
	return percent, true
}

// Percent returns the current remaining-context percent.
func (t *Tracker) Percent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}

// Observed reports whether any marker has been accepted yet.
func (t *Tracker) Observed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.observed
}

// StartedAt returns the session start the tracker was created with.
func (t *Tracker) StartedAt() time.Time {
	return t.startedAt
}

// ShouldRestart reports whether the session should be recycled:
// remaining context at or below threshold, and the session has run at
// least minRun (fresh sessions can briefly show garbage markers).
func (t *Tracker) ShouldRestart(threshold int, minRun time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.observed || t.percent > threshold {
		return false
	}
	return time.Since(t.startedAt) >= minRun
}

// Reset starts a fresh budget after a session restart.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.percent = 100
	t.observed = false
	t.startedAt = time.Now()
	t.history = nil
}

// History returns a copy of the accepted observations, oldest first.
func (t *Tracker) History() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, len(t.history))
	copy(out, t.history)
	return out
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimatePercent approximates remaining context from raw transcript
// text when the CLI prints no percent marker. maxTokens is the
// adapter's context window. Falls back to a bytes/4 heuristic if the
// tokenizer is unavailable.
func EstimatePercent(text string, maxTokens int) int {
	if maxTokens <= 0 {
		return 100
	}

	var used int
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		used = len(encoding.Encode(text, nil, nil))
	} else {
		used = len(text) / 4
	}

	remaining := 100 - used*100/maxTokens
	if remaining < 0 {
		return 0
	}
	if remaining > 100 {
		return 100
	}
	return remaining
}
