// Package settings holds the mutable runtime settings of the
// orchestrator. Readers get an immutable snapshot through an atomic
// pointer, so hot paths never take a lock; writers swap whole
// snapshots and persist them through a pluggable store.
package settings

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overseer-cli/overseer/internal/cliadapter"
	"github.com/overseer-cli/overseer/internal/terminal"
)

// Snapshot is one immutable settings generation. Copy, never mutate.
type Snapshot struct {
	Terminal      terminal.Kind   `json:"terminal"`
	DefaultCLI    cliadapter.Kind `json:"default_cli"`
	ReviewEnabled bool            `json:"review_enabled"`
	ReviewCLI     cliadapter.Kind `json:"review_cli"`
	MaxConcurrent int             `json:"max_concurrent_sessions"`
	Language      string          `json:"language"`

	// Supervision knobs. Not exposed through the settings API in the
	// original tool but configurable here for tests and tuning.
	SweepInterval    time.Duration `json:"-"`
	HeartbeatTimeout time.Duration `json:"-"`
	RestartThreshold int           `json:"-"` // context percent at or below which a session restarts
	MinSessionRun    time.Duration `json:"-"` // context restarts suppressed before this runtime
	SpawnTimeout     time.Duration `json:"-"`
	StopGrace        time.Duration `json:"-"`
}

// Defaults returns the out-of-the-box settings.
func Defaults() Snapshot {
	return Snapshot{
		Terminal:      terminal.KindAuto,
		DefaultCLI:    cliadapter.KindClaudeCode,
		ReviewEnabled: false,
		ReviewCLI:     cliadapter.KindCodex,
		MaxConcurrent: 3,
		Language:      "en",

		SweepInterval:    30 * time.Second,
		HeartbeatTimeout: 300 * time.Second,
		RestartThreshold: 15,
		MinSessionRun:    60 * time.Second,
		SpawnTimeout:     10 * time.Second,
		StopGrace:        5 * time.Second,
	}
}

// Persister saves a snapshot's user-facing fields. The SQLite settings
// table implements this; tests pass nil.
type Persister interface {
	SaveSettings(s Snapshot) error
}

// Store publishes settings snapshots.
type Store struct {
	cur       atomic.Pointer[Snapshot]
	mu        sync.Mutex // serializes writers
	persister Persister
}

// NewStore creates a store seeded with a snapshot.
func NewStore(initial Snapshot, p Persister) *Store {
	s := &Store{persister: p}
	s.cur.Store(&initial)
	return s
}

// Current returns the live snapshot. The returned value must not be
// mutated; call Update to change settings.
func (s *Store) Current() Snapshot {
	return *s.cur.Load()
}

// Update applies fn to a copy of the current snapshot, validates it,
// persists it, and publishes it. fn runs under the writer lock.
func (s *Store) Update(fn func(*Snapshot)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.cur.Load()
	fn(&next)
	if err := Validate(next); err != nil {
		return Snapshot{}, err
	}
	if s.persister != nil {
		if err := s.persister.SaveSettings(next); err != nil {
			return Snapshot{}, fmt.Errorf("persisting settings: %w", err)
		}
	}
	s.cur.Store(&next)
	return next, nil
}

// Validate rejects snapshots that would break supervision.
func Validate(s Snapshot) error {
	if _, err := cliadapter.ForKind(s.DefaultCLI); err != nil {
		return fmt.Errorf("default_cli: %w", err)
	}
	if _, err := cliadapter.ForKind(s.ReviewCLI); err != nil {
		return fmt.Errorf("review_cli: %w", err)
	}
	if !validTerminal(s.Terminal) {
		return fmt.Errorf("terminal: unsupported kind %q on this platform", s.Terminal)
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrent)
	}
	if s.Language != "en" && s.Language != "zh" {
		return fmt.Errorf("language must be en or zh, got %q", s.Language)
	}
	if s.RestartThreshold < 0 || s.RestartThreshold > 100 {
		return fmt.Errorf("restart threshold out of range: %d", s.RestartThreshold)
	}
	return nil
}

func validTerminal(k terminal.Kind) bool {
	for _, sup := range terminal.Supported() {
		if k == sup {
			return true
		}
	}
	return false
}
