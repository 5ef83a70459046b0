// Package cliadapter abstracts the supported AI coding CLIs.
//
// Each adapter is a capability record: it knows how to build the launch
// command for its CLI, how to spot the CLI's context-remaining marker in
// terminal output, and what the CLI's idle prompt looks like. The session
// manager stores adapters behind this interface and never branches on the
// concrete kind.
package cliadapter

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUnknownKind = errors.New("unknown CLI kind")
	ErrUnavailable = errors.New("CLI not installed")
)

// Kind identifies a supported CLI.
type Kind string

const (
	KindClaudeCode Kind = "claude_code"
	KindCodex      Kind = "codex"
	KindGemini     Kind = "gemini"
)

// Kinds lists every supported CLI kind in preference order.
func Kinds() []Kind {
	return []Kind{KindClaudeCode, KindCodex, KindGemini}
}

// Valid reports whether k names a supported CLI.
func (k Kind) Valid() bool {
	switch k {
	case KindClaudeCode, KindCodex, KindGemini:
		return true
	}
	return false
}

// Adapter is the per-CLI capability set.
type Adapter interface {
	// Kind returns the adapter's CLI kind.
	Kind() Kind

	// Name returns the human-readable CLI name.
	Name() string

	// Available reports whether the CLI binary is installed.
	Available() bool

	// LaunchCommand builds the shell argv that starts the CLI in dir with
	// the prompt stored in promptFile. dangerous opts into the CLI's
	// auto-approve flag. The terminal adapter joins the argv into a shell
	// line, so elements may use shell substitution to read the prompt file.
	LaunchCommand(dir, promptFile string, dangerous bool) []string

	// ParseContextRemaining scans an output chunk for the CLI's context
	// indicator and returns the remaining percentage when one is present.
	// A false return means "no new information", never zero.
	ParseContextRemaining(chunk string) (int, bool)

	// IdleSignature reports whether the output tail matches the CLI's idle
	// prompt, i.e. the CLI is waiting for input.
	IdleSignature(tail string) bool

	// ResumePrompt returns the fallback instruction injected when a session
	// restarts mid-task and the template renderer is unavailable. It tells
	// the CLI to re-read the document and continue from the first unchecked
	// checkbox.
	ResumePrompt(docPath string) string

	// MaxContextTokens returns the CLI's nominal context window size, used
	// by the quota tracker's token-count fallback.
	MaxContextTokens() int
}

// ForKind returns the adapter for a CLI kind.
func ForKind(kind Kind) (Adapter, error) {
	switch kind {
	case KindClaudeCode:
		return NewClaudeCode(), nil
	case KindCodex:
		return NewCodex(), nil
	case KindGemini:
		return NewGemini(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Resolve returns an installed adapter for the kind, or ErrUnavailable
// when the CLI binary cannot be found.
func Resolve(kind Kind) (Adapter, error) {
	a, err := ForKind(kind)
	if err != nil {
		return nil, err
	}
	if !a.Available() {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, a.Name())
	}
	return a, nil
}

// Alternate picks a CLI kind different from avoid for cross-review,
// preferring installed CLIs in Kinds() order. Falls back to the first
// different kind when nothing else is installed.
func Alternate(avoid Kind) Kind {
	var fallback Kind
	for _, k := range Kinds() {
		if k == avoid {
			continue
		}
		if fallback == "" {
			fallback = k
		}
		if a, err := ForKind(k); err == nil && a.Available() {
			return k
		}
	}
	return fallback
}

// Available returns the kinds whose CLI binary is installed.
func Available() []Kind {
	var out []Kind
	for _, k := range Kinds() {
		if a, err := ForKind(k); err == nil && a.Available() {
			out = append(out, k)
		}
	}
	return out
}

// readPromptArg produces a shell substitution that expands to the prompt
// file's contents when the terminal adapter runs the joined command line.
func readPromptArg(promptFile string) string {
	return fmt.Sprintf(`"$(cat %q)"`, promptFile)
}
