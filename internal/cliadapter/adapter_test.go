package cliadapter

import (
	"errors"
	"strings"
	"testing"
)

func TestForKind(t *testing.T) {
	for _, k := range Kinds() {
		a, err := ForKind(k)
		if err != nil {
			t.Fatalf("ForKind(%s): %v", k, err)
		}
		if a.Kind() != k {
			t.Errorf("ForKind(%s).Kind() = %s", k, a.Kind())
		}
	}

	_, err := ForKind("zsh")
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ForKind(zsh) = %v, want ErrUnknownKind", err)
	}
}

func TestParseContextRemaining(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		chunk string
		want  int
		ok    bool
	}{
		{"claude marker", KindClaudeCode, "tokens used\nContext left until auto-compact: 34%\n", 34, true},
		{"claude repaint keeps last", KindClaudeCode, "Context left until auto-compact: 40%\nContext left until auto-compact: 22%", 22, true},
		{"claude no marker", KindClaudeCode, "compiling...\nall tests pass\n", 0, false},
		{"claude bogus percent", KindClaudeCode, "Context left until auto-compact: 140%", 0, false},
		{"codex marker", KindCodex, "  72% context left", 72, true},
		{"codex no marker", KindCodex, "$ ls\nREADME.md", 0, false},
		{"gemini marker", KindGemini, "gemini-2.5-pro (88% context left)", 88, true},
		{"gemini needs parens", KindGemini, "88% context left", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ForKind(tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			got, ok := a.ParseContextRemaining(tt.chunk)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseContextRemaining(%q) = (%d, %v), want (%d, %v)",
					tt.chunk, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestIdleSignature(t *testing.T) {
	tests := []struct {
		kind Kind
		tail string
		want bool
	}{
		{KindClaudeCode, "done.\n❯ ", true},
		{KindClaudeCode, "  ? for shortcuts\n", true},
		{KindClaudeCode, "Running tests...", false},
		{KindCodex, "▌", true},
		{KindCodex, "⏎ send   ⌃c quit", true},
		{KindCodex, "applying patch", false},
		{KindGemini, "> ", true},
		{KindGemini, "Type your message or @path/to/file", true},
		{KindGemini, "thinking...", false},
	}

	for _, tt := range tests {
		a, err := ForKind(tt.kind)
		if err != nil {
			t.Fatal(err)
		}
		if got := a.IdleSignature(tt.tail); got != tt.want {
			t.Errorf("%s.IdleSignature(%q) = %v, want %v", tt.kind, tt.tail, got, tt.want)
		}
	}
}

func TestLaunchCommandDangerousFlag(t *testing.T) {
	tests := []struct {
		kind Kind
		flag string
	}{
		{KindClaudeCode, "--dangerously-skip-permissions"},
		{KindCodex, "--yolo"},
		{KindGemini, "-y"},
	}

	for _, tt := range tests {
		a, err := ForKind(tt.kind)
		if err != nil {
			t.Fatal(err)
		}

		safe := strings.Join(a.LaunchCommand("/work", "/tmp/p.md", false), " ")
		if strings.Contains(safe, tt.flag) {
			t.Errorf("%s: auto-approve flag present without dangerous", tt.kind)
		}

		dangerous := strings.Join(a.LaunchCommand("/work", "/tmp/p.md", true), " ")
		if !strings.Contains(dangerous, tt.flag) {
			t.Errorf("%s: auto-approve flag missing with dangerous", tt.kind)
		}
		if !strings.Contains(dangerous, "/tmp/p.md") {
			t.Errorf("%s: prompt file not referenced in %q", tt.kind, dangerous)
		}
	}
}

func TestAlternateAvoidsKind(t *testing.T) {
	for _, k := range Kinds() {
		if got := Alternate(k); got == k {
			t.Errorf("Alternate(%s) = %s, must differ", k, got)
		}
	}
}

func TestResumePromptMentionsDoc(t *testing.T) {
	for _, k := range Kinds() {
		a, err := ForKind(k)
		if err != nil {
			t.Fatal(err)
		}
		p := a.ResumePrompt("TODO.md")
		if !strings.Contains(p, "TODO.md") || !strings.Contains(p, "unchecked") {
			t.Errorf("%s.ResumePrompt missing document or checkbox instruction: %q", k, p)
		}
	}
}
