package cliadapter

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// codexContextRe matches the context meter in the Codex status footer,
// e.g. "72% context left".
var codexContextRe = regexp.MustCompile(`(\d{1,3})% context left`)

// Codex adapts the OpenAI Codex CLI.
type Codex struct {
	path string
}

// NewCodex creates the adapter, resolving the codex binary from PATH.
func NewCodex() *Codex {
	p, err := exec.LookPath("codex")
	if err != nil {
		p = "codex"
	}
	return &Codex{path: p}
}

func (c *Codex) Kind() Kind   { return KindCodex }
func (c *Codex) Name() string { return "OpenAI Codex CLI" }

func (c *Codex) Available() bool {
	_, err := exec.LookPath("codex")
	return err == nil
}

func (c *Codex) LaunchCommand(dir, promptFile string, dangerous bool) []string {
	argv := []string{c.path}
	if dangerous {
		argv = append(argv, "--yolo")
	}
	argv = append(argv, readPromptArg(promptFile))
	return argv
}

func (c *Codex) ParseContextRemaining(chunk string) (int, bool) {
	return lastPercentMatch(codexContextRe, chunk)
}

func (c *Codex) IdleSignature(tail string) bool {
	trimmed := strings.TrimRight(tail, " \n\r")
	if strings.HasSuffix(trimmed, "▌") {
		return true
	}
	// The composer hint shown while Codex waits for input.
	return strings.Contains(tail, "⏎ send")
}

func (c *Codex) ResumePrompt(docPath string) string {
	return fmt.Sprintf("The previous session ended before the work was done. "+
		"Read %s, find the first unchecked checkbox, and continue from there. "+
		"Check each box off as you complete it.", docPath)
}

func (c *Codex) MaxContextTokens() int { return 128000 }
