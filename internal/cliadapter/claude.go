package cliadapter

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// claudeContextRe matches the auto-compact warning Claude Code prints as
// its context window fills, e.g. "Context left until auto-compact: 18%".
var claudeContextRe = regexp.MustCompile(`Context left until auto-compact: (\d{1,3})%`)

// ClaudeCode adapts the Claude Code CLI.
type ClaudeCode struct {
	path string
}

// NewClaudeCode creates the adapter, resolving the claude binary from the
// user-local install first, then PATH.
func NewClaudeCode() *ClaudeCode {
	return &ClaudeCode{path: findClaude()}
}

func findClaude() string {
	if home, err := os.UserHomeDir(); err == nil {
		local := filepath.Join(home, ".claude", "local", "claude")
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}
	if p, err := exec.LookPath("claude"); err == nil {
		return p
	}
	return "claude"
}

func (c *ClaudeCode) Kind() Kind   { return KindClaudeCode }
func (c *ClaudeCode) Name() string { return "Claude Code" }

func (c *ClaudeCode) Available() bool {
	if filepath.IsAbs(c.path) {
		_, err := os.Stat(c.path)
		return err == nil
	}
	_, err := exec.LookPath(c.path)
	return err == nil
}

func (c *ClaudeCode) LaunchCommand(dir, promptFile string, dangerous bool) []string {
	argv := []string{c.path}
	if dangerous {
		argv = append(argv, "--dangerously-skip-permissions")
	}
	argv = append(argv, readPromptArg(promptFile))
	return argv
}

func (c *ClaudeCode) ParseContextRemaining(chunk string) (int, bool) {
	return lastPercentMatch(claudeContextRe, chunk)
}

func (c *ClaudeCode) IdleSignature(tail string) bool {
	trimmed := strings.TrimRight(tail, " \n\r")
	if strings.HasSuffix(trimmed, "❯") || strings.HasSuffix(trimmed, ">") {
		return true
	}
	// The REPL footer while waiting for input.
	return strings.Contains(tail, "? for shortcuts")
}

func (c *ClaudeCode) ResumePrompt(docPath string) string {
	return fmt.Sprintf("The previous session ended before the work was done. "+
		"Read %s, find the first unchecked checkbox, and continue from there. "+
		"Check each box off as you complete it.", docPath)
}

func (c *ClaudeCode) MaxContextTokens() int { return 200000 }

// lastPercentMatch returns the final percentage captured by re in chunk.
// The last match wins because a chunk can contain several repaints of the
// same status line.
func lastPercentMatch(re *regexp.Regexp, chunk string) (int, bool) {
	matches := re.FindAllStringSubmatch(chunk, -1)
	if len(matches) == 0 {
		return 0, false
	}
	pct, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil || pct > 100 {
		return 0, false
	}
	return pct, true
}
