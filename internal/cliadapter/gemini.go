package cliadapter

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// geminiContextRe matches the parenthesised meter in the Gemini footer,
// e.g. "(88% context left)".
var geminiContextRe = regexp.MustCompile(`\((\d{1,3})% context left\)`)

// Gemini adapts the Google Gemini CLI.
type Gemini struct {
	path string
}

// NewGemini creates the adapter, resolving the gemini binary from PATH.
func NewGemini() *Gemini {
	p, err := exec.LookPath("gemini")
	if err != nil {
		p = "gemini"
	}
	return &Gemini{path: p}
}

func (g *Gemini) Kind() Kind   { return KindGemini }
func (g *Gemini) Name() string { return "Google Gemini CLI" }

func (g *Gemini) Available() bool {
	_, err := exec.LookPath("gemini")
	return err == nil
}

func (g *Gemini) LaunchCommand(dir, promptFile string, dangerous bool) []string {
	argv := []string{g.path}
	if dangerous {
		argv = append(argv, "-y")
	}
	argv = append(argv, "-i", readPromptArg(promptFile))
	return argv
}

func (g *Gemini) ParseContextRemaining(chunk string) (int, bool) {
	return lastPercentMatch(geminiContextRe, chunk)
}

func (g *Gemini) IdleSignature(tail string) bool {
	trimmed := strings.TrimRight(tail, " \n\r")
	if strings.HasSuffix(trimmed, ">") {
		return true
	}
	return strings.Contains(tail, "Type your message")
}

func (g *Gemini) ResumePrompt(docPath string) string {
	return fmt.Sprintf("The previous session ended before the work was done. "+
		"Read %s, find the first unchecked checkbox, and continue from there. "+
		"Check each box off as you complete it.", docPath)
}

func (g *Gemini) MaxContextTokens() int { return 1000000 }
