// Package templates provides the embedded prompt templates injected
// into assistant sessions: the initial assignment, resume and continue
// prompts, the review pass, and the status-check nudge.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"golang.org/x/text/language"
)

//go:embed prompts/en/*.md.tmpl prompts/zh/*.md.tmpl
var promptFS embed.FS

// Prompt kinds. Each maps to one template file per locale.
const (
	KindInitial     = "initial_task"
	KindResume      = "resume_task"
	KindContinue    = "continue_task"
	KindReview      = "review"
	KindStatusCheck = "status_check"
)

// PromptData carries the variables every prompt template may reference.
type PromptData struct {
	TaskID     string
	Title      string
	DocPath    string
	ProjectDir string
	APIBaseURL string
	CLIName    string
}

// supported locales, English first so it wins ambiguous matches.
var matcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Chinese,
})

// Templates renders prompt templates for a matched locale.
type Templates struct {
	byLocale map[string]*template.Template
}

// New parses the embedded prompt sets for every locale.
func New() (*Templates, error) {
	t := &Templates{byLocale: make(map[string]*template.Template)}
	for _, locale := range []string{"en", "zh"} {
		parsed, err := template.ParseFS(promptFS, "prompts/"+locale+"/*.md.tmpl")
		if err != nil {
			return nil, fmt.Errorf("parsing %s prompt templates: %w", locale, err)
		}
		t.byLocale[locale] = parsed
	}
	return t, nil
}

// Render executes the prompt template of the given kind in the closest
// supported locale. Unknown locales fall back to English.
func (t *Templates) Render(kind, locale string, data PromptData) (string, error) {
	tag, _ := language.MatchStrings(matcher, locale)
	set := t.byLocale[localeKey(tag)]

	var buf bytes.Buffer
	if err := set.ExecuteTemplate(&buf, kind+".md.tmpl", data); err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", kind, err)
	}
	return buf.String(), nil
}

// Kinds lists the available prompt kinds.
func Kinds() []string {
	return []string{KindInitial, KindResume, KindContinue, KindReview, KindStatusCheck}
}

func localeKey(tag language.Tag) string {
	base, _ := tag.Base()
	if base.String() == "zh" {
		return "zh"
	}
	return "en"
}
