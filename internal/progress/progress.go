// Package progress inspects Markdown task documents for checkbox
// completion. Checkboxes under a heading marked optional (or marked
// optional inline) are counted separately and never gate completion.
package progress

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// cacheTTL bounds how stale a cached report may be. The watchdog polls
// documents every sweep, so parses are deduplicated across that window.
const cacheTTL = 30 * time.Second

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+`)
	uncheckedRe = regexp.MustCompile(`^\s*[-*+]\s*\[\s\]\s*\S`)
	checkedRe   = regexp.MustCompile(`^\s*[-*+]\s*\[[xX]\]\s*\S`)
)

// Report summarizes checkbox state of one document. Optional items are
// counted but excluded from Total/Completed/Remaining.
type Report struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Remaining int `json:"remaining"`
	Optional  int `json:"optional"`
}

// Done reports whether every required checkbox is ticked.
func (r Report) Done() bool { return r.Remaining == 0 }

// Summary renders the report as a short human-readable line.
func (r Report) Summary() string {
	if r.Total == 0 && r.Optional == 0 {
		return "no tasks found in document"
	}
	var opt string
	if r.Optional > 0 {
		opt = fmt.Sprintf(", %d optional excluded", r.Optional)
	}
	return fmt.Sprintf("%d/%d completed (%d remaining%s)", r.Completed, r.Total, r.Remaining, opt)
}

type cacheEntry struct {
	report Report
	mtime  time.Time
}

// Inspector parses task documents with a short-lived cache keyed by
// path and invalidated on file modification.
type Inspector struct {
	cache *cache.Cache
}

// NewInspector creates an inspector with the default cache TTL.
func NewInspector() *Inspector {
	return &Inspector{cache: cache.New(cacheTTL, 2*cacheTTL)}
}

// Inspect parses the document at path and returns its checkbox report.
// Results are cached for a short window unless the file changes.
func (in *Inspector) Inspect(path string) (Report, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Report{}, fmt.Errorf("stating task document: %w", err)
	}

	if v, ok := in.cache.Get(path); ok {
		entry := v.(cacheEntry)
		if !fi.ModTime().After(entry.mtime) {
			return entry.report, nil
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("reading task document: %w", err)
	}

	report := Parse(string(raw))
	in.cache.Set(path, cacheEntry{report: report, mtime: fi.ModTime()}, cache.DefaultExpiration)
	return report, nil
}

// Invalidate drops the cached report for a path, forcing the next
// Inspect to re-parse. With empty path the whole cache is flushed.
func (in *Inspector) Invalidate(path string) {
	if path == "" {
		in.cache.Flush()
		return
	}
	in.cache.Delete(path)
}

// Parse scans Markdown content and counts required and optional
// checkboxes. A heading containing "optional" (or the Chinese marker)
// puts everything until the next same-or-higher heading in the optional
// bucket; individual items can also be marked optional inline.
func Parse(content string) Report {
	var rep Report

	inOptional := false
	optionalLevel := 0

	for _, line := range strings.Split(content, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			switch {
			case isOptionalMarker(line):
				inOptional = true
				optionalLevel = level
			case inOptional && level <= optionalLevel:
				inOptional = false
				optionalLevel = 0
			}
			continue
		}

		checked := checkedRe.MatchString(line)
		unchecked := !checked && uncheckedRe.MatchString(line)
		if !checked && !unchecked {
			continue
		}

		if inOptional || isOptionalMarker(line) {
			rep.Optional++
			continue
		}
		rep.Total++
		if checked {
			rep.Completed++
		} else {
			rep.Remaining++
		}
	}

	return rep
}

func isOptionalMarker(line string) bool {
	return strings.Contains(strings.ToLower(line), "optional") ||
		strings.Contains(line, "可选")
}
