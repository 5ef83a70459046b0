package progress

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Report
	}{
		{
			name:    "empty document",
			content: "",
			want:    Report{},
		},
		{
			name: "mixed checkboxes",
			content: `# Tasks
- [x] write parser
- [ ] write tests
* [X] wire cache
+ [ ] docs
`,
			want: Report{Total: 4, Completed: 2, Remaining: 2},
		},
		{
			name: "optional section excluded",
			content: `# Tasks
- [ ] required one

## Optional extras
- [ ] nice to have
- [x] already done extra

## Back to required
- [x] required two
`,
			want: Report{Total: 2, Completed: 1, Remaining: 1, Optional: 2},
		},
		{
			name: "optional subsection ends at parent level",
			content: `## Main
- [ ] a

### Optional
- [ ] opt

## Next
- [ ] b
`,
			want: Report{Total: 2, Remaining: 2, Optional: 1},
		},
		{
			name: "inline optional marker",
			content: `- [ ] ship it
- [ ] polish animations (optional)
- [ ] 翻译文档（可选）
`,
			want: Report{Total: 1, Remaining: 1, Optional: 2},
		},
		{
			name: "chinese optional heading",
			content: `# 任务
- [x] 核心功能

## 可选任务
- [ ] 性能优化
`,
			want: Report{Total: 1, Completed: 1, Optional: 1},
		},
		{
			name: "non-checkbox bullets ignored",
			content: `- plain bullet
- [] malformed
- [y] not a checkbox
`,
			want: Report{},
		},
		{
			name: "indented nested checkboxes counted",
			content: `- [x] parent
  - [ ] child
`,
			want: Report{Total: 2, Completed: 1, Remaining: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Parse(tt.content); got != tt.want {
				t.Errorf("Parse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReportDoneAndSummary(t *testing.T) {
	done := Report{Total: 3, Completed: 3, Remaining: 0, Optional: 1}
	if !done.Done() {
		t.Error("report with zero remaining should be done")
	}
	if got, want := done.Summary(), "3/3 completed (0 remaining, 1 optional excluded)"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}

	empty := Report{}
	if got, want := empty.Summary(), "no tasks found in document"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestInspectorCachesUntilModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "TODO.md")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write("- [ ] one\n")
	in := NewInspector()

	rep, err := in.Inspect(path)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Remaining != 1 {
		t.Fatalf("Remaining = %d, want 1", rep.Remaining)
	}

	// Rewrite without touching mtime ordering guarantees; invalidate to
	// force the re-parse deterministically.
	write("- [x] one\n")
	in.Invalidate(path)

	rep, err = in.Inspect(path)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Done() {
		t.Errorf("after completing all tasks, report = %+v", rep)
	}
}

func TestInspectMissingFile(t *testing.T) {
	in := NewInspector()
	if _, err := in.Inspect(filepath.Join(t.TempDir(), "absent.md")); err == nil {
		t.Error("Inspect on missing file should error")
	}
}
