package style

import (
	"regexp"
	"strings"
)

// Column defines a table column with name and width.
type Column struct {
	Name  string
	Width int
	Right bool // right-align values
}

// Table renders aligned columnar output for the status commands.
type Table struct {
	columns []Column
	rows    [][]string
	indent  string
}

// NewTable creates a table with the given columns.
func NewTable(columns ...Column) *Table {
	return &Table{columns: columns, indent: "  "}
}

// AddRow appends a row; short rows are padded with empty cells.
func (t *Table) AddRow(values ...string) *Table {
	for len(values) < len(t.columns) {
		values = append(values, "")
	}
	t.rows = append(t.rows, values)
	return t
}

// Render returns the formatted table.
func (t *Table) Render() string {
	if len(t.columns) == 0 {
		return ""
	}
	var sb strings.Builder

	sb.WriteString(t.indent)
	total := 0
	for i, col := range t.columns {
		sb.WriteString(pad(Bold.Render(col.Name), col.Name, col.Width, false))
		total += col.Width
		if i < len(t.columns)-1 {
			sb.WriteString(" ")
			total++
		}
	}
	sb.WriteString("\n")
	sb.WriteString(t.indent)
	sb.WriteString(Dim.Render(strings.Repeat("─", total)))
	sb.WriteString("\n")

	for _, row := range t.rows {
		sb.WriteString(t.indent)
		for i, col := range t.columns {
			val := row[i]
			plain := stripAnsi(val)
			if len([]rune(plain)) > col.Width && col.Width > 3 {
				val = string([]rune(plain)[:col.Width-3]) + "..."
				plain = val
			}
			sb.WriteString(pad(val, plain, col.Width, col.Right))
			if i < len(t.columns)-1 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// pad aligns styled text by its plain width, so ANSI codes do not
// skew the columns.
func pad(styled, plain string, width int, right bool) string {
	n := width - len([]rune(plain))
	if n <= 0 {
		return styled
	}
	if right {
		return strings.Repeat(" ", n) + styled
	}
	return styled + strings.Repeat(" ", n)
}

// ansiRegex matches CSI escape sequences: ESC [ <params> <final byte>
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func stripAnsi(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}
