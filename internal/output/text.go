package output

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	tableIndent = "  "
	columnGap   = "  "
	ellipsis    = "..."
)

// Table collects rows and writes them as aligned columns under a dashed
// header rule. Cells may carry ANSI styling; widths are measured on the
// visible text.
type Table struct {
	w      io.Writer
	header []string
	rows   [][]string
}

// NewTable starts a table with the given column headers.
func NewTable(w io.Writer, header ...string) *Table {
	return &Table{w: w, header: header}
}

// AddRow appends a row. Missing cells render empty; extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.header))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Render writes the table.
func (t *Table) Render() {
	widths := make([]int, len(t.header))
	measure := func(row []string) {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	measure(t.header)
	for _, row := range t.rows {
		measure(row)
	}

	rule := make([]string, len(widths))
	for i, n := range widths {
		rule[i] = strings.Repeat("-", n)
	}

	var b strings.Builder
	for _, row := range append([][]string{t.header, rule}, t.rows...) {
		b.WriteString(tableIndent)
		for i, cell := range row {
			if i > 0 {
				b.WriteString(columnGap)
			}
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
		}
		b.WriteByte('\n')
	}
	io.WriteString(t.w, b.String())
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	switch {
	case len(r) <= n:
		return s
	case n <= len(ellipsis):
		return string(r[:n])
	default:
		return string(r[:n-len(ellipsis)]) + ellipsis
	}
}
