package display

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Table is a plain column-aligned table. Cells are measured by display width
// so wide characters line up.
type Table struct {
	Headers []string
	Rows    [][]string

	// Shrink is the column truncated in the middle when the table is wider
	// than MaxWidth. Ignored when MaxWidth is 0.
	Shrink   int
	MaxWidth int

	// CellStyle styles a padded cell (optional).
	CellStyle func(row, col int, value string) lipgloss.Style
	// HeaderStyle styles the header row.
	HeaderStyle lipgloss.Style
}

const columnGap = "  "

// Render writes the table to w.
func (t *Table) Render(w io.Writer) error {
	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.Rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], runewidth.StringWidth(row[i]))
		}
	}

	if t.MaxWidth > 0 && t.Shrink >= 0 && t.Shrink < len(widths) {
		total := len(columnGap) * (len(widths) - 1)
		for _, cw := range widths {
			total += cw
		}
		if over := total - t.MaxWidth; over > 0 {
			floor := runewidth.StringWidth(t.Headers[t.Shrink])
			widths[t.Shrink] = max(floor, widths[t.Shrink]-over)
		}
	}

	var b strings.Builder
	t.writeRow(&b, -1, t.Headers, widths)
	for r, row := range t.Rows {
		t.writeRow(&b, r, row, widths)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Table) writeRow(b *strings.Builder, r int, cells []string, widths []int) {
	for i, cw := range widths {
		var v string
		if i < len(cells) {
			v = cells[i]
		}
		if runewidth.StringWidth(v) > cw {
			v = MiddleTruncate(v, cw)
		}
		last := i == len(widths)-1
		padded := v
		if !last {
			padded = runewidth.FillRight(v, cw)
		}

		switch {
		case r < 0:
			padded = t.HeaderStyle.Render(padded)
		case t.CellStyle != nil:
			padded = t.CellStyle(r, i, v).Render(padded)
		}
		b.WriteString(padded)
		if !last {
			b.WriteString(columnGap)
		}
	}
	b.WriteByte('\n')
}
