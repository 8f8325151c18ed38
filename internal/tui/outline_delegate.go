package tui

import (
	"fmt"
	"io"
	"strings"

	"bos-cli/internal/format"
	"bos-cli/internal/hierarchy"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
)

type outlineRowItem struct {
	row hierarchy.Row
}

func (i outlineRowItem) FilterValue() string { return i.row.Node.Task.Title }

type outlineItemDelegate struct {
	normal   lipgloss.Style
	selected lipgloss.Style
	muted    lipgloss.Style
}

func newOutlineItemDelegate() outlineItemDelegate {
	return outlineItemDelegate{
		normal:   lipgloss.NewStyle().Foreground(colorSurfaceFg),
		selected: styleSelected(),
		muted:    styleMuted(),
	}
}

func (d outlineItemDelegate) Height() int                             { return 1 }
func (d outlineItemDelegate) Spacing() int                            { return 0 }
func (d outlineItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d outlineItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(outlineRowItem)
	if !ok || m.Width() < 4 {
		return
	}
	fmt.Fprint(w, d.renderOutlineRow(m.Width(), it.row, index == m.Index()))
}

// renderOutlineRow draws one row padded or cut to exactly width cells. The status label is its
// own segment so its reset sequence does not wipe the focused-row background.
func (d outlineItemDelegate) renderOutlineRow(width int, row hierarchy.Row, focused bool) string {
	t := row.Node.Task
	base := d.normal
	if isDone(t.Status) {
		base = d.muted.Strikethrough(true)
	}
	if focused {
		base = d.selected
	}

	twisty := " "
	if row.HasSubtasks {
		twisty = format.Marker(true, row.IsExpanded)
	}
	out := base.Render(strings.Repeat("  ", row.Depth) + twisty + " ")

	if label := strings.ToUpper(format.StatusLabel(t.Status)); label != "" {
		st := statusStyle(t.Status)
		if focused {
			st = st.Background(d.selected.GetBackground())
		}
		out += st.Render(label) + base.Render(" ")
	}
	out += base.Render(t.Title)

	curW := xansi.StringWidth(out)
	switch {
	case curW < width:
		out += base.Render(strings.Repeat(" ", width-curW))
	case curW > width:
		out = xansi.Cut(out, 0, width)
	}
	return out
}
