package tui

import (
	"strings"
	"testing"

	"bos-cli/internal/hierarchy"
	"bos-cli/internal/model"

	"github.com/charmbracelet/lipgloss"
	xansi "github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

func stripANSI(s string) string { return xansi.Strip(s) }

func withColor(t *testing.T, dark bool) {
	t.Helper()
	old := lipgloss.ColorProfile()
	oldBg := lipgloss.HasDarkBackground()
	lipgloss.SetColorProfile(termenv.ANSI256)
	lipgloss.SetHasDarkBackground(dark)
	t.Cleanup(func() {
		lipgloss.SetColorProfile(old)
		lipgloss.SetHasDarkBackground(oldBg)
	})
}

func row(t model.Task, depth int, hasSubtasks, expanded bool) hierarchy.Row {
	return hierarchy.Row{Node: &hierarchy.Node{Task: t}, Depth: depth, HasSubtasks: hasSubtasks, IsExpanded: expanded}
}

func TestOutlineDelegate_RowIsExactlyWidth(t *testing.T) {
	withColor(t, true)
	d := newOutlineItemDelegate()
	r := row(model.Task{ID: "a", Title: "Frame the north wall", Status: "in_progress"}, 1, true, false)

	for _, w := range []int{12, 40, 80} {
		got := d.renderOutlineRow(w, r, false)
		if gw := xansi.StringWidth(got); gw != w {
			t.Fatalf("width %d: rendered %d cells: %q", w, gw, got)
		}
	}
	plain := stripANSI(d.renderOutlineRow(80, r, false))
	if !strings.HasPrefix(plain, "  ▸ IN PROGRESS Frame the north wall") {
		t.Fatalf("unexpected row layout: %q", plain)
	}
}

func TestOutlineDelegate_ExpandedAndLeafTwisty(t *testing.T) {
	withColor(t, true)
	d := newOutlineItemDelegate()
	open := stripANSI(d.renderOutlineRow(40, row(model.Task{ID: "a", Title: "A"}, 0, true, true), false))
	if !strings.HasPrefix(open, "▾ A") {
		t.Fatalf("expanded row = %q", open)
	}
	leaf := stripANSI(d.renderOutlineRow(40, row(model.Task{ID: "b", Title: "B"}, 2, false, false), false))
	if !strings.HasPrefix(leaf, "      B") {
		t.Fatalf("leaf row = %q", leaf)
	}
}

func TestOutlineDelegate_DoneIsStruckAndFocusedIsHighlighted(t *testing.T) {
	withColor(t, true)
	d := newOutlineItemDelegate()
	done := d.renderOutlineRow(60, row(model.Task{ID: "a", Title: "Ship it", Status: "done"}, 0, false, false), false)
	if !strings.Contains(done, ";9m") && !strings.Contains(done, "[9m") {
		t.Fatalf("expected strikethrough in done row; got %q", done)
	}

	focused := d.renderOutlineRow(60, row(model.Task{ID: "a", Title: "Ship it", Status: "todo"}, 0, false, false), true)
	plain := d.renderOutlineRow(60, row(model.Task{ID: "a", Title: "Ship it", Status: "todo"}, 0, false, false), false)
	if focused == plain {
		t.Fatalf("focused row must be styled differently")
	}
	if !strings.Contains(focused, "48;") {
		t.Fatalf("expected a background color on the focused row; got %q", focused)
	}
}
