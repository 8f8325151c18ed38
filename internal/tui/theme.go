package tui

import (
	"strings"

	"bos-cli/internal/statusutil"

	"github.com/charmbracelet/lipgloss"
)

// The outline must stay readable on light and dark backgrounds, so colors are adaptive and
// faint styling is only applied on dark terminals.

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

func faintIfDark(st lipgloss.Style) lipgloss.Style {
	if lipgloss.HasDarkBackground() {
		return st.Faint(true)
	}
	return st
}

var (
	colorMuted      = ac("240", "243")
	colorSurfaceFg  = ac("235", "252")
	colorControlBg  = ac("252", "235")
	colorAccent     = ac("27", "62")
	colorSelectedBg = ac("#e9e9e9", "#262626")
	colorSelectedFg = ac("235", "255")

	colorStatusTodo  = ac("130", "214")
	colorStatusDoing = ac("27", "75")
	colorStatusDone  = ac("243", "243")
)

func styleMuted() lipgloss.Style {
	return faintIfDark(lipgloss.NewStyle().Foreground(colorMuted))
}

func styleHeader() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
}

func styleSelected() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(colorSelectedFg).Background(colorSelectedBg).Bold(true)
}

func styleError() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ac("160", "203"))
}

// statusStyle picks the label color for a stored status. Unknown statuses render muted.
func statusStyle(status string) lipgloss.Style {
	st := lipgloss.NewStyle().Bold(true)
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "todo", "open", "pending":
		return st.Foreground(colorStatusTodo)
	case "doing", "in_progress", "active":
		return st.Foreground(colorStatusDoing)
	case "done", "complete", "completed", "closed":
		return st.Foreground(colorStatusDone).Strikethrough(true)
	}
	return st.Foreground(colorMuted)
}

func isDone(status string) bool { return statusutil.IsEndState(status) }
