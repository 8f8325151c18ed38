package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Toggle    key.Binding
	Expand    key.Binding
	Collapse  key.Binding
	ExpandAll key.Binding
	Reset     key.Binding
	Filter    key.Binding
	MoveUp    key.Binding
	MoveDown  key.Binding
	Detail    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:      key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		Toggle:    key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "toggle")),
		Expand:    key.NewBinding(key.WithKeys("l", "right"), key.WithHelp("l/→", "expand")),
		Collapse:  key.NewBinding(key.WithKeys("h", "left"), key.WithHelp("h/←", "collapse")),
		ExpandAll: key.NewBinding(key.WithKeys("E"), key.WithHelp("E", "expand all")),
		Reset:     key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "collapse all")),
		Filter:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "status filter")),
		MoveUp:    key.NewBinding(key.WithKeys("K", "shift+up"), key.WithHelp("K", "move up")),
		MoveDown:  key.NewBinding(key.WithKeys("J", "shift+down"), key.WithHelp("J", "move down")),
		Detail:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "description")),
		Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.Filter, k.MoveUp, k.MoveDown, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle, k.Expand, k.Collapse},
		{k.ExpandAll, k.Reset, k.Filter, k.Detail},
		{k.MoveUp, k.MoveDown, k.Help, k.Quit},
	}
}
