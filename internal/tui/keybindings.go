package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all key bindings for the dashboard.
type KeyMap struct {
	// Navigation
	Up      key.Binding
	Down    key.Binding
	Tab     key.Binding
	BackTab key.Binding
	Enter   key.Binding
	Escape  key.Binding

	// Detail pane
	ScrollUp   key.Binding
	ScrollDown key.Binding

	// Actions
	Filter  key.Binding
	Answer  key.Binding
	Refresh key.Binding
	Delete  key.Binding
	Quit    key.Binding
}

// DefaultKeyMap provides the default key bindings for the dashboard.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next tab"),
	),
	BackTab: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "previous tab"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter", "e"),
		key.WithHelp("enter", "open"),
	),
	Escape: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "clear"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("pgup", "h"),
		key.WithHelp("pgup/h", "scroll up"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("pgdown", "l"),
		key.WithHelp("pgdn/l", "scroll down"),
	),
	Filter: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "filter"),
	),
	Answer: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "answer"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Delete: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "done/delete"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
