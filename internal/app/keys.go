package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	Enter    key.Binding
	Escape   key.Binding
	Quit     key.Binding
	Add      key.Binding
	Delete   key.Binding
	Priority key.Binding
	Favorite key.Binding
	NewSpace key.Binding
	Switch   key.Binding
	Rooms    key.Binding
	Theme    key.Binding
	Inbox    key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev item"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next item"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "confirm"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Add: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "add item"),
		),
		Delete: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "delete item"),
		),
		Priority: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "toggle priority"),
		),
		Favorite: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "toggle favorite"),
		),
		NewSpace: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new space"),
		),
		Switch: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "next space"),
		),
		Rooms: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "budgets"),
		),
		Theme: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "theme"),
		),
		Inbox: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "notifications"),
		),
	}
}
