package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the dashboard key bindings
type KeyMap struct {
	Stop key.Binding
}

// DefaultKeyMap returns the default key bindings. F4 is the emergency stop;
// pressing a stop key a second time quits without waiting for the drain.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Stop: key.NewBinding(
			key.WithKeys("f4", "q", "ctrl+c"),
			key.WithHelp("F4/q", "stop after current mod"),
		),
	}
}
