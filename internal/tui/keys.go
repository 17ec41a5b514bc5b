package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"roverctl/internal/control"
)

type keyMap struct {
	Drive     key.Binding
	Grip      key.Binding
	Stop      key.Binding
	Speed     key.Binding
	Connect   key.Binding
	Transport key.Binding
	Mode      key.Binding
	Quit      key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Drive:     key.NewBinding(key.WithKeys("w", "a", "s", "d"), key.WithHelp("wasd", "drive")),
		Grip:      key.NewBinding(key.WithKeys("q", "e"), key.WithHelp("q/e", "gripper")),
		Stop:      key.NewBinding(key.WithKeys("x", "esc"), key.WithHelp("x/esc", "stop")),
		Speed:     key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "speed")),
		Connect:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		Transport: key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "wifi/ble")),
		Mode:      key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "hold/toggle")),
		Quit:      key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Drive, k.Grip, k.Stop, k.Speed, k.Connect, k.Transport, k.Mode, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Drive, k.Grip, k.Stop, k.Speed},
		{k.Connect, k.Transport, k.Mode, k.Quit},
	}
}

// controlKey maps a terminal key to a controller key. Shifted letters count.
func controlKey(msg tea.KeyMsg) (control.Key, bool) {
	switch msg.Type {
	case tea.KeyEsc:
		return control.KeyEscape, true
	case tea.KeyUp:
		return control.KeyUp, true
	case tea.KeyDown:
		return control.KeyDown, true
	case tea.KeyRunes:
		if len(msg.Runes) != 1 {
			return "", false
		}
		k := control.NormalizeKey(string(msg.Runes))
		switch k {
		case control.KeyW, control.KeyA, control.KeyS, control.KeyD,
			control.KeyQ, control.KeyE, control.KeyX:
			return k, true
		}
	}
	return "", false
}
