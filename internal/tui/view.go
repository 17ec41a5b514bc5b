package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"roverctl/internal/control"
)

// On-screen pad geometry, in terminal cells. Mouse hit-testing depends on
// View keeping the pad at padTop.
const (
	padTop    = 3
	padLeft   = 2
	cellWidth = 7
)

var padLayout = [3][3]control.Key{
	{control.KeyQ, control.KeyW, control.KeyE},
	{control.KeyA, control.KeyX, control.KeyD},
	{"", control.KeyS, ""},
}

var padLabels = map[control.Key]string{
	control.KeyQ: "Q open",
	control.KeyW: "W",
	control.KeyE: "E shut",
	control.KeyA: "A",
	control.KeyX: "STOP",
	control.KeyD: "D",
	control.KeyS: "S",
}

type styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
	Button  lipgloss.Style
	Active  lipgloss.Style
	Stop    lipgloss.Style
	Error   lipgloss.Style
	Online  lipgloss.Style
	Offline lipgloss.Style
}

func newStyles() styles {
	primary := lipgloss.Color("#00ff9f")
	dim := lipgloss.Color("#6e7681")
	cell := lipgloss.NewStyle().Width(cellWidth).Align(lipgloss.Center)
	return styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(primary),
		Label:   lipgloss.NewStyle().Bold(true),
		Dim:     lipgloss.NewStyle().Foreground(dim),
		Button:  cell.Foreground(lipgloss.Color("#c9d1d9")),
		Active:  cell.Bold(true).Foreground(lipgloss.Color("#0d1117")).Background(primary),
		Stop:    cell.Bold(true).Foreground(lipgloss.Color("#ff5f5f")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")),
		Online:  lipgloss.NewStyle().Foreground(primary),
		Offline: lipgloss.NewStyle().Foreground(dim),
	}
}

// buttonAt maps a mouse position to the pad button under it.
func (s styles) buttonAt(x, y int) (control.Key, bool) {
	row := y - padTop
	if row < 0 || row >= len(padLayout) || x < padLeft {
		return "", false
	}
	col := (x - padLeft) / cellWidth
	if col >= len(padLayout[row]) {
		return "", false
	}
	k := padLayout[row][col]
	return k, k != ""
}

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return "Stopped.\n"
	}
	st := m.status

	state := m.styles.Offline.Render(st.State)
	if st.Connected {
		state = m.styles.Online.Render(st.State)
	}
	lines := []string{
		m.styles.Title.Render("ROVERCTL"),
		fmt.Sprintf("%s %s  %s %s  %s %s  %s %d",
			m.styles.Label.Render("link"), st.Transport,
			m.styles.Label.Render("state"), state,
			m.styles.Label.Render("mode"), st.Mode,
			m.styles.Label.Render("speed"), st.Speed),
		"",
	}

	toggled := m.ctrl.Toggled()
	for _, row := range padLayout {
		var b strings.Builder
		b.WriteString(strings.Repeat(" ", padLeft))
		for _, k := range row {
			if k == "" {
				b.WriteString(strings.Repeat(" ", cellWidth))
				continue
			}
			style := m.styles.Button
			cmd, _ := k.Command()
			switch {
			case k == control.KeyX:
				style = m.styles.Stop
			case m.ctrl.Held(k) || (toggled != 0 && cmd == toggled) || m.mouseKey == k:
				style = m.styles.Active
			}
			b.WriteString(style.Render(padLabels[k]))
		}
		lines = append(lines, b.String())
	}

	last := "-"
	if st.Last != 0 {
		last = st.Last.String()
	}
	hist := make([]string, 0, len(st.History))
	for _, c := range st.History {
		hist = append(hist, c.String())
	}
	lines = append(lines, "",
		fmt.Sprintf("%s %s  %s",
			m.styles.Label.Render("last"), last,
			m.styles.Dim.Render(strings.Join(hist, " "))))

	if m.lastErr != "" {
		lines = append(lines, m.styles.Error.Render(m.lastErr))
	} else {
		lines = append(lines, "")
	}
	lines = append(lines, "", m.help.View(m.keys))
	return strings.Join(lines, "\n")
}
