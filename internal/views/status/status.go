package status

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nippledipple/gemeinsam-einrichten/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	Online    bool
	Realtime  bool
	Presence  int
	LastSync  time.Time
	SpaceName string
	Unread    int
	Width     int
	Now       func() time.Time
}

// New creates a status bar model.
func New() Model {
	return Model{Now: time.Now}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case !m.Online:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Offline")
	case m.Realtime:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Live")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("◌ Verbinde...")
	}

	space := m.SpaceName
	if space == "" {
		space = "kein Raum"
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + space
	if m.Realtime {
		content += sep + fmt.Sprintf("%d online", m.Presence)
	}
	content += sep + "Sync: " + m.syncAge()
	if m.Unread > 0 {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(fmt.Sprintf("%d neu", m.Unread))
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) syncAge() string {
	if m.LastSync.IsZero() {
		return "nie"
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	d := now().Sub(m.LastSync)
	switch {
	case d < time.Minute:
		return "gerade eben"
	case d < time.Hour:
		return fmt.Sprintf("vor %d min", int(d.Minutes()))
	default:
		return m.LastSync.Local().Format("02.01. 15:04")
	}
}
