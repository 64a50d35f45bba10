// Package notifications provides the scrollable notification inbox overlay.
package notifications

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nippledipple/gemeinsam-einrichten/internal/appstate"
	"github.com/nippledipple/gemeinsam-einrichten/internal/theme"
)

// Model holds inbox state. Entries are newest first.
type Model struct {
	Entries  []appstate.Notification
	Selected int
}

func New() Model {
	return Model{}
}

// SetEntries replaces the entries and keeps the cursor in range.
func (m *Model) SetEntries(entries []appstate.Notification) {
	m.Entries = entries
	if m.Selected >= len(entries) {
		m.Selected = len(entries) - 1
	}
	if m.Selected < 0 {
		m.Selected = 0
	}
}

func (m *Model) Down() {
	if m.Selected < len(m.Entries)-1 {
		m.Selected++
	}
}

func (m *Model) Up() {
	if m.Selected > 0 {
		m.Selected--
	}
}

func (m Model) Current() (appstate.Notification, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Entries) {
		return appstate.Notification{}, false
	}
	return m.Entries[m.Selected], true
}

func (m Model) unread() int {
	n := 0
	for _, e := range m.Entries {
		if !e.Read {
			n++
		}
	}
	return n
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the inbox as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := width - 4
	if innerW < 20 {
		innerW = 20
	}
	visibleLines := height - 6
	if visibleLines < 3 {
		visibleLines = 3
	}

	title := theme.StyleHeader.Render(" BENACHRICHTIGUNGEN ")
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  enter:gelesen  esc:close  %d ungelesen", m.unread()))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  Keine Benachrichtigungen.")
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
		return panelStyle(innerW).Render(content)
	}

	// Keep the cursor inside the window.
	start := 0
	if m.Selected >= visibleLines {
		start = m.Selected - visibleLines + 1
	}
	end := min(start+visibleLines, len(m.Entries))

	var lines []string
	for i := start; i < end; i++ {
		e := m.Entries[i]
		prefix := "  "
		if i == m.Selected {
			prefix = "> "
		}
		mark := " "
		if !e.Read {
			mark = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("●")
		}
		tsStr := theme.StyleDimmed.Render(e.CreatedAt.Local().Format("02.01. 15:04"))
		kindStr := lipgloss.NewStyle().Foreground(typeColor(e.Type)).Width(9).Render(string(e.Type))
		msg := e.Title + ": " + e.Message
		if r := []rune(msg); len(r) > innerW-30 && innerW > 30 {
			msg = string(r[:innerW-33]) + "..."
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s %s", prefix, mark, tsStr, kindStr, msg))
	}

	body := strings.Join(lines, "\n")
	more := ""
	if rest := len(m.Entries) - end; rest > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", rest))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body, more, help)
	return panelStyle(innerW).Render(content)
}

func typeColor(t appstate.NotificationType) lipgloss.Color {
	switch t {
	case appstate.NotifyProposal, appstate.NotifyPriority:
		return theme.ColorPriority
	case appstate.NotifyResponse, appstate.NotifyJoined:
		return theme.ColorHealthy
	case appstate.NotifyError:
		return theme.ColorDanger
	default:
		return theme.ColorDimmed
	}
}
