// Package items renders the item list of the current space.
package items

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nippledipple/gemeinsam-einrichten/internal/appstate"
	"github.com/nippledipple/gemeinsam-einrichten/internal/theme"
)

// Model holds the list state. Selected is clamped on every SetItems.
type Model struct {
	Width    int
	Selected int
	items    []appstate.Item
}

func New() Model {
	return Model{}
}

func (m *Model) SetItems(items []appstate.Item) {
	m.items = items
	m.clamp()
}

func (m Model) Len() int { return len(m.items) }

// Current returns the selected item, if any.
func (m Model) Current() (appstate.Item, bool) {
	if m.Selected < 0 || m.Selected >= len(m.items) {
		return appstate.Item{}, false
	}
	return m.items[m.Selected], true
}

func (m *Model) Next() {
	if len(m.items) > 0 {
		m.Selected = (m.Selected + 1) % len(m.items)
	}
}

func (m *Model) Prev() {
	if len(m.items) > 0 {
		m.Selected = (m.Selected - 1 + len(m.items)) % len(m.items)
	}
}

func (m *Model) clamp() {
	if m.Selected >= len(m.items) {
		m.Selected = len(m.items) - 1
	}
	if m.Selected < 0 {
		m.Selected = 0
	}
}

func (m Model) View() string {
	lines := []string{theme.StyleHeader.Render("=== WUNSCHLISTE ===")}
	if len(m.items) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  Noch keine Einträge. a: hinzufügen"))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	for i, it := range m.items {
		prefix := "  "
		if i == m.Selected {
			prefix = "> "
		}
		lines = append(lines, prefix+m.renderLine(it, i == m.Selected))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderLine(it appstate.Item, selected bool) string {
	status := string(it.Status)
	glyph := lipgloss.NewStyle().Foreground(theme.StatusColor(status)).Render(theme.StatusGlyph(status))

	title := truncate(it.Title, 32)
	if selected {
		title = theme.StyleSelected.Render(title)
	}

	var marks []string
	if it.IsPriority {
		marks = append(marks, lipgloss.NewStyle().Foreground(theme.ColorPriority).Render(fmt.Sprintf("★%d", it.PriorityLevel)))
	}
	if it.IsFavorite {
		marks = append(marks, lipgloss.NewStyle().Foreground(theme.ColorFavorite).Render("♥"))
	}

	line := glyph + " " + title + "  " + theme.StyleDimmed.Render(it.CategoryName)
	if it.Price > 0 {
		line += "  " + FormatEuro(it.Price)
	}
	if len(marks) > 0 {
		line += "  " + strings.Join(marks, " ")
	}
	return line
}

// FormatEuro formats a price the German way, e.g. 1.299,00 €.
func FormatEuro(v float64) string {
	cents := int64(v*100 + 0.5)
	whole, frac := cents/100, cents%100
	digits := fmt.Sprintf("%d", whole)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s,%02d €", b.String(), frac)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
