// Package rooms renders per-room budget usage.
package rooms

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nippledipple/gemeinsam-einrichten/internal/appstate"
	"github.com/nippledipple/gemeinsam-einrichten/internal/theme"
	"github.com/nippledipple/gemeinsam-einrichten/internal/views/items"
)

const barWidth = 16

type Model struct {
	Width int
	rooms []appstate.Room
	spent map[string]float64
}

func New() Model {
	return Model{spent: make(map[string]float64)}
}

// SetData recomputes spending from accepted items.
func (m *Model) SetData(d appstate.SpaceData) {
	m.rooms = d.Rooms
	m.spent = Spent(d.Items)
}

// Spent sums accepted item prices per room.
func Spent(list []appstate.Item) map[string]float64 {
	out := make(map[string]float64)
	for _, it := range list {
		if it.Status == appstate.ItemAccepted {
			out[it.RoomID] += it.Price
		}
	}
	return out
}

func (m Model) View() string {
	if len(m.rooms) == 0 {
		return ""
	}
	lines := []string{theme.StyleHeader.Render("=== BUDGET ===")}
	for _, r := range m.rooms {
		spent := m.spent[r.ID] + r.Spent
		name := lipgloss.NewStyle().Foreground(lipgloss.Color(r.Color)).Width(14).Render(r.Name)
		bar := lipgloss.NewStyle().Foreground(theme.BudgetColor(spent, r.Budget)).Render(budgetBar(spent, r.Budget))
		lines = append(lines, fmt.Sprintf("  %s %s %s / %s", name, bar, items.FormatEuro(spent), items.FormatEuro(r.Budget)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func budgetBar(spent, budget float64) string {
	filled := 0
	if budget > 0 {
		filled = int(spent / budget * barWidth)
	}
	filled = max(0, min(filled, barWidth))
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}
