// Package theme provides the Lip Gloss color palette and reusable styles
// for the Einrichten TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Item status colors.
var (
	ColorAccepted = lipgloss.Color("#16a34a")
	ColorPending  = lipgloss.Color("#d97706")
	ColorRejected = lipgloss.Color("#dc2626")
	ColorDefault  = lipgloss.Color("#9ca3af")
)

// Marker colors.
var (
	ColorPriority = lipgloss.Color("#f59e0b")
	ColorFavorite = lipgloss.Color("#ec4899")
)

// Budget bar thresholds.
var (
	ColorBudgetLow  = lipgloss.Color("#22c55e") // <75%
	ColorBudgetMid  = lipgloss.Color("#d97706") // 75-100%
	ColorBudgetOver = lipgloss.Color("#dc2626") // >100%
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StatusColor returns the color for an item or proposal status string.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "accepted":
		return ColorAccepted
	case "pending", "later":
		return ColorPending
	case "rejected":
		return ColorRejected
	default:
		return ColorDefault
	}
}

// StatusGlyph returns a single-cell glyph for an item status string.
func StatusGlyph(status string) string {
	switch status {
	case "accepted":
		return "✓"
	case "pending":
		return "◌"
	case "rejected":
		return "✗"
	default:
		return "·"
	}
}

// BudgetColor returns the color for spent/budget.
func BudgetColor(spent, budget float64) lipgloss.Color {
	if budget <= 0 {
		return ColorDefault
	}
	switch pct := spent / budget; {
	case pct > 1:
		return ColorBudgetOver
	case pct >= 0.75:
		return ColorBudgetMid
	default:
		return ColorBudgetLow
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
