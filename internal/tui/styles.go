package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles of the checkout screen.
type Styles struct {
	Header   lipgloss.Style
	Current  lipgloss.Style
	Done     lipgloss.Style
	Locked   lipgloss.Style
	Pending  lipgloss.Style
	Banner   lipgloss.Style
	Offline  lipgloss.Style
	Toast    lipgloss.Style
	Muted    lipgloss.Style
	Status   lipgloss.Style
	StatusOK lipgloss.Style
}

// DefaultStyles returns the wufi palette.
func DefaultStyles() Styles {
	brand := lipgloss.Color("#2F6B4F")
	return Styles{
		Header: lipgloss.NewStyle().
			Background(brand).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 2).
			Bold(true),
		Current: lipgloss.NewStyle().
			Foreground(brand).
			Bold(true),
		Done: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3FA34D")),
		Locked: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7A7A7A")),
		Pending: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D98E04")),
		Banner: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#C0392B")).
			Foreground(lipgloss.Color("#C0392B")).
			Padding(0, 1),
		Offline: lipgloss.NewStyle().
			Background(lipgloss.Color("#D98E04")).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1),
		Toast: lipgloss.NewStyle().
			PaddingLeft(2),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7A7A7A")),
		Status: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#C0392B")),
		StatusOK: lipgloss.NewStyle().
			Foreground(brand),
	}
}
