package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	trendUp   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	trendDown = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	trendFlat = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	severityHigh   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	severityMedium = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	severityLow    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
)

func directionLabel(d models.Direction) string {
	switch d {
	case models.DirectionUp:
		return trendUp.Render("↑ up")
	case models.DirectionDown:
		return trendDown.Render("↓ down")
	default:
		return trendFlat.Render("→ flat")
	}
}

func severityLabel(s observability.AlertSeverity) string {
	switch s {
	case observability.SeverityHigh:
		return severityHigh.Render("HIGH")
	case observability.SeverityMedium:
		return severityMedium.Render("MEDIUM")
	default:
		return severityLow.Render("LOW")
	}
}

func stressLevelLabel(l models.StressLevel) string {
	switch l {
	case models.StressHigh:
		return severityHigh.Render(string(l))
	case models.StressModerate:
		return severityMedium.Render(string(l))
	case models.StressLow:
		return trendUp.Render(string(l))
	default:
		return dimStyle.Render(string(l))
	}
}
