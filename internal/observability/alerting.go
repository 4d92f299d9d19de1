package observability

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// AlertSeverity represents how far past its threshold an alert value is.
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "high"
	SeverityMedium AlertSeverity = "medium"
	SeverityLow    AlertSeverity = "low"
)

// maxMessageDays is how many alert days a notification lists in full.
const maxMessageDays = 5

// Severity grades an alert by its relative distance past the threshold:
// 20% or more is high, 10% or more is medium, anything else is low.
func Severity(a models.Alert) AlertSeverity {
	denom := math.Abs(a.Rule.Threshold)
	if denom == 0 {
		denom = 1
	}
	ratio := math.Abs(a.Value-a.Rule.Threshold) / denom
	switch {
	case ratio >= 0.20:
		return SeverityHigh
	case ratio >= 0.10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// FormatAlertMessage renders fired alerts as one Markdown message grouped by
// day. Only the most recent days are listed; the footer carries the total
// number of alert days. It returns "" when there is nothing to send.
func FormatAlertMessage(alerts []models.Alert) string {
	if len(alerts) == 0 {
		return ""
	}

	byDay := make(map[string][]models.Alert)
	for _, a := range alerts {
		byDay[a.Day.String()] = append(byDay[a.Day.String()], a)
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	shown := days
	if len(shown) > maxMessageDays {
		shown = shown[len(shown)-maxMessageDays:]
	}

	var b strings.Builder
	b.WriteString("⚠️ *Oura Alerts*\n\n")
	for _, d := range shown {
		fmt.Fprintf(&b, "\U0001f4c5 *%s*\n", d)
		dayAlerts := byDay[d]
		sort.Slice(dayAlerts, func(i, j int) bool {
			return dayAlerts[i].Rule.MetricKey() < dayAlerts[j].Rule.MetricKey()
		})
		for _, a := range dayAlerts {
			fmt.Fprintf(&b, "   %s %s\n", severityEmoji(Severity(a)), alertLine(a))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "_Total: %d alert days_", len(days))
	return b.String()
}

// alertLine describes one alert, preferring the engine's message.
func alertLine(a models.Alert) string {
	if a.Message != "" {
		return a.Message
	}
	return fmt.Sprintf("%s %g (%s)", a.Rule.MetricKey(), a.Value, a.Rule)
}

func severityEmoji(severity AlertSeverity) string {
	switch severity {
	case SeverityHigh:
		return "\U0001f534"
	case SeverityMedium:
		return "\U0001f7e1"
	case SeverityLow:
		return "\U0001f535"
	default:
		return "❓"
	}
}
