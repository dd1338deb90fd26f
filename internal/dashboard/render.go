// Package dashboard keeps the live strike summary artifact up to date and
// runs the background sweep and refresh loops.
package dashboard

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"strikekeeper/internal/strikes"
)

// FormatTimeRemaining renders the time until reset as "Nd Hh", "Hh Mm" or
// "Mm". A reset at or before now reads "Resetting soon...".
func FormatTimeRemaining(reset, now time.Time) string {
	if reset.IsZero() {
		return "No active strikes"
	}
	if !reset.After(now) {
		return "Resetting soon..."
	}

	delta := reset.Sub(now)
	days := int(delta / (24 * time.Hour))
	hours := int(delta%(24*time.Hour)) / int(time.Hour)
	minutes := int(delta%time.Hour) / int(time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"remaining": FormatTimeRemaining,
}).Parse(`Active Strikes Dashboard
Real-time monitoring of active strikes
{{if not .Summary.Users}}
No Active Strikes
There are currently no active strikes.
{{else}}{{range .Summary.Users}}
{{.User}}
  Strikes: {{.ActiveCount}}/{{$.Threshold}}
  Violations: {{.ViolationCount}}
  Reset In: {{remaining .NextReset $.Now}}
  Last Mod: {{.LastModerator}}
  Last Reason: {{.LastReason}}
{{end}}{{end}}
Updated {{.Now.Format "2006-01-02 15:04:05 MST"}}
`))

// Render produces the text of the dashboard artifact for summary as seen at now.
func Render(summary strikes.Summary, now time.Time) (string, error) {
	var b strings.Builder
	err := dashboardTemplate.Execute(&b, struct {
		Summary   strikes.Summary
		Now       time.Time
		Threshold int
	}{summary, now, strikes.EscalationThreshold})
	if err != nil {
		return "", fmt.Errorf("render dashboard: %w", err)
	}
	return b.String(), nil
}

// RenderUnavailable produces the artifact shown when strike data cannot be read.
func RenderUnavailable(now time.Time) string {
	return "Active Strikes Dashboard\n" +
		"Real-time monitoring of active strikes\n\n" +
		"Error\nUnable to load strike data. Please check bot logs.\n\n" +
		"Updated " + now.Format("2006-01-02 15:04:05 MST") + "\n"
}
