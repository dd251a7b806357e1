package render

import (
	"fmt"
	"strings"

	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var riskColors = map[string]lipgloss.Color{
	"trusted":  lipgloss.Color("#10b981"),
	"low":      lipgloss.Color("#22c55e"),
	"medium":   lipgloss.Color("#f59e0b"),
	"high":     lipgloss.Color("#f97316"),
	"critical": lipgloss.Color("#ef4444"),
}

// TextOptions controls terminal rendering
type TextOptions struct {
	Width int
	Color bool
}

// Text renders a verdict for the terminal: a header line with the risk
// badge, the metadata line, then one block per alarm.
func (r *BannerRenderer) Text(res *analysis.Result, sender string, opts TextOptions) string {
	width := opts.Width
	if width <= 0 {
		width = 80
	}

	badge := "[" + res.Label() + "]"
	if opts.Color {
		style := lipgloss.NewStyle().Bold(true)
		if c, ok := riskColors[res.Risk()]; ok {
			style = style.Foreground(c)
		}
		badge = style.Render(badge)
	}

	var b strings.Builder
	b.WriteString(r.t.T("results_title") + " " + badge + "\n")
	if sender != "" {
		b.WriteString(fitWidth("From: "+sender, width) + "\n")
	}
	if meta := r.Meta(res); meta != "" {
		b.WriteString(meta + "\n")
	}
	b.WriteString(strings.Repeat("-", min(width, 40)) + "\n")

	if res == nil || len(res.Alarms) == 0 {
		b.WriteString(r.t.T("no_alarms") + "\n")
		return b.String()
	}
	for i, a := range res.Alarms {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s\n", strings.ToUpper(r.t.Severity(a.DisplaySeverity())), fitWidth(a.DisplayTitle(), width-12))
		if a.Description != "" {
			b.WriteString(WrapTextPreserving(a.Description, width) + "\n")
		}
	}
	return b.String()
}

// ErrorText renders a failure message for the terminal
func (r *BannerRenderer) ErrorText(message string) string {
	return "! " + message + "\n"
}

// LoadingText renders the in-progress line for the terminal
func (r *BannerRenderer) LoadingText() string {
	return r.t.T("analyzing") + "\n"
}

// fitWidth truncates by display width with an ellipsis
func fitWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "...")
}
