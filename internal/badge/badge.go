// Package badge renders the daily usage indicator
package badge

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Indicator colours
const (
	ColorFull = "#ef4444"
	ColorWarn = "#f59e0b"
	ColorOK   = "#3b82f6"
)

// WarnRatio is the share of the limit from which the warning colour is used
const WarnRatio = 0.7

// Color returns the indicator colour for count out of limit
func Color(count, limit int) string {
	switch {
	case limit <= 0 || count >= limit:
		return ColorFull
	case float64(count) >= WarnRatio*float64(limit):
		return ColorWarn
	default:
		return ColorOK
	}
}

// Render returns the styled "count/limit" badge
func Render(count, limit int) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#ffffff")).
		Background(lipgloss.Color(Color(count, limit))).
		Padding(0, 1)
	return style.Render(fmt.Sprintf("%d/%d", count, limit))
}

// Terminal writes the badge to w whenever usage changes
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	count  int
	limit  int
	shown  bool
}

// NewTerminal creates a terminal indicator writing lines to w
func NewTerminal(w io.Writer, prefix string) *Terminal {
	return &Terminal{w: w, prefix: prefix}
}

// Update shows count/limit. Unchanged values are not written again.
func (t *Terminal) Update(count, limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shown && t.count == count && t.limit == limit {
		return
	}
	t.count, t.limit, t.shown = count, limit, true
	if t.w != nil {
		fmt.Fprintf(t.w, "%s%s\n", t.prefix, Render(count, limit))
	}
}

// Reset clears the indicator
func (t *Terminal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.shown {
		return
	}
	t.shown = false
	t.count, t.limit = 0, 0
	if t.w != nil {
		fmt.Fprintf(t.w, "%s%s\n", t.prefix, lipgloss.NewStyle().Faint(true).Render("signed out"))
	}
}

// Last returns the last values shown
func (t *Terminal) Last() (count, limit int, shown bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count, t.limit, t.shown
}
