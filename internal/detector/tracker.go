// Package detector follows the open message in a webmail page, asks the
// background for a verdict and keeps the banner in sync.
package detector

import (
	"context"
	"strings"
	"time"

	"github.com/ajramos/mailguard/internal/page"
)

var reservedSegments = map[string]bool{
	"inbox":  true,
	"sent":   true,
	"drafts": true,
}

// MessageIDFromFragment returns the message id carried by a location
// fragment (its last "/" segment), or "" for list views.
func MessageIDFromFragment(fragment string) string {
	parts := strings.Split(fragment, "/")
	id := parts[len(parts)-1]
	if len(id) <= 6 || reservedSegments[id] {
		return ""
	}
	return id
}

// Debouncer fires once after a quiet period following the last Trigger
type Debouncer struct {
	wait  time.Duration
	timer *time.Timer
}

// NewDebouncer creates an idle debouncer
func NewDebouncer(wait time.Duration) *Debouncer {
	return &Debouncer{wait: wait}
}

// Trigger restarts the quiet period
func (d *Debouncer) Trigger() {
	if d.timer == nil {
		d.timer = time.NewTimer(d.wait)
		return
	}
	d.timer.Reset(d.wait)
}

// C delivers the firing; nil while idle
func (d *Debouncer) C() <-chan time.Time {
	if d.timer == nil {
		return nil
	}
	return d.timer.C
}

// Stop cancels a pending firing
func (d *Debouncer) Stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Tracker turns raw page events into settle notifications and banner actions.
// Bursts of navigation and page activity settle once after the debounce
// period; activity confined to the banner is ignored.
type Tracker struct {
	debounce time.Duration
	settles  chan struct{}
	actions  chan string
}

// NewTracker creates a tracker with the given quiet period
func NewTracker(debounce time.Duration) *Tracker {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Tracker{
		debounce: debounce,
		settles:  make(chan struct{}, 1),
		actions:  make(chan string, 8),
	}
}

// Settles receives one value per settled burst. Unconsumed settles coalesce.
func (t *Tracker) Settles() <-chan struct{} { return t.settles }

// Actions receives banner control names
func (t *Tracker) Actions() <-chan string { return t.actions }

// Run consumes events until ctx is done or events is closed
func (t *Tracker) Run(ctx context.Context, events <-chan page.Event) {
	d := NewDebouncer(t.debounce)
	defer d.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case page.FragmentChanged:
				d.Trigger()
			case page.Mutation:
				if !e.InsideBanner {
					d.Trigger()
				}
			case page.Action:
				select {
				case t.actions <- e.Action:
				case <-ctx.Done():
					return
				}
			}
		case <-d.C():
			select {
			case t.settles <- struct{}{}:
			default:
			}
		}
	}
}
