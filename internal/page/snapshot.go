package page

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/ajramos/mailguard/internal/render"
)

const snapshotEventBuffer = 64

// Snapshot is an in-memory document parsed from saved HTML. It behaves like a
// live page: edits and fragment changes are reported on Events.
type Snapshot struct {
	mu       sync.Mutex
	doc      *goquery.Document
	fragment string
	closed   bool
	events   chan Event
}

// NewSnapshot parses r as the page opened at fragment
func NewSnapshot(r io.Reader, fragment string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return &Snapshot{
		doc:      doc,
		fragment: fragment,
		events:   make(chan Event, snapshotEventBuffer),
	}, nil
}

// ParseSnapshot is NewSnapshot over a string
func ParseSnapshot(markup, fragment string) (*Snapshot, error) {
	return NewSnapshot(strings.NewReader(markup), fragment)
}

// emit never blocks; a full buffer drops the event. Callers hold s.mu.
func (s *Snapshot) emit(e Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- e:
	default:
	}
}

// Fragment returns the current location fragment
func (s *Snapshot) Fragment(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fragment, nil
}

// Title returns the document title
func (s *Snapshot) Title(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.doc.Find("title").First().Text()), nil
}

// Query returns the first element matching selector
func (s *Snapshot) Query(ctx context.Context, selector string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	inner, err := sel.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", selector, err)
	}
	text, _, err := render.HTMLToText(inner)
	if err != nil {
		text = sel.Text()
	}
	attrs := make(map[string]string, len(sel.Nodes[0].Attr))
	for _, a := range sel.Nodes[0].Attr {
		attrs[a.Key] = a.Val
	}
	return &Node{Selector: selector, Text: text, HTML: inner, Attrs: attrs}, nil
}

// Exists reports whether selector matches anything
func (s *Snapshot) Exists(ctx context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Find(selector).Length() > 0, nil
}

// Insert places markup relative to the first anchor match
func (s *Snapshot) Insert(ctx context.Context, anchor string, pos Position, markup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := s.doc.Find(anchor).First()
	if target.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, anchor)
	}
	switch pos {
	case Before:
		target.BeforeHtml(markup)
	default:
		target.PrependHtml(markup)
	}
	s.emit(Event{Kind: Mutation})
	return nil
}

// Remove deletes every element matching selector
func (s *Snapshot) Remove(ctx context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.doc.Find(selector)
	if sel.Length() == 0 {
		return nil
	}
	sel.Remove()
	s.emit(Event{Kind: Mutation})
	return nil
}

// Events streams page events until Close
func (s *Snapshot) Events() <-chan Event {
	return s.events
}

// SetFragment navigates to fragment
func (s *Snapshot) SetFragment(fragment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fragment == s.fragment {
		return
	}
	s.fragment = fragment
	s.emit(Event{Kind: FragmentChanged})
}

// Mutate edits the document outside the banner
func (s *Snapshot) Mutate(fn func(doc *goquery.Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
	s.emit(Event{Kind: Mutation})
}

// MutateBanner edits the banner in place
func (s *Snapshot) MutateBanner(fn func(banner *goquery.Selection)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc.Find("#" + render.BannerID))
	s.emit(Event{Kind: Mutation, InsideBanner: true})
}

// Click presses the banner control bound to action. Toggling the details
// happens in place, like the live page does.
func (s *Snapshot) Click(action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	banner := s.doc.Find("#" + render.BannerID)
	if banner.Find(`[`+render.ActionAttr+`="`+action+`"]`).Length() == 0 {
		return fmt.Errorf("%w: banner control %q", ErrNotFound, action)
	}
	if action == render.ActionToggle {
		banner.Find(".phd-details").ToggleClass("phd-details--hidden")
		s.emit(Event{Kind: Mutation, InsideBanner: true})
	}
	s.emit(Event{Kind: Action, Action: action})
	return nil
}

// HTML returns the whole document markup
func (s *Snapshot) HTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Html()
}

// Close ends the event stream
func (s *Snapshot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
