// Package page abstracts the webmail document the detector works on: a live
// browser tab driven over the DevTools protocol, or a saved HTML snapshot.
package page

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an anchor selector matches nothing
var ErrNotFound = errors.New("no element matches selector")

// Position says where inserted markup goes relative to the anchor
type Position int

const (
	// Prepend inserts as the anchor's first child
	Prepend Position = iota
	// Before inserts as the anchor's previous sibling
	Before
)

func (p Position) String() string {
	if p == Before {
		return "before"
	}
	return "prepend"
}

// Node is a read-only view of a matched element
type Node struct {
	Selector string
	// Text is the rendered text, as a browser's innerText
	Text string
	// HTML is the inner markup
	HTML  string
	Attrs map[string]string
}

// Attr returns an attribute value, "" when absent
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attrs[name]
}

// EventKind classifies page events
type EventKind int

const (
	// FragmentChanged fires when the location fragment changes
	FragmentChanged EventKind = iota + 1
	// Mutation fires when the document structure changes
	Mutation
	// Action fires when a banner control is clicked
	Action
)

func (k EventKind) String() string {
	switch k {
	case FragmentChanged:
		return "fragment"
	case Mutation:
		return "mutation"
	case Action:
		return "action"
	default:
		return "unknown"
	}
}

// Event is one page notification
type Event struct {
	Kind EventKind
	// InsideBanner is set on mutations confined to the banner element
	InsideBanner bool
	// Action is the clicked control for Action events
	Action string
}

// Document is the page surface the detector needs
type Document interface {
	Fragment(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Query returns the first match, nil when nothing matches
	Query(ctx context.Context, selector string) (*Node, error)
	Exists(ctx context.Context, selector string) (bool, error)
	// Insert places a single root element relative to the first anchor match
	Insert(ctx context.Context, anchor string, pos Position, markup string) error
	// Remove deletes every match
	Remove(ctx context.Context, selector string) error
	// Events is closed when the document goes away
	Events() <-chan Event
}
