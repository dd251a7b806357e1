package detector

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ajramos/mailguard/internal/page"
	"github.com/ajramos/mailguard/internal/services"
)

// Selectors are the ordered fallback lists used to read the mail page
type Selectors struct {
	Body       []string
	Sender     []string
	Subject    []string
	Injection  []string
	HeaderArea string
}

var (
	addressRe     = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.\w{2,}`)
	titleSuffixRe = regexp.MustCompile(`\s*-\s*Gmail\s*$`)
)

// Resolver finds page elements through the selector lists
type Resolver struct {
	doc     page.Document
	sel     Selectors
	poll    time.Duration
	timeout time.Duration
}

// NewResolver creates a resolver. poll and timeout bound WaitForBody.
func NewResolver(doc page.Document, sel Selectors, poll, timeout time.Duration) *Resolver {
	if poll <= 0 {
		poll = 300 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{doc: doc, sel: sel, poll: poll, timeout: timeout}
}

// FirstMatch returns the first element matched by the first selector that
// matches anything, nil when none does
func (r *Resolver) FirstMatch(ctx context.Context, selectors []string) (*page.Node, error) {
	for _, s := range selectors {
		n, err := r.doc.Query(ctx, s)
		if err != nil {
			return nil, err
		}
		if n != nil {
			return n, nil
		}
	}
	return nil, nil
}

// WaitForBody polls until the message body shows non-blank text
func (r *Resolver) WaitForBody(ctx context.Context) (*page.Node, error) {
	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		n, err := r.FirstMatch(ctx, r.sel.Body)
		if err != nil {
			return nil, err
		}
		if n != nil && strings.TrimSpace(n.Text) != "" {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, services.ErrExtractionTimeout
		case <-ticker.C:
		}
	}
}

// Sender returns the sender address, "" when it cannot be found
func (r *Resolver) Sender(ctx context.Context) (string, error) {
	n, err := r.FirstMatch(ctx, r.sel.Sender)
	if err != nil {
		return "", err
	}
	if n != nil {
		if v := n.Attr("email"); v != "" {
			return v, nil
		}
		return strings.TrimSpace(n.Text), nil
	}
	if r.sel.HeaderArea == "" {
		return "", nil
	}
	header, err := r.doc.Query(ctx, r.sel.HeaderArea)
	if err != nil || header == nil {
		return "", err
	}
	return addressRe.FindString(header.Text), nil
}

// Subject returns the subject, falling back to the document title
func (r *Resolver) Subject(ctx context.Context) (string, error) {
	n, err := r.FirstMatch(ctx, r.sel.Subject)
	if err != nil {
		return "", err
	}
	if n != nil {
		return strings.TrimSpace(n.Text), nil
	}
	title, err := r.doc.Title(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(titleSuffixRe.ReplaceAllString(title, "")), nil
}

// InjectionPoint returns where the banner goes: prepended to the first
// container found, else right before the message body
func (r *Resolver) InjectionPoint(ctx context.Context) (string, page.Position, error) {
	for _, s := range r.sel.Injection {
		ok, err := r.doc.Exists(ctx, s)
		if err != nil {
			return "", page.Prepend, err
		}
		if ok {
			return s, page.Prepend, nil
		}
	}
	for _, s := range r.sel.Body {
		ok, err := r.doc.Exists(ctx, s)
		if err != nil {
			return "", page.Prepend, err
		}
		if ok {
			return s, page.Before, nil
		}
	}
	return "", page.Prepend, fmt.Errorf("%w: no banner anchor", page.ErrNotFound)
}
