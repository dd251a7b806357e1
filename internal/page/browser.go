package page

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserOptions says how to reach the mail tab
type BrowserOptions struct {
	// DebuggerURL attaches to a running browser; empty launches one
	DebuggerURL string
	Bin         string
	Headless    bool
	// MailURL is the webmail address; an open tab on the same host is reused
	MailURL string
}

// Attach connects to (or launches) a browser and returns the mail tab. The
// returned func releases the browser; a launched one is killed.
func Attach(ctx context.Context, opts BrowserOptions, logger *log.Logger) (*rod.Page, func(), error) {
	controlURL := opts.DebuggerURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	release := func() {
		if l != nil {
			_ = browser.Close()
			l.Kill()
		}
	}

	p, err := findMailTab(browser, opts.MailURL)
	if err != nil {
		release()
		return nil, nil, err
	}
	if logger != nil {
		logger.Printf("page: attached to %s", controlURL)
	}
	return p, release, nil
}

func findMailTab(browser *rod.Browser, mailURL string) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	if u, err := url.Parse(mailURL); err == nil && u.Host != "" {
		p, err := pages.FindByURL("^https?://" + regexp.QuoteMeta(u.Host) + "/")
		if err == nil {
			return p, nil
		}
		var notFound *rod.PageNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to inspect tabs: %w", err)
		}
	}
	p, err := browser.Page(proto.TargetCreateTarget{URL: mailURL})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", mailURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", mailURL, err)
	}
	return p, nil
}
