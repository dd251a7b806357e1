package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ajramos/mailguard/internal/render"
	"github.com/go-rod/rod"
)

// hookJS installs, once per document, the listeners that queue page events
// on window.__phdEvents. Consecutive mutation records of the same kind are
// coalesced. It then drains the queue.
const hookJS = `(bannerID, actionAttr) => {
  if (!window.__phdHooked && document.body) {
    window.__phdHooked = true;
    window.__phdEvents = [];
    const push = (e) => {
      const q = window.__phdEvents;
      const last = q[q.length - 1];
      if (last && e.kind === "mutation" && last.kind === "mutation" && last.insideBanner === e.insideBanner) return;
      q.push(e);
      if (q.length > 256) q.shift();
    };
    window.addEventListener("hashchange", () => push({kind: "fragment"}));
    new MutationObserver((records) => {
      const banner = document.getElementById(bannerID);
      const inside = !!banner && records.every((r) => banner.contains(r.target));
      push({kind: "mutation", insideBanner: inside});
    }).observe(document.body, {childList: true, subtree: true});
    document.addEventListener("click", (ev) => {
      const el = ev.target && ev.target.closest ? ev.target.closest("[" + actionAttr + "]") : null;
      const banner = document.getElementById(bannerID);
      if (!el || !banner || !banner.contains(el)) return;
      const action = el.getAttribute(actionAttr);
      if (action === "toggle") {
        const details = banner.querySelector(".phd-details");
        if (details) {
          const hidden = details.classList.toggle("phd-details--hidden");
          el.innerHTML = hidden ? "&#x25BC;" : "&#x25B2;";
        }
      }
      push({kind: "action", action: action});
    }, true);
  }
  const out = window.__phdEvents || [];
  window.__phdEvents = [];
  return out;
}`

const queryJS = `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return null;
  const attrs = {};
  for (const a of el.attributes) attrs[a.name] = a.value;
  return {text: el.innerText || el.textContent || "", html: el.innerHTML, attrs: attrs};
}`

const insertJS = `(sel, pos, markup) => {
  const anchor = document.querySelector(sel);
  if (!anchor) return false;
  const tpl = document.createElement("template");
  tpl.innerHTML = markup.trim();
  const el = tpl.content.firstElementChild;
  if (!el) return false;
  if (pos === "before" && anchor.parentElement) anchor.parentElement.insertBefore(el, anchor);
  else anchor.prepend(el);
  return true;
}`

const removeJS = `(sel) => { document.querySelectorAll(sel).forEach((el) => el.remove()); }`

// rawEvent is an event as queued by hookJS
type rawEvent struct {
	Kind         string `json:"kind"`
	InsideBanner bool   `json:"insideBanner"`
	Action       string `json:"action"`
}

func decodeEvents(raw []rawEvent) []Event {
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		switch r.Kind {
		case "fragment":
			events = append(events, Event{Kind: FragmentChanged})
		case "mutation":
			events = append(events, Event{Kind: Mutation, InsideBanner: r.InsideBanner})
		case "action":
			if r.Action != "" {
				events = append(events, Event{Kind: Action, Action: r.Action})
			}
		}
	}
	return events
}

// Live is a Document backed by a browser tab. Events are collected by a
// script hook and drained by Run.
type Live struct {
	page     *rod.Page
	interval time.Duration
	logger   *log.Logger
	events   chan Event
}

// NewLive wraps an attached tab. interval is the event drain period.
func NewLive(p *rod.Page, interval time.Duration, logger *log.Logger) *Live {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Live{
		page:     p,
		interval: interval,
		logger:   logger,
		events:   make(chan Event, snapshotEventBuffer),
	}
}

func (l *Live) eval(ctx context.Context, js string, dst any, args ...any) error {
	res, err := l.page.Context(ctx).Evaluate(rod.Eval(js, args...))
	if err != nil {
		return fmt.Errorf("failed to evaluate page script: %w", err)
	}
	if dst == nil || res == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to read page script result: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode page script result: %w", err)
	}
	return nil
}

// Run drains page events until ctx is done, then closes Events. Script
// failures (a reload in progress) are logged and retried on the next tick.
// Cancellation is not an error.
func (l *Live) Run(ctx context.Context) error {
	defer close(l.events)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var raw []rawEvent
		if err := l.eval(ctx, hookJS, &raw, render.BannerID, render.ActionAttr); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if l.logger != nil && failures == 1 {
				l.logger.Printf("page: event drain failed: %v", err)
			}
			continue
		}
		failures = 0
		for _, e := range decodeEvents(raw) {
			select {
			case l.events <- e:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Events streams page events while Run is active
func (l *Live) Events() <-chan Event {
	return l.events
}

// Fragment returns location.hash
func (l *Live) Fragment(ctx context.Context) (string, error) {
	var s string
	err := l.eval(ctx, `() => location.hash`, &s)
	return s, err
}

// Title returns document.title
func (l *Live) Title(ctx context.Context) (string, error) {
	var s string
	err := l.eval(ctx, `() => document.title`, &s)
	return s, err
}

// Query returns the first element matching selector
func (l *Live) Query(ctx context.Context, selector string) (*Node, error) {
	var res *struct {
		Text  string            `json:"text"`
		HTML  string            `json:"html"`
		Attrs map[string]string `json:"attrs"`
	}
	if err := l.eval(ctx, queryJS, &res, selector); err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return &Node{Selector: selector, Text: res.Text, HTML: res.HTML, Attrs: res.Attrs}, nil
}

// Exists reports whether selector matches anything
func (l *Live) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := l.eval(ctx, `(sel) => document.querySelector(sel) !== null`, &ok, selector)
	return ok, err
}

// Insert places markup relative to the first anchor match
func (l *Live) Insert(ctx context.Context, anchor string, pos Position, markup string) error {
	var ok bool
	if err := l.eval(ctx, insertJS, &ok, anchor, pos.String(), markup); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, anchor)
	}
	return nil
}

// Remove deletes every element matching selector
func (l *Live) Remove(ctx context.Context, selector string) error {
	return l.eval(ctx, removeJS, nil, selector)
}
