package detector

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/ajramos/mailguard/internal/background"
	"github.com/ajramos/mailguard/internal/i18n"
	"github.com/ajramos/mailguard/internal/page"
	"github.com/ajramos/mailguard/internal/render"
	"github.com/ajramos/mailguard/internal/services"
	"github.com/ajramos/mailguard/internal/trust"
	"github.com/google/uuid"
)

// Background is the part of the background protocol the detector uses
type Background interface {
	GetUser(ctx context.Context) (*services.UserStatus, error)
	AnalyzeText(ctx context.Context, text, language string) (*analysis.Result, error)
	GetTranslations(ctx context.Context, language string) (map[string]string, error)
	AddTrustedSender(ctx context.Context, sender string) (trust.Lists, error)
}

// Options configures an Orchestrator
type Options struct {
	Selectors    Selectors
	Debounce     time.Duration
	PollInterval time.Duration
	BodyTimeout  time.Duration
	Language     string
	Trust        trust.Lists
}

// Orchestrator drives one page: it follows navigation, runs analyses and
// keeps the banner in sync with the open message.
type Orchestrator struct {
	id       string
	doc      page.Document
	bg       Background
	resolver *Resolver
	slot     *BannerSlot
	tracker  *Tracker
	cache    *analysis.Cache
	tr       *i18n.Translator
	banners  *render.BannerRenderer
	state    *State
	logger   *log.Logger

	navMu    sync.Mutex
	renderMu sync.Mutex
	wg       sync.WaitGroup
}

// New creates an orchestrator for doc
func New(doc page.Document, bg Background, opts Options, logger *log.Logger) *Orchestrator {
	resolver := NewResolver(doc, opts.Selectors, opts.PollInterval, opts.BodyTimeout)
	tr := i18n.New(opts.Language)
	return &Orchestrator{
		id:       uuid.NewString(),
		doc:      doc,
		bg:       bg,
		resolver: resolver,
		slot:     NewBannerSlot(doc, resolver),
		tracker:  NewTracker(opts.Debounce),
		cache:    analysis.NewCache(),
		tr:       tr,
		banners:  render.NewBannerRenderer(tr),
		state:    NewState(opts.Trust, opts.Language),
		logger:   logger,
	}
}

// State exposes the shared orchestration state
func (o *Orchestrator) State() *State { return o.state }

// Cache exposes the verdict cache
func (o *Orchestrator) Cache() *analysis.Cache { return o.cache }

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf("Detector[%s]: "+format, append([]any{o.id[:8]}, args...)...)
	}
}

func (o *Orchestrator) spawn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// LoadTranslations fetches the strings of the current language. On failure
// only the built-in strings are used.
func (o *Orchestrator) LoadTranslations(ctx context.Context) {
	lang := o.state.Language()
	strs, err := o.bg.GetTranslations(ctx, lang)
	if err != nil {
		o.logf("could not load translations for %s: %v", lang, err)
		o.tr.Load(lang, nil)
		return
	}
	o.tr.Load(lang, strs)
}

// Run handles the page until ctx is done or the page goes away. It returns
// once every worker it started has finished.
func (o *Orchestrator) Run(ctx context.Context, notices <-chan background.Notice) error {
	o.LoadTranslations(ctx)

	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		o.tracker.Run(ctx, o.doc.Events())
	}()
	defer func() {
		<-trackerDone
		o.wg.Wait()
	}()

	o.HandleNavigation(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-trackerDone:
			o.logf("page event stream ended")
			return nil
		case <-o.tracker.Settles():
			o.spawn(func() { o.HandleNavigation(ctx) })
		case action := <-o.tracker.Actions():
			o.spawn(func() { o.HandleAction(ctx, action) })
		case n, ok := <-notices:
			if !ok {
				notices = nil
				continue
			}
			o.spawn(func() { o.HandleNotice(ctx, n) })
		}
	}
}

func (o *Orchestrator) openMessage(ctx context.Context) string {
	frag, err := o.doc.Fragment(ctx)
	if err != nil {
		o.logf("failed to read location: %v", err)
		return ""
	}
	return MessageIDFromFragment(frag)
}

// HandleNavigation reacts to the page having settled
func (o *Orchestrator) HandleNavigation(ctx context.Context) {
	o.navMu.Lock()
	defer o.navMu.Unlock()

	id := o.openMessage(ctx)
	if id == "" {
		o.state.ClearCurrent()
		o.hide(ctx)
		return
	}

	if prev := o.state.SetCurrent(id); prev == id {
		if o.state.Dismissed(id) {
			return
		}
		if visible, err := o.slot.Visible(ctx); err == nil && visible {
			return
		}
	}

	if entry, ok := o.cache.Get(id); ok {
		o.renderResult(ctx, id, entry)
		return
	}
	if !o.state.BeginAnalysis(id) {
		o.render(ctx, id, Loading, o.banners.Loading())
		return
	}
	o.spawn(func() {
		defer o.state.EndAnalysis(id)
		o.analyze(ctx, id)
	})
}

// analyze runs one message through auth check, extraction and the remote
// verdict. Callers hold the in-flight claim for id.
func (o *Orchestrator) analyze(ctx context.Context, id string) {
	if entry, ok := o.cache.Get(id); ok {
		o.renderResult(ctx, id, entry)
		return
	}

	o.state.SetPhase(id, CheckingAuth)
	user, err := o.bg.GetUser(ctx)
	if err != nil || user == nil || !user.LoggedIn {
		if err != nil {
			o.logf("user check failed: %v", err)
		}
		o.fail(ctx, id, services.ErrNotAuthenticated)
		return
	}

	o.render(ctx, id, Loading, o.banners.Loading())
	body, err := o.resolver.WaitForBody(ctx)
	if err != nil {
		o.fail(ctx, id, err)
		return
	}
	if !o.state.IsCurrent(id) {
		o.logf("left %s before its body loaded", id)
		return
	}
	sender, err := o.resolver.Sender(ctx)
	if err != nil {
		o.logf("sender lookup failed: %v", err)
	}
	subject, err := o.resolver.Subject(ctx)
	if err != nil {
		o.logf("subject lookup failed: %v", err)
	}

	text := ComposeText(sender, subject, body.Text, body.HTML)
	res, err := o.bg.AnalyzeText(ctx, text, o.state.Language())
	if err != nil {
		o.fail(ctx, id, err)
		return
	}
	if res == nil {
		res = &analysis.Result{}
	}
	if o.state.Trusts(sender) {
		res.OverlayTrusted(o.tr.T("risk_trusted"))
	}

	entry := analysis.Entry{Result: res, Sender: sender}
	o.cache.Put(id, entry)
	o.logf("%s analyzed: %s", id, res.Risk())
	o.renderResult(ctx, id, entry)
}

func (o *Orchestrator) fail(ctx context.Context, id string, err error) {
	if ctx.Err() != nil {
		return
	}
	o.logf("analysis of %s failed: %v", id, err)
	o.render(ctx, id, Failed, o.banners.Error(FailureMessage(o.tr, err)))
}

func (o *Orchestrator) renderResult(ctx context.Context, id string, entry analysis.Entry) {
	o.render(ctx, id, Rendered, o.banners.Result(entry.Result, entry.Sender))
}

// render shows markup when id is still the open message and the user has
// not closed its banner
func (o *Orchestrator) render(ctx context.Context, id string, phase Phase, markup string) {
	o.renderMu.Lock()
	defer o.renderMu.Unlock()
	if !o.state.SetPhase(id, phase) || o.state.Dismissed(id) {
		return
	}
	if err := o.slot.Show(ctx, markup); err != nil {
		o.logf("banner not shown: %v", err)
	}
}

func (o *Orchestrator) hide(ctx context.Context) {
	o.renderMu.Lock()
	defer o.renderMu.Unlock()
	if err := o.slot.Hide(ctx); err != nil {
		o.logf("%v", err)
	}
}

// HandleAction runs a banner control
func (o *Orchestrator) HandleAction(ctx context.Context, action string) {
	id := o.state.Current()
	if id == "" {
		return
	}
	switch action {
	case render.ActionRetry:
		o.state.Undismiss(id)
		if !o.state.BeginAnalysis(id) {
			return
		}
		defer o.state.EndAnalysis(id)
		o.analyze(ctx, id)
	case render.ActionClose:
		o.state.Dismiss()
		o.hide(ctx)
	case render.ActionTrust:
		o.trustSender(ctx, id)
	case render.ActionToggle:
		// the page toggles the details itself
	default:
		o.logf("unknown banner action %q", action)
	}
}

func (o *Orchestrator) trustSender(ctx context.Context, id string) {
	entry, ok := o.cache.Get(id)
	if !ok || entry.Sender == "" {
		return
	}
	if !o.state.Trusts(entry.Sender) {
		lists, err := o.bg.AddTrustedSender(ctx, entry.Sender)
		if err != nil {
			o.logf("failed to trust %s: %v", entry.Sender, err)
			return
		}
		o.state.ReplaceTrust(lists.Senders, lists.Domains)
	}

	label := o.tr.T("risk_trusted")
	o.cache.Update(id, func(e *analysis.Entry) {
		r := e.Result.Clone()
		r.OverlayTrusted(label)
		e.Result = r
	})
	if entry, ok := o.cache.Get(id); ok {
		o.renderResult(ctx, id, entry)
	}
}

// HandleNotice applies a settings change pushed by the background
func (o *Orchestrator) HandleNotice(ctx context.Context, n background.Notice) {
	switch n.Action {
	case background.NoticeSettingsUpdated:
		o.state.SetLanguage(n.Language)
		o.LoadTranslations(ctx)
		id := o.openMessage(ctx)
		label := o.tr.T("risk_trusted")
		o.cache.Update(id, func(e *analysis.Entry) {
			if e.Result.IsTrusted() {
				r := e.Result.Clone()
				r.OverlayTrusted(label)
				e.Result = r
			}
		})
		if entry, ok := o.cache.Get(id); ok {
			o.renderResult(ctx, id, entry)
		}
	case background.NoticeTrustedSendersUpdated:
		o.state.ReplaceTrust(n.TrustedSenders, n.TrustedDomains)
		if id := o.openMessage(ctx); id != "" {
			o.cache.Delete(id)
			o.state.ClearCurrent()
			o.HandleNavigation(ctx)
		}
	default:
		o.logf("ignoring notice %q", n.Action)
	}
}
