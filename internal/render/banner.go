package render

import (
	"html"
	"strconv"
	"strings"

	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/ajramos/mailguard/internal/i18n"
)

// BannerID is the element id of the injected banner. At most one element
// with this id exists in the page.
const BannerID = "phd-banner"

// ActionAttr marks the banner controls; its value is the action name
const ActionAttr = "data-phd-action"

// Banner actions
const (
	ActionRetry  = "retry"
	ActionClose  = "close"
	ActionTrust  = "trust"
	ActionToggle = "toggle"
)

const (
	iconShield  = "&#x1F6E1;"
	iconWarning = "&#x26A0;"
	iconExpand  = "&#x25BC;"
	iconCheck   = "&#x2714;"
)

// BannerRenderer builds banner markup with localized strings
type BannerRenderer struct {
	t *i18n.Translator
}

// NewBannerRenderer creates a renderer. A nil translator uses the defaults.
func NewBannerRenderer(t *i18n.Translator) *BannerRenderer {
	if t == nil {
		t = i18n.New("en")
	}
	return &BannerRenderer{t: t}
}

func open(b *strings.Builder, class string) {
	b.WriteString(`<div id="` + BannerID + `" class="` + html.EscapeString(class) + `">`)
}

func button(b *strings.Builder, class, action, title, label string) {
	b.WriteString(`<button class="` + class + `" ` + ActionAttr + `="` + action + `"`)
	if title != "" {
		b.WriteString(` title="` + html.EscapeString(title) + `"`)
	}
	b.WriteString(`>` + label + `</button>`)
}

// Loading returns the banner shown while a message is analyzed
func (r *BannerRenderer) Loading() string {
	var b strings.Builder
	open(&b, "phd-banner phd-banner--loading")
	b.WriteString(`<div class="phd-header"><div class="phd-spinner"></div>`)
	b.WriteString(`<span class="phd-loading-text">` + html.EscapeString(r.t.T("analyzing")) + `</span>`)
	b.WriteString(`</div></div>`)
	return b.String()
}

// Error returns the failure banner with retry and close controls
func (r *BannerRenderer) Error(message string) string {
	var b strings.Builder
	open(&b, "phd-banner phd-banner--error")
	b.WriteString(`<div class="phd-header">`)
	b.WriteString(`<span class="phd-shield">` + iconWarning + `</span>`)
	b.WriteString(`<span class="phd-error-text">` + html.EscapeString(message) + `</span>`)
	button(&b, "phd-retry", ActionRetry, "", html.EscapeString(r.t.T("retry")))
	button(&b, "phd-close", ActionClose, r.t.T("close"), "&times;")
	b.WriteString(`</div></div>`)
	return b.String()
}

// Result returns the verdict banner. The trust control is offered when a
// sender is known and the result is not already trusted.
func (r *BannerRenderer) Result(res *analysis.Result, sender string) string {
	risk := res.Risk()
	hasAlarms := res != nil && len(res.Alarms) > 0

	shield := iconWarning
	if risk == "low" || res.IsTrusted() {
		shield = iconShield
	}

	var b strings.Builder
	open(&b, "phd-banner phd-banner--"+risk)
	b.WriteString(`<div class="phd-header">`)
	b.WriteString(`<span class="phd-shield">` + shield + `</span>`)
	b.WriteString(`<span class="phd-title">` + html.EscapeString(r.t.T("results_title")) + `</span>`)
	b.WriteString(`<span class="phd-risk-badge phd-risk-badge--` + html.EscapeString(risk) + `">` + html.EscapeString(res.Label()) + `</span>`)
	if hasAlarms {
		button(&b, "phd-toggle", ActionToggle, r.t.T("toggle_details"), iconExpand)
	}
	if sender != "" && !res.IsTrusted() {
		button(&b, "phd-trust", ActionTrust, sender, iconCheck+" "+html.EscapeString(r.t.T("trust_sender")))
	}
	button(&b, "phd-close", ActionClose, r.t.T("close"), "&times;")
	b.WriteString(`</div>`)

	details := "phd-details"
	if hasAlarms {
		details += " phd-details--hidden"
	}
	b.WriteString(`<div class="` + details + `">`)
	if meta := r.Meta(res); meta != "" {
		b.WriteString(`<div class="phd-meta">` + html.EscapeString(meta) + `</div>`)
	}
	if hasAlarms {
		b.WriteString(`<div class="phd-alarms">`)
		for _, a := range res.Alarms {
			r.alarm(&b, a)
		}
		b.WriteString(`</div>`)
	} else {
		b.WriteString(`<div class="phd-no-alarms">` + html.EscapeString(r.t.T("no_alarms")) + `</div>`)
	}
	b.WriteString(`</div></div>`)
	return b.String()
}

func (r *BannerRenderer) alarm(b *strings.Builder, a analysis.Alarm) {
	sev := html.EscapeString(a.DisplaySeverity())
	b.WriteString(`<div class="phd-alarm phd-alarm--` + sev + `">`)
	b.WriteString(`<span class="phd-alarm__severity phd-alarm__severity--` + sev + `">` + html.EscapeString(r.t.Severity(a.DisplaySeverity())) + `</span>`)
	b.WriteString(`<div class="phd-alarm__title">` + html.EscapeString(a.DisplayTitle()) + `</div>`)
	b.WriteString(`<div class="phd-alarm__desc">` + html.EscapeString(a.Description) + `</div>`)
	b.WriteString(`</div>`)
}

// Meta returns "N analyzers · Tms", or "" when the result carries neither
func (r *BannerRenderer) Meta(res *analysis.Result) string {
	if res == nil {
		return ""
	}
	var parts []string
	if res.Metadata.AnalyzersRun != nil {
		parts = append(parts, strconv.Itoa(len(res.Metadata.AnalyzersRun))+" "+r.t.T("analyzers"))
	}
	if ms := res.Metadata.AnalysisTimeMs; ms != nil {
		parts = append(parts, strconv.FormatFloat(*ms, 'f', -1, 64)+"ms")
	}
	return strings.Join(parts, " · ")
}
