package detector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/ajramos/mailguard/internal/background"
	"github.com/ajramos/mailguard/internal/page"
	"github.com/ajramos/mailguard/internal/render"
	"github.com/ajramos/mailguard/internal/services"
	"github.com/ajramos/mailguard/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	messageID   = "FMfcgzQXJWDsKmpPv"
	otherID     = "FMfcgzQXKLRbTvwNq"
	mailPage    = `<html><head><title>Invoice overdue - Gmail</title></head><body>
<div class="nH aHU">
  <div role="listitem">
    <h2 class="hP">Invoice overdue</h2>
    <div class="gE iv gt"><span class="gD" email="billing@pay-pal.example">PayPal</span></div>
    <div class="a3s aiL"><p>Please <a href="https://pay-pal.example/login">verify</a> your account.</p></div>
  </div>
</div>
</body></html>`
	loadingPage = `<html><head><title>Gmail</title></head><body>
<div class="nH aHU"><div class="a3s aiL"></div></div>
</body></html>`
)

var testSelectors = Selectors{
	Body:       []string{"div.a3s.aiL"},
	Sender:     []string{"span.gD[email]"},
	Subject:    []string{"h2.hP"},
	Injection:  []string{"div.nH.aHU"},
	HeaderArea: "div.gE",
}

type mockBackground struct {
	mock.Mock
}

func (m *mockBackground) GetUser(ctx context.Context) (*services.UserStatus, error) {
	args := m.Called(ctx)
	u, _ := args.Get(0).(*services.UserStatus)
	return u, args.Error(1)
}

func (m *mockBackground) AnalyzeText(ctx context.Context, text, language string) (*analysis.Result, error) {
	args := m.Called(ctx, text, language)
	r, _ := args.Get(0).(*analysis.Result)
	return r.Clone(), args.Error(1)
}

func (m *mockBackground) GetTranslations(ctx context.Context, language string) (map[string]string, error) {
	args := m.Called(ctx, language)
	s, _ := args.Get(0).(map[string]string)
	return s, args.Error(1)
}

func (m *mockBackground) AddTrustedSender(ctx context.Context, sender string) (trust.Lists, error) {
	args := m.Called(ctx, sender)
	l, _ := args.Get(0).(trust.Lists)
	return l, args.Error(1)
}

func loggedIn() *services.UserStatus {
	return &services.UserStatus{LoggedIn: true, Email: "me@example.com"}
}

func highRisk() *analysis.Result {
	ms := 812.0
	return &analysis.Result{
		RiskLevel:      "high",
		RiskLevelLabel: "High risk",
		Alarms: []analysis.Alarm{
			{Severity: "high", Title: "Lookalike domain", Description: "pay-pal.example imitates paypal.com"},
		},
		Metadata: analysis.Metadata{AnalyzersRun: []string{"links", "sender"}, AnalysisTimeMs: &ms},
	}
}

type harness struct {
	t       *testing.T
	orch    *Orchestrator
	snap    *page.Snapshot
	bg      *mockBackground
	notices chan background.Notice
	cancel  context.CancelFunc
	done    chan error
	once    sync.Once
}

func newHarness(t *testing.T, markup, fragment string, bg *mockBackground, lists trust.Lists) *harness {
	t.Helper()
	snap, err := page.ParseSnapshot(markup, fragment)
	require.NoError(t, err)
	bg.On("GetTranslations", mock.Anything, mock.Anything).Return(nil, errors.New("offline")).Maybe()

	orch := New(snap, bg, Options{
		Selectors:    testSelectors,
		Debounce:     20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		BodyTimeout:  80 * time.Millisecond,
		Language:     "en",
		Trust:        lists,
	}, nil)
	return &harness{t: t, orch: orch, snap: snap, bg: bg, notices: make(chan background.Notice, 4)}
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.orch.Run(ctx, h.notices) }()
}

func (h *harness) stop() {
	h.once.Do(func() {
		if h.cancel != nil {
			h.cancel()
			require.NoError(h.t, <-h.done)
		}
		h.snap.Close()
	})
}

func (h *harness) bannerHas(selector string) func() bool {
	return func() bool {
		ok, _ := h.snap.Exists(context.Background(), "#"+render.BannerID+selector)
		return ok
	}
}

func (h *harness) bannerCount() int {
	markup, err := h.snap.HTML()
	require.NoError(h.t, err)
	return strings.Count(markup, `id="`+render.BannerID+`"`)
}

func (h *harness) click(action string) {
	require.Eventually(h.t, func() bool { return h.snap.Click(action) == nil }, time.Second, 5*time.Millisecond)
}

func TestOrchestrator_RendersVerdict(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.HasPrefix(text, "From: billing@pay-pal.example\nSubject: Invoice overdue\n\nPlease verify [1] your account.") &&
			strings.Contains(text, `href="https://pay-pal.example/login"`)
	}), "en").Return(highRisk(), nil).Once()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--high"), time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.bannerCount())
	assert.True(t, h.bannerHas(` [data-phd-action="trust"]`)())
	assert.True(t, h.bannerHas(" .phd-details--hidden")())

	entry, ok := h.orch.Cache().Get(messageID)
	require.True(t, ok)
	assert.Equal(t, "billing@pay-pal.example", entry.Sender)
	assert.Equal(t, Rendered, h.orch.State().Phase())

	h.stop()
	bg.AssertExpectations(t)
}

func TestOrchestrator_CachedVerdictIsNotReanalyzed(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(highRisk(), nil).Once()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--high"), time.Second, 5*time.Millisecond)

	h.snap.SetFragment("#inbox")
	require.Eventually(t, func() bool { return h.bannerCount() == 0 }, time.Second, 5*time.Millisecond)

	h.snap.SetFragment("#inbox/" + messageID)
	require.Eventually(t, h.bannerHas(".phd-banner--high"), time.Second, 5*time.Millisecond)

	h.stop()
	bg.AssertNumberOfCalls(t, "AnalyzeText", 1)
}

func TestOrchestrator_TrustedSenderKeepsAlarms(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(highRisk(), nil).Once()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{Domains: []string{"pay-pal.example"}})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--trusted"), time.Second, 5*time.Millisecond)
	assert.False(t, h.bannerHas(` [data-phd-action="trust"]`)())
	assert.True(t, h.bannerHas(" .phd-alarm--high")())

	entry, ok := h.orch.Cache().Get(messageID)
	require.True(t, ok)
	assert.True(t, entry.Result.IsTrusted())
	assert.Len(t, entry.Result.Alarms, 1)
}

func TestOrchestrator_ExtractionTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)

	h := newHarness(t, loadingPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--error"), time.Second, 5*time.Millisecond)
	node, err := h.snap.Query(context.Background(), "#"+render.BannerID+" .phd-error-text")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "Timeout waiting for email body", node.Text)
	assert.Equal(t, Failed, h.orch.State().Phase())

	h.stop()
	bg.AssertNotCalled(t, "AnalyzeText", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(bg *mockBackground)
		want  string
	}{
		{
			name: "logged_out",
			setup: func(bg *mockBackground) {
				bg.On("GetUser", mock.Anything).Return(&services.UserStatus{}, nil)
			},
			want: "Please log in to PhishBuster to analyze emails.",
		},
		{
			name: "daily_limit",
			setup: func(bg *mockBackground) {
				bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
				bg.On("AnalyzeText", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, services.ErrorFromWire(services.CodeDailyLimitReached, "DAILY_LIMIT_REACHED"))
			},
			want: "Daily analysis limit reached. Open PhishBuster to get more analyses.",
		},
		{
			name: "remote_rejected",
			setup: func(bg *mockBackground) {
				bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
				bg.On("AnalyzeText", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, services.ErrorFromWire(services.CodeRemoteRejected, "Backend error 500: <html>boom</html>"))
			},
			want: "The analysis service rejected the request.",
		},
		{
			name: "unclassified",
			setup: func(bg *mockBackground) {
				bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
				bg.On("AnalyzeText", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, errors.New("Backend error 500: boom"))
			},
			want: "An error occurred during analysis.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			bg := &mockBackground{}
			tt.setup(bg)

			h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
			h.start()
			defer h.stop()

			require.Eventually(t, h.bannerHas(".phd-banner--error"), time.Second, 5*time.Millisecond)
			node, err := h.snap.Query(context.Background(), "#"+render.BannerID+" .phd-error-text")
			require.NoError(t, err)
			require.NotNil(t, node)
			assert.Equal(t, tt.want, node.Text)
			assert.True(t, h.bannerHas(` [data-phd-action="retry"]`)())
		})
	}
}

func TestOrchestrator_RetryAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(nil, services.ErrTransport).Once()
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(highRisk(), nil).Once()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--error"), time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !h.orch.State().InFlight(messageID) }, time.Second, 5*time.Millisecond)
	h.click(render.ActionRetry)
	require.Eventually(t, h.bannerHas(".phd-banner--high"), time.Second, 5*time.Millisecond)

	h.stop()
	bg.AssertNumberOfCalls(t, "AnalyzeText", 2)
}

func TestOrchestrator_CloseStaysDismissed(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(highRisk(), nil)

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--high"), time.Second, 5*time.Millisecond)
	h.click(render.ActionClose)
	require.Eventually(t, func() bool { return h.bannerCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.orch.State().Dismissed(messageID))

	// page activity around the message does not bring it back
	h.snap.Mutate(func(doc *goquery.Document) {
		doc.Find("div.nH.aHU").AppendHtml(`<div class="ads">sponsored</div>`)
	})
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, h.bannerCount())

	// leaving and coming back does
	h.snap.SetFragment("#inbox/" + otherID)
	require.Eventually(t, func() bool { return h.orch.State().Current() == otherID }, time.Second, 5*time.Millisecond)
	h.snap.SetFragment("#inbox/" + messageID)
	require.Eventually(t, h.bannerHas(".phd-banner--high"), time.Second, 5*time.Millisecond)
}

func TestOrchestrator_TrustAction(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(highRisk(), nil).Once()
	bg.On("AddTrustedSender", mock.Anything, "billing@pay-pal.example").
		Return(trust.Lists{Senders: []string{"billing@pay-pal.example"}}, nil).Once()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--high"), time.Second, 5*time.Millisecond)
	h.click(render.ActionTrust)
	require.Eventually(t, h.bannerHas(".phd-banner--trusted"), time.Second, 5*time.Millisecond)
	assert.True(t, h.bannerHas(" .phd-alarm--high")())
	assert.True(t, h.orch.State().Trusts("billing@pay-pal.example"))

	h.stop()
	bg.AssertExpectations(t)
}

func TestOrchestrator_ToggleIsLocal(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(highRisk(), nil).Once()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(" .phd-details--hidden"), time.Second, 5*time.Millisecond)
	h.click(render.ActionToggle)
	time.Sleep(60 * time.Millisecond)
	assert.False(t, h.bannerHas(" .phd-details--hidden")())
	assert.Equal(t, 1, h.bannerCount())
}

func TestOrchestrator_TrustNoticeReanalyzes(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(highRisk(), nil).Twice()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--high"), time.Second, 5*time.Millisecond)
	h.notices <- background.Notice{
		Action:         background.NoticeTrustedSendersUpdated,
		TrustedSenders: []string{"billing@pay-pal.example"},
		TrustedDomains: []string{},
	}
	require.Eventually(t, h.bannerHas(".phd-banner--trusted"), time.Second, 5*time.Millisecond)

	h.stop()
	bg.AssertNumberOfCalls(t, "AnalyzeText", 2)
}

func TestOrchestrator_LanguageNotice(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	// registered ahead of the harness fallback so it matches first
	bg.On("GetTranslations", mock.Anything, "es").Return(map[string]string{"no_alarms": "Sin indicadores."}, nil)
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(&analysis.Result{RiskLevel: "low"}, nil).Once()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{})
	h.start()
	defer h.stop()

	require.Eventually(t, h.bannerHas(".phd-banner--low"), time.Second, 5*time.Millisecond)
	h.notices <- background.Notice{Action: background.NoticeSettingsUpdated, Language: "es"}
	require.Eventually(t, func() bool {
		n, _ := h.snap.Query(context.Background(), "#"+render.BannerID+" .phd-no-alarms")
		return n != nil && n.Text == "Sin indicadores."
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "es", h.orch.State().Language())

	h.stop()
	bg.AssertNumberOfCalls(t, "AnalyzeText", 1)
}

func TestOrchestrator_LanguageNoticeRelabelsTrusted(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	bg.On("GetTranslations", mock.Anything, "es").Return(map[string]string{"risk_trusted": "Remitente de confianza"}, nil)
	bg.On("GetUser", mock.Anything).Return(loggedIn(), nil)
	bg.On("AnalyzeText", mock.Anything, mock.Anything, "en").Return(highRisk(), nil).Once()

	h := newHarness(t, mailPage, "#inbox/"+messageID, bg, trust.Lists{Domains: []string{"pay-pal.example"}})
	h.start()
	defer h.stop()

	badgeText := func() string {
		n, _ := h.snap.Query(context.Background(), "#"+render.BannerID+" .phd-risk-badge")
		if n == nil {
			return ""
		}
		return n.Text
	}
	require.Eventually(t, func() bool { return badgeText() == "Trusted sender" }, time.Second, 5*time.Millisecond)

	h.notices <- background.Notice{Action: background.NoticeSettingsUpdated, Language: "es"}
	require.Eventually(t, func() bool { return badgeText() == "Remitente de confianza" }, time.Second, 5*time.Millisecond)

	entry, ok := h.orch.Cache().Get(messageID)
	require.True(t, ok)
	assert.Equal(t, "Remitente de confianza", entry.Result.Label())
	assert.True(t, h.bannerHas(" .phd-alarm--high")())

	h.stop()
	bg.AssertNumberOfCalls(t, "AnalyzeText", 1)
}

func TestOrchestrator_ListViewHasNoBanner(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}

	h := newHarness(t, mailPage, "#inbox", bg, trust.Lists{})
	h.start()
	defer h.stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, h.bannerCount())
	assert.Equal(t, "", h.orch.State().Current())

	h.stop()
	bg.AssertNotCalled(t, "GetUser", mock.Anything)
}

func TestOrchestrator_StopsWhenPageCloses(t *testing.T) {
	defer goleak.VerifyNone(t)
	bg := &mockBackground{}
	h := newHarness(t, mailPage, "#inbox", bg, trust.Lists{})
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(context.Background(), nil) }()

	h.snap.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("orchestrator kept running after the page closed")
	}
}
