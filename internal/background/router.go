package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ajramos/mailguard/internal/services"
	"github.com/ajramos/mailguard/internal/trust"
)

// SettingsStore persists user settings changed through the router
type SettingsStore interface {
	SetLanguage(language string) error
}

// Services are the handlers behind the router. Nil members answer with
// services.ErrServiceUnavailable.
type Services struct {
	Session  services.SessionService
	Quota    services.QuotaService
	Analysis services.AnalysisService
	Trust    services.TrustService
	Settings SettingsStore
}

type handlerFunc func(ctx context.Context, req Request) (any, error)

// Router dispatches requests by action
type Router struct {
	svc      Services
	hub      *Hub
	logger   *log.Logger
	handlers map[string]handlerFunc
}

// NewRouter creates a router. hub may be nil when nobody listens for notices.
func NewRouter(svc Services, hub *Hub, logger *log.Logger) *Router {
	r := &Router{svc: svc, hub: hub, logger: logger}
	r.handlers = map[string]handlerFunc{
		ActionAnalyzeText:         r.analyzeText,
		ActionGetTranslations:     r.getTranslations,
		ActionHealthCheck:         r.healthCheck,
		ActionSignIn:              r.signIn,
		ActionSignUp:              r.signUp,
		ActionSignOut:             r.signOut,
		ActionGetUser:             r.getUser,
		ActionGetDailyUsage:       r.getDailyUsage,
		ActionAddMoreAnalyses:     r.addMoreAnalyses,
		ActionGetTrustedSenders:   r.getTrustedSenders,
		ActionAddTrustedSender:    r.trustChange(func(ctx context.Context, t services.TrustService, req Request) (trust.Lists, error) { return t.AddSender(ctx, req.Sender) }),
		ActionRemoveTrustedSender: r.trustChange(func(ctx context.Context, t services.TrustService, req Request) (trust.Lists, error) { return t.RemoveSender(ctx, req.Sender) }),
		ActionAddTrustedDomain:    r.trustChange(func(ctx context.Context, t services.TrustService, req Request) (trust.Lists, error) { return t.AddDomain(ctx, req.Domain) }),
		ActionRemoveTrustedDomain: r.trustChange(func(ctx context.Context, t services.TrustService, req Request) (trust.Lists, error) { return t.RemoveDomain(ctx, req.Domain) }),
		ActionUpdateSettings:      r.updateSettings,
	}
	return r
}

// Actions lists the supported actions
func (r *Router) Actions() []string {
	out := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		out = append(out, a)
	}
	return out
}

// Handle runs req and answers with its data or its error
func (r *Router) Handle(ctx context.Context, req Request) Response {
	h, ok := r.handlers[req.Action]
	if !ok {
		return Response{Error: "Unknown action: " + req.Action}
	}
	data, err := h(ctx, req)
	if err != nil {
		if r.logger != nil {
			r.logger.Printf("Router: %s failed: %v", req.Action, err)
		}
		return Response{Error: err.Error(), Code: services.ErrorCode(err)}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{Error: fmt.Sprintf("failed to encode %s answer: %v", req.Action, err)}
	}
	return Response{Success: true, Data: raw}
}

// Notify pushes n to every detector but except
func (r *Router) Notify(n Notice, except string) {
	if r.hub == nil {
		return
	}
	delivered := r.hub.Broadcast(n, except)
	if r.logger != nil {
		r.logger.Printf("Router: %s delivered to %d detectors", n.Action, delivered)
	}
}

func language(req Request) string {
	if l := strings.TrimSpace(req.Language); l != "" {
		return l
	}
	return "en"
}

func (r *Router) analyzeText(ctx context.Context, req Request) (any, error) {
	if r.svc.Analysis == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Analysis.AnalyzeText(ctx, req.Text, language(req))
}

func (r *Router) getTranslations(ctx context.Context, req Request) (any, error) {
	if r.svc.Analysis == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Analysis.Translations(ctx, language(req))
}

func (r *Router) healthCheck(ctx context.Context, _ Request) (any, error) {
	if r.svc.Analysis == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Analysis.Health(ctx)
}

func (r *Router) signIn(ctx context.Context, req Request) (any, error) {
	if r.svc.Session == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Session.SignIn(ctx, req.Email, req.Password)
}

func (r *Router) signUp(ctx context.Context, req Request) (any, error) {
	if r.svc.Session == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Session.SignUp(ctx, req.Email, req.Password)
}

func (r *Router) signOut(ctx context.Context, _ Request) (any, error) {
	if r.svc.Session == nil {
		return nil, services.ErrServiceUnavailable
	}
	if err := r.svc.Session.SignOut(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

func (r *Router) getUser(ctx context.Context, _ Request) (any, error) {
	if r.svc.Session == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Session.User(ctx)
}

func (r *Router) getDailyUsage(ctx context.Context, _ Request) (any, error) {
	if r.svc.Quota == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Quota.CurrentUsage(ctx)
}

func (r *Router) addMoreAnalyses(ctx context.Context, _ Request) (any, error) {
	if r.svc.Quota == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Quota.Extend(ctx)
}

func (r *Router) getTrustedSenders(ctx context.Context, _ Request) (any, error) {
	if r.svc.Trust == nil {
		return nil, services.ErrServiceUnavailable
	}
	return r.svc.Trust.Lists(ctx)
}

// trustChange wraps a trust list mutation so every change is pushed to the
// other detectors
func (r *Router) trustChange(fn func(context.Context, services.TrustService, Request) (trust.Lists, error)) handlerFunc {
	return func(ctx context.Context, req Request) (any, error) {
		if r.svc.Trust == nil {
			return nil, services.ErrServiceUnavailable
		}
		lists, err := fn(ctx, r.svc.Trust, req)
		if err != nil {
			return nil, err
		}
		r.Notify(Notice{
			Action:         NoticeTrustedSendersUpdated,
			TrustedSenders: lists.Senders,
			TrustedDomains: lists.Domains,
		}, req.Origin)
		return lists, nil
	}
}

func (r *Router) updateSettings(_ context.Context, req Request) (any, error) {
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		return nil, fmt.Errorf("%w: language is required", services.ErrInvalidInput)
	}
	if r.svc.Settings != nil {
		if err := r.svc.Settings.SetLanguage(lang); err != nil {
			return nil, fmt.Errorf("failed to save settings: %w", err)
		}
	}
	r.Notify(Notice{Action: NoticeSettingsUpdated, Language: lang}, req.Origin)
	return map[string]string{"language": lang}, nil
}
