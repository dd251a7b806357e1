package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ajramos/mailguard/internal/firebase"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// SessionServiceImpl implements SessionService. The store is the only owner of
// the session; nothing is kept in memory between calls.
type SessionServiceImpl struct {
	provider IdentityProvider
	store    SessionStore
	buffer   time.Duration
	logger   *log.Logger

	mu    sync.RWMutex
	quota QuotaService

	refreshGroup singleflight.Group
	now          func() time.Time
}

// NewSessionService creates a session service. Tokens expiring within
// refreshBuffer are refreshed before use.
func NewSessionService(provider IdentityProvider, store SessionStore, refreshBuffer time.Duration, logger *log.Logger) *SessionServiceImpl {
	if refreshBuffer <= 0 {
		refreshBuffer = 5 * time.Minute
	}
	return &SessionServiceImpl{
		provider: provider,
		store:    store,
		buffer:   refreshBuffer,
		logger:   logger,
		now:      time.Now,
	}
}

// SetQuotaService connects the quota that is synced on sign-in and cleared on sign-out
func (s *SessionServiceImpl) SetQuotaService(q QuotaService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = q
}

func (s *SessionServiceImpl) quotaService() QuotaService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quota
}

func (s *SessionServiceImpl) needsRefresh(sess *Session) bool {
	if sess.Expiry.IsZero() {
		return false
	}
	return !s.now().Before(sess.Expiry.Add(-s.buffer))
}

// GetValidToken returns a bearer token, refreshing it first when it is
// about to expire
func (s *SessionServiceImpl) GetValidToken(ctx context.Context) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("session store not available")
	}
	sess, err := s.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", ErrNotAuthenticated
	}
	if !s.needsRefresh(sess) {
		return sess.IDToken, nil
	}

	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *SessionServiceImpl) refresh(ctx context.Context) (string, error) {
	// Another caller may have refreshed while we waited
	sess, err := s.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if sess == nil || sess.RefreshToken == "" {
		return "", ErrNotAuthenticated
	}
	if !s.needsRefresh(sess) {
		return sess.IDToken, nil
	}

	if s.logger != nil {
		s.logger.Printf("SessionService: refreshing token expiring at %s", sess.Expiry.Format(time.RFC3339))
	}
	grant, err := s.provider.Refresh(ctx, sess.RefreshToken)
	if err != nil {
		if terr := transportError(err); errors.Is(terr, ErrTransport) {
			return "", terr
		}
		if s.logger != nil {
			s.logger.Printf("SessionService: refresh rejected: %v", err)
		}
		return "", fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	updated := *sess
	updated.IDToken = grant.IDToken
	if grant.RefreshToken != "" {
		updated.RefreshToken = grant.RefreshToken
	}
	updated.Expiry = s.now().Add(grant.ExpiresIn)
	if grant.UserID != "" {
		updated.SubjectID = grant.UserID
	}
	if err := s.store.Save(ctx, &updated); err != nil {
		return "", err
	}
	return updated.IDToken, nil
}

// SignIn exchanges credentials for a session
func (s *SessionServiceImpl) SignIn(ctx context.Context, email, password string) (*UserStatus, error) {
	return s.establish(ctx, "sign-in", email, password, s.provider.SignIn)
}

// SignUp creates an account and signs it in
func (s *SessionServiceImpl) SignUp(ctx context.Context, email, password string) (*UserStatus, error) {
	return s.establish(ctx, "sign-up", email, password, s.provider.SignUp)
}

func (s *SessionServiceImpl) establish(ctx context.Context, op, email, password string, exchange func(context.Context, string, string) (*firebase.Grant, error)) (*UserStatus, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if s.store == nil {
		return nil, fmt.Errorf("session store not available")
	}

	grant, err := exchange(ctx, email, password)
	if err != nil {
		return nil, providerError(err)
	}

	sess := &Session{
		IDToken:      grant.IDToken,
		RefreshToken: grant.RefreshToken,
		Expiry:       s.now().Add(grant.ExpiresIn),
		SubjectID:    grant.UserID,
		Email:        grant.Email,
	}
	if sess.Email == "" {
		sess.Email = email
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Printf("SessionService: %s succeeded for %s", op, sess.Email)
	}

	if q := s.quotaService(); q != nil {
		bestEffort(s.logger, "limit record sync", func() error {
			return q.SyncRemote(ctx)
		})
	}

	return &UserStatus{LoggedIn: true, Email: sess.Email}, nil
}

// SignOut removes the session and the quota record
func (s *SessionServiceImpl) SignOut(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("session store not available")
	}
	var errs []error
	if err := s.store.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if q := s.quotaService(); q != nil {
		if err := q.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.logger != nil {
		s.logger.Printf("SessionService: signed out")
	}
	return errors.Join(errs...)
}

// User reports whether someone is signed in
func (s *SessionServiceImpl) User(ctx context.Context) (*UserStatus, error) {
	if s.store == nil {
		return nil, fmt.Errorf("session store not available")
	}
	sess, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Email == "" {
		return &UserStatus{LoggedIn: false}, nil
	}
	return &UserStatus{LoggedIn: true, Email: sess.Email}, nil
}

// TokenSource exposes the session token to oauth2 clients
func (s *SessionServiceImpl) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, s: s}
}

type sessionTokenSource struct {
	ctx context.Context
	s   *SessionServiceImpl
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.s.GetValidToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	t := &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}
	// Cached copies must expire no later than the refresh point
	if sess, err := ts.s.store.Load(ts.ctx); err == nil && sess != nil && !sess.Expiry.IsZero() {
		t.Expiry = sess.Expiry.Add(-ts.s.buffer)
	} else {
		t.Expiry = ts.s.now().Add(time.Minute)
	}
	return t, nil
}

func providerError(err error) error {
	var apiErr *firebase.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Message: apiErr.Message}
	}
	return transportError(err)
}
