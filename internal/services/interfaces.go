package services

import (
	"context"
	"time"

	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/ajramos/mailguard/internal/db"
	"github.com/ajramos/mailguard/internal/firebase"
	"github.com/ajramos/mailguard/internal/trust"
)

// SessionService owns the bearer token and its refresh
type SessionService interface {
	GetValidToken(ctx context.Context) (string, error)
	SignIn(ctx context.Context, email, password string) (*UserStatus, error)
	SignUp(ctx context.Context, email, password string) (*UserStatus, error)
	SignOut(ctx context.Context) error
	User(ctx context.Context) (*UserStatus, error)
}

// QuotaService owns the daily analysis counter and limit
type QuotaService interface {
	CurrentUsage(ctx context.Context) (*Usage, error)
	Reserve(ctx context.Context) error
	RecordUsage(ctx context.Context) (*Usage, error)
	Extend(ctx context.Context) (*Usage, error)
	SyncRemote(ctx context.Context) error
	Clear(ctx context.Context) error
}

// AnalysisService submits message text to the remote analyzer
type AnalysisService interface {
	AnalyzeText(ctx context.Context, text, language string) (*analysis.Result, error)
	Translations(ctx context.Context, language string) (map[string]string, error)
	Health(ctx context.Context) (map[string]any, error)
}

// TrustService manages the persisted trusted senders and domains
type TrustService interface {
	Lists(ctx context.Context) (trust.Lists, error)
	AddSender(ctx context.Context, sender string) (trust.Lists, error)
	RemoveSender(ctx context.Context, sender string) (trust.Lists, error)
	AddDomain(ctx context.Context, domain string) (trust.Lists, error)
	RemoveDomain(ctx context.Context, domain string) (trust.Lists, error)
}

// KV is the persisted key/value storage split in local and sync areas
type KV interface {
	Get(ctx context.Context, area db.Area, key string, dst any) (bool, error)
	Set(ctx context.Context, area db.Area, key string, value any) error
	Remove(ctx context.Context, area db.Area, keys ...string) error
}

// SessionStore persists the single session record
type SessionStore interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// IdentityProvider exchanges credentials and refresh tokens for token pairs
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*firebase.Grant, error)
	SignUp(ctx context.Context, email, password string) (*firebase.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*firebase.Grant, error)
}

// LimitStore holds the per-user limit and per-day usage records
type LimitStore interface {
	DailyLimit(ctx context.Context, uid string) (int, error)
	SetDailyLimit(ctx context.Context, uid string, limit int) error
	Usage(ctx context.Context, uid, date string) (firebase.UsageRecord, error)
	SetUsage(ctx context.Context, uid, date string, rec firebase.UsageRecord, fields ...string) error
}

// AnalysisBackend is the remote analysis service
type AnalysisBackend interface {
	AnalyzeText(ctx context.Context, token, text, language string) (*analysis.Result, error)
	Translations(ctx context.Context, language string) (map[string]string, error)
	Health(ctx context.Context) (map[string]any, error)
}

// UsageIndicator shows count/limit somewhere visible
type UsageIndicator interface {
	Update(count, limit int)
	Reset()
}

// Session is the authenticated identity's token pair
type Session struct {
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken"`
	Expiry       time.Time `json:"expiry"`
	SubjectID    string    `json:"subjectId"`
	Email        string    `json:"email"`
}

// UserStatus is what getUser reports
type UserStatus struct {
	LoggedIn bool   `json:"loggedIn"`
	Email    string `json:"email,omitempty"`
}

// Usage is the current daily consumption
type Usage struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
	Base  int `json:"base"`
}

// QuotaState is the persisted quota record
type QuotaState struct {
	Date      string `json:"date"`
	Count     int    `json:"count"`
	BaseLimit int    `json:"baseLimit"`
	Extra     int    `json:"extra"`
}

// EffectiveLimit returns base plus extension
func (q QuotaState) EffectiveLimit() int {
	return q.BaseLimit + q.Extra
}
