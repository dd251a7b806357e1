package services

import (
	"context"
	"fmt"

	"github.com/ajramos/mailguard/internal/db"
)

// Storage keys
const (
	KeySession        = "session"
	KeyQuota          = "quota"
	KeyTrustedSenders = "trustedSenders"
	KeyTrustedDomains = "trustedDomains"
)

// KVSessionStore keeps the session as one record in the local area
type KVSessionStore struct {
	kv KV
}

// NewKVSessionStore creates a session store over kv
func NewKVSessionStore(kv KV) *KVSessionStore {
	return &KVSessionStore{kv: kv}
}

// Load returns the stored session, or nil when nobody is signed in
func (r *KVSessionStore) Load(ctx context.Context) (*Session, error) {
	if r.kv == nil {
		return nil, fmt.Errorf("session store not available")
	}
	var s Session
	found, err := r.kv.Get(ctx, db.AreaLocal, KeySession, &s)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !found || s.IDToken == "" {
		return nil, nil
	}
	return &s, nil
}

// Save replaces the session record in a single write
func (r *KVSessionStore) Save(ctx context.Context, s *Session) error {
	if r.kv == nil {
		return fmt.Errorf("session store not available")
	}
	if s == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if err := r.kv.Set(ctx, db.AreaLocal, KeySession, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear removes the session record
func (r *KVSessionStore) Clear(ctx context.Context) error {
	if r.kv == nil {
		return fmt.Errorf("session store not available")
	}
	if err := r.kv.Remove(ctx, db.AreaLocal, KeySession); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
