// Package credential keeps the session token pair in the system keyring
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/ajramos/mailguard/internal/config"
	"github.com/ajramos/mailguard/internal/services"
)

const (
	serviceName = "mailguard"
	sessionKey  = "session"
)

// Open returns the keyring of the current user. Without a desktop keyring
// the encrypted file backend under the config directory is used.
func Open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  config.ExpandPath("~/.config/mailguard/credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("mailguard-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// SessionStore implements services.SessionStore over a keyring
type SessionStore struct {
	ring keyring.Keyring
}

// NewSessionStore creates a store over ring
func NewSessionStore(ring keyring.Keyring) *SessionStore {
	return &SessionStore{ring: ring}
}

// Load returns the stored session, or nil when nobody is signed in
func (s *SessionStore) Load(_ context.Context) (*services.Session, error) {
	item, err := s.ring.Get(sessionKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	var sess services.Session
	if err := json.Unmarshal(item.Data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if sess.IDToken == "" {
		return nil, nil
	}
	return &sess, nil
}

// Save replaces the stored session
func (s *SessionStore) Save(_ context.Context, sess *services.Session) error {
	if sess == nil {
		return fmt.Errorf("session cannot be nil")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	err = s.ring.Set(keyring.Item{
		Key:         sessionKey,
		Data:        data,
		Label:       "mailguard session",
		Description: sess.Email,
	})
	if err != nil {
		return fmt.Errorf("setting session: %w", err)
	}
	return nil
}

// Clear removes the stored session
func (s *SessionStore) Clear(_ context.Context) error {
	if err := s.ring.Remove(sessionKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
