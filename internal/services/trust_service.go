package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ajramos/mailguard/internal/db"
	"github.com/ajramos/mailguard/internal/trust"
)

// TrustServiceImpl implements TrustService over the sync storage area
type TrustServiceImpl struct {
	kv     KV
	logger *log.Logger
	mu     sync.Mutex
}

// NewTrustService creates a new trust service
func NewTrustService(kv KV, logger *log.Logger) *TrustServiceImpl {
	return &TrustServiceImpl{kv: kv, logger: logger}
}

func (s *TrustServiceImpl) load(ctx context.Context) (*trust.Set, error) {
	if s.kv == nil {
		return nil, fmt.Errorf("trust store not available")
	}
	var l trust.Lists
	if _, err := s.kv.Get(ctx, db.AreaSync, KeyTrustedSenders, &l.Senders); err != nil {
		return nil, fmt.Errorf("failed to load trusted senders: %w", err)
	}
	if _, err := s.kv.Get(ctx, db.AreaSync, KeyTrustedDomains, &l.Domains); err != nil {
		return nil, fmt.Errorf("failed to load trusted domains: %w", err)
	}
	return trust.New(l), nil
}

func (s *TrustServiceImpl) save(ctx context.Context, set *trust.Set) (trust.Lists, error) {
	l := set.Lists()
	if err := s.kv.Set(ctx, db.AreaSync, KeyTrustedSenders, l.Senders); err != nil {
		return trust.Lists{}, fmt.Errorf("failed to save trusted senders: %w", err)
	}
	if err := s.kv.Set(ctx, db.AreaSync, KeyTrustedDomains, l.Domains); err != nil {
		return trust.Lists{}, fmt.Errorf("failed to save trusted domains: %w", err)
	}
	return l, nil
}

// Lists returns the persisted lists
func (s *TrustServiceImpl) Lists(ctx context.Context) (trust.Lists, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load(ctx)
	if err != nil {
		return trust.Lists{}, err
	}
	return set.Lists(), nil
}

func (s *TrustServiceImpl) mutate(ctx context.Context, value, what string, fn func(*trust.Set, string) bool) (trust.Lists, error) {
	if strings.TrimSpace(value) == "" {
		return trust.Lists{}, fmt.Errorf("%w: %s cannot be empty", ErrInvalidInput, what)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load(ctx)
	if err != nil {
		return trust.Lists{}, err
	}
	if !fn(set, value) {
		return set.Lists(), nil
	}
	if s.logger != nil {
		s.logger.Printf("TrustService: updated %s %q", what, value)
	}
	return s.save(ctx, set)
}

// AddSender trusts an address
func (s *TrustServiceImpl) AddSender(ctx context.Context, sender string) (trust.Lists, error) {
	if !strings.Contains(sender, "@") && strings.TrimSpace(sender) != "" {
		return trust.Lists{}, fmt.Errorf("%w: %q is not an email address", ErrInvalidInput, sender)
	}
	return s.mutate(ctx, sender, "sender", (*trust.Set).AddSender)
}

// RemoveSender stops trusting an address
func (s *TrustServiceImpl) RemoveSender(ctx context.Context, sender string) (trust.Lists, error) {
	return s.mutate(ctx, sender, "sender", (*trust.Set).RemoveSender)
}

// AddDomain trusts a domain and its subdomains
func (s *TrustServiceImpl) AddDomain(ctx context.Context, domain string) (trust.Lists, error) {
	if strings.Contains(strings.TrimPrefix(strings.TrimSpace(domain), "@"), "@") {
		return trust.Lists{}, fmt.Errorf("%w: %q is not a domain", ErrInvalidInput, domain)
	}
	return s.mutate(ctx, domain, "domain", (*trust.Set).AddDomain)
}

// RemoveDomain stops trusting a domain
func (s *TrustServiceImpl) RemoveDomain(ctx context.Context, domain string) (trust.Lists, error) {
	return s.mutate(ctx, domain, "domain", (*trust.Set).RemoveDomain)
}
