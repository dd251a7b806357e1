package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/ajramos/mailguard/internal/backend"
)

// AnalysisServiceImpl implements AnalysisService. Quota is reserved before
// the remote call and consumed only after it succeeds.
type AnalysisServiceImpl struct {
	backend  AnalysisBackend
	sessions SessionService
	quota    QuotaService
	logger   *log.Logger
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(backend AnalysisBackend, sessions SessionService, quota QuotaService, logger *log.Logger) *AnalysisServiceImpl {
	return &AnalysisServiceImpl{
		backend:  backend,
		sessions: sessions,
		quota:    quota,
		logger:   logger,
	}
}

// AnalyzeText reserves quota, attaches a fresh token, calls the remote
// analyzer and records the usage
func (s *AnalysisServiceImpl) AnalyzeText(ctx context.Context, text, language string) (*analysis.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}
	if s.backend == nil || s.sessions == nil || s.quota == nil {
		return nil, ErrServiceUnavailable
	}

	if err := s.quota.Reserve(ctx); err != nil {
		return nil, err
	}

	token, err := s.sessions.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.backend.AnalyzeText(ctx, token, text, language)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("AnalysisService: analyze failed: %v", err)
		}
		return nil, backendError(err)
	}

	if _, err := s.quota.RecordUsage(ctx); err != nil && s.logger != nil {
		s.logger.Printf("AnalysisService: failed to record usage: %v", err)
	}

	return result, nil
}

// Translations returns the localized strings for language
func (s *AnalysisServiceImpl) Translations(ctx context.Context, language string) (map[string]string, error) {
	if s.backend == nil {
		return nil, ErrServiceUnavailable
	}
	if language == "" {
		language = "en"
	}
	out, err := s.backend.Translations(ctx, language)
	if err != nil {
		return nil, fmt.Errorf("Failed to load translations for %q: %w", language, backendError(err))
	}
	return out, nil
}

// Health reports the remote service health
func (s *AnalysisServiceImpl) Health(ctx context.Context) (map[string]any, error) {
	if s.backend == nil {
		return nil, ErrServiceUnavailable
	}
	out, err := s.backend.Health(ctx)
	if err != nil {
		return nil, backendError(err)
	}
	return out, nil
}

func backendError(err error) error {
	var se *backend.StatusError
	if errors.As(err, &se) {
		if se.Status == http.StatusUnauthorized {
			return ErrSessionExpired
		}
		return &RemoteError{Status: se.Status, Body: se.Body}
	}
	return transportError(err)
}
