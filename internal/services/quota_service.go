package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ajramos/mailguard/internal/db"
	"github.com/ajramos/mailguard/internal/firebase"
)

// QuotaServiceImpl implements QuotaService.
//
// The local record is the source of truth between sync points. At a sync
// point (sign-in, first read of a new day) the remote records win when they
// can be read; otherwise the cached base limit is kept.
type QuotaServiceImpl struct {
	kv        KV
	limits    LimitStore
	sessions  SessionStore
	indicator UsageIndicator
	baseLimit int
	step      int
	logger    *log.Logger

	mu  sync.Mutex
	now func() time.Time
}

// NewQuotaService creates a quota service. limits, sessions and indicator may be nil.
func NewQuotaService(kv KV, limits LimitStore, sessions SessionStore, indicator UsageIndicator, baseLimit, step int, logger *log.Logger) *QuotaServiceImpl {
	if baseLimit <= 0 {
		baseLimit = 15
	}
	if step <= 0 {
		step = baseLimit
	}
	return &QuotaServiceImpl{
		kv:        kv,
		limits:    limits,
		sessions:  sessions,
		indicator: indicator,
		baseLimit: baseLimit,
		step:      step,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *QuotaServiceImpl) today() string {
	return s.now().Format("2006-01-02")
}

func toUsage(st QuotaState) *Usage {
	return &Usage{Count: st.Count, Limit: st.EffectiveLimit(), Base: st.BaseLimit}
}

// load reads the record, resetting and persisting it first when it belongs
// to another day. Callers hold s.mu.
func (s *QuotaServiceImpl) load(ctx context.Context) (QuotaState, error) {
	if s.kv == nil {
		return QuotaState{}, fmt.Errorf("quota store not available")
	}
	var st QuotaState
	found, err := s.kv.Get(ctx, db.AreaSync, KeyQuota, &st)
	if err != nil {
		return QuotaState{}, fmt.Errorf("failed to load quota: %w", err)
	}
	if !found || st.BaseLimit <= 0 {
		st.BaseLimit = s.baseLimit
	}

	today := s.today()
	if st.Date == today {
		return st, nil
	}

	if s.logger != nil && st.Date != "" {
		s.logger.Printf("QuotaService: day rollover %s -> %s (count was %d)", st.Date, today, st.Count)
	}
	st = QuotaState{Date: today, BaseLimit: st.BaseLimit}
	s.pullRemote(ctx, &st)
	if err := s.save(ctx, st); err != nil {
		return QuotaState{}, err
	}
	return st, nil
}

func (s *QuotaServiceImpl) save(ctx context.Context, st QuotaState) error {
	if err := s.kv.Set(ctx, db.AreaSync, KeyQuota, st); err != nil {
		return fmt.Errorf("failed to save quota: %w", err)
	}
	if s.indicator != nil {
		s.indicator.Update(st.Count, st.EffectiveLimit())
	}
	return nil
}

func (s *QuotaServiceImpl) subject(ctx context.Context) string {
	if s.sessions == nil {
		return ""
	}
	sess, err := s.sessions.Load(ctx)
	if err != nil || sess == nil {
		return ""
	}
	return sess.SubjectID
}

// pullRemote overlays the remote limit and today's usage on st. Failures
// keep the cached values.
func (s *QuotaServiceImpl) pullRemote(ctx context.Context, st *QuotaState) {
	uid := s.subject(ctx)
	if s.limits == nil || uid == "" {
		return
	}
	bestEffort(s.logger, "daily limit fetch", func() error {
		limit, err := s.limits.DailyLimit(ctx, uid)
		if errors.Is(err, firebase.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if limit > 0 {
			st.BaseLimit = limit
		}
		return nil
	})
	s.pullUsage(ctx, uid, st)
}

// pullUsage overlays today's remote usage record on st
func (s *QuotaServiceImpl) pullUsage(ctx context.Context, uid string, st *QuotaState) {
	bestEffort(s.logger, "usage fetch", func() error {
		rec, err := s.limits.Usage(ctx, uid, st.Date)
		if errors.Is(err, firebase.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Count > st.Count {
			st.Count = rec.Count
		}
		if extra := rec.Limit - st.BaseLimit; extra > st.Extra {
			st.Extra = extra
		}
		return nil
	})
}

// CurrentUsage returns today's count and limit
func (s *QuotaServiceImpl) CurrentUsage(ctx context.Context) (*Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return toUsage(st), nil
}

// Reserve fails with ErrDailyLimitReached when no analysis is left today
func (s *QuotaServiceImpl) Reserve(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	if st.Count >= st.EffectiveLimit() {
		return ErrDailyLimitReached
	}
	return nil
}

// RecordUsage counts one successful analysis
func (s *QuotaServiceImpl) RecordUsage(ctx context.Context) (*Usage, error) {
	s.mu.Lock()
	st, err := s.load(ctx)
	if err == nil {
		st.Count++
		err = s.save(ctx, st)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if uid := s.subject(ctx); uid != "" && s.limits != nil {
		bestEffort(s.logger, "usage count mirror", func() error {
			return s.limits.SetUsage(ctx, uid, st.Date, firebase.UsageRecord{Count: st.Count}, "count")
		})
	}
	return toUsage(st), nil
}

// Extend raises today's limit by one extension step
func (s *QuotaServiceImpl) Extend(ctx context.Context) (*Usage, error) {
	s.mu.Lock()
	st, err := s.load(ctx)
	if err == nil {
		st.Extra += s.step
		err = s.save(ctx, st)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Printf("QuotaService: limit extended to %d", st.EffectiveLimit())
	}

	if uid := s.subject(ctx); uid != "" && s.limits != nil {
		bestEffort(s.logger, "usage limit mirror", func() error {
			return s.limits.SetUsage(ctx, uid, st.Date, firebase.UsageRecord{Limit: st.EffectiveLimit()}, "limit")
		})
	}
	return toUsage(st), nil
}

// SyncRemote fetches, or creates, the per-user limit record and overlays the
// remote state on the local one
func (s *QuotaServiceImpl) SyncRemote(ctx context.Context) error {
	uid := s.subject(ctx)
	if s.limits == nil || uid == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx)
	if err != nil {
		return err
	}

	limit, err := s.limits.DailyLimit(ctx, uid)
	switch {
	case errors.Is(err, firebase.ErrNotFound):
		if err := s.limits.SetDailyLimit(ctx, uid, s.baseLimit); err != nil {
			return fmt.Errorf("failed to create limit record: %w", err)
		}
		limit = s.baseLimit
	case err != nil:
		return fmt.Errorf("failed to read limit record: %w", err)
	}
	if limit > 0 {
		st.BaseLimit = limit
	}
	s.pullUsage(ctx, uid, &st)
	return s.save(ctx, st)
}

// Clear removes the quota record and resets the indicator
func (s *QuotaServiceImpl) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv == nil {
		return fmt.Errorf("quota store not available")
	}
	if err := s.kv.Remove(ctx, db.AreaSync, KeyQuota); err != nil {
		return fmt.Errorf("failed to clear quota: %w", err)
	}
	if s.indicator != nil {
		s.indicator.Reset()
	}
	return nil
}
