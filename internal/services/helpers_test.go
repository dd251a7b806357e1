package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ajramos/mailguard/internal/analysis"
	"github.com/ajramos/mailguard/internal/db"
	"github.com/ajramos/mailguard/internal/firebase"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) *db.KVStore {
	t.Helper()
	store, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "mailguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return db.NewKVStore(store)
}

// fixedClock returns a controllable time source
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) SignIn(ctx context.Context, email, password string) (*firebase.Grant, error) {
	args := m.Called(ctx, email, password)
	g, _ := args.Get(0).(*firebase.Grant)
	return g, args.Error(1)
}

func (m *mockProvider) SignUp(ctx context.Context, email, password string) (*firebase.Grant, error) {
	args := m.Called(ctx, email, password)
	g, _ := args.Get(0).(*firebase.Grant)
	return g, args.Error(1)
}

func (m *mockProvider) Refresh(ctx context.Context, refreshToken string) (*firebase.Grant, error) {
	args := m.Called(ctx, refreshToken)
	g, _ := args.Get(0).(*firebase.Grant)
	return g, args.Error(1)
}

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) AnalyzeText(ctx context.Context, token, text, language string) (*analysis.Result, error) {
	args := m.Called(ctx, token, text, language)
	r, _ := args.Get(0).(*analysis.Result)
	return r, args.Error(1)
}

func (m *mockBackend) Translations(ctx context.Context, language string) (map[string]string, error) {
	args := m.Called(ctx, language)
	r, _ := args.Get(0).(map[string]string)
	return r, args.Error(1)
}

func (m *mockBackend) Health(ctx context.Context) (map[string]any, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(map[string]any)
	return r, args.Error(1)
}

// fakeLimits is an in-memory LimitStore
type fakeLimits struct {
	mu       sync.Mutex
	limits   map[string]int
	usage    map[string]firebase.UsageRecord
	readErr  error
	writeErr error
	reads    int
	writes   int
}

func newFakeLimits() *fakeLimits {
	return &fakeLimits{limits: map[string]int{}, usage: map[string]firebase.UsageRecord{}}
}

func (f *fakeLimits) DailyLimit(_ context.Context, uid string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return 0, f.readErr
	}
	v, ok := f.limits[uid]
	if !ok {
		return 0, firebase.ErrNotFound
	}
	return v, nil
}

func (f *fakeLimits) SetDailyLimit(_ context.Context, uid string, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.limits[uid] = limit
	return nil
}

func (f *fakeLimits) Usage(_ context.Context, uid, date string) (firebase.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return firebase.UsageRecord{}, f.readErr
	}
	rec, ok := f.usage[uid+"/"+date]
	if !ok {
		return firebase.UsageRecord{}, firebase.ErrNotFound
	}
	return rec, nil
}

func (f *fakeLimits) SetUsage(_ context.Context, uid, date string, rec firebase.UsageRecord, fields ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	cur := f.usage[uid+"/"+date]
	for _, field := range fields {
		switch field {
		case "count":
			cur.Count = rec.Count
		case "limit":
			cur.Limit = rec.Limit
		}
	}
	f.usage[uid+"/"+date] = cur
	return nil
}

// fakeIndicator records the last state shown
type fakeIndicator struct {
	mu     sync.Mutex
	count  int
	limit  int
	resets int
	shown  bool
}

func (f *fakeIndicator) Update(count, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count, f.limit, f.shown = count, limit, true
}

func (f *fakeIndicator) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count, f.limit, f.shown = 0, 0, false
	f.resets++
}
