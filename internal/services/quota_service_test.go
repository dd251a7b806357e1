package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ajramos/mailguard/internal/db"
	"github.com/ajramos/mailguard/internal/firebase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quotaDay = time.Date(2026, 10, 19, 23, 50, 0, 0, time.Local)

type quotaFixture struct {
	svc       *QuotaServiceImpl
	kv        *db.KVStore
	limits    *fakeLimits
	indicator *fakeIndicator
	clock     *fixedClock
}

func newQuotaFixture(t *testing.T, signedIn bool) *quotaFixture {
	t.Helper()
	kv := newTestKV(t)
	sessions := NewKVSessionStore(kv)
	if signedIn {
		require.NoError(t, sessions.Save(context.Background(), &Session{
			IDToken: "id", RefreshToken: "rt", SubjectID: "uid-1", Email: "ana@example.com",
		}))
	}
	f := &quotaFixture{
		kv:        kv,
		limits:    newFakeLimits(),
		indicator: &fakeIndicator{},
		clock:     newFixedClock(quotaDay),
	}
	f.svc = NewQuotaService(kv, f.limits, sessions, f.indicator, 15, 15, nil)
	f.svc.now = f.clock.Now
	return f
}

func (f *quotaFixture) seed(t *testing.T, st QuotaState) {
	t.Helper()
	require.NoError(t, f.kv.Set(context.Background(), db.AreaSync, KeyQuota, st))
}

func (f *quotaFixture) persisted(t *testing.T) QuotaState {
	t.Helper()
	var st QuotaState
	found, err := f.kv.Get(context.Background(), db.AreaSync, KeyQuota, &st)
	require.NoError(t, err)
	require.True(t, found)
	return st
}

func TestQuotaService_FreshState(t *testing.T) {
	f := newQuotaFixture(t, false)

	usage, err := f.svc.CurrentUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Usage{Count: 0, Limit: 15, Base: 15}, usage)
	assert.Equal(t, "2026-10-19", f.persisted(t).Date)
	assert.True(t, f.indicator.shown)
}

func TestQuotaService_LastAnalysisThenLimitReached(t *testing.T) {
	f := newQuotaFixture(t, false)
	ctx := context.Background()
	f.seed(t, QuotaState{Date: "2026-10-19", Count: 14, BaseLimit: 15})

	require.NoError(t, f.svc.Reserve(ctx))
	usage, err := f.svc.RecordUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, usage.Count)
	assert.Equal(t, 15, usage.Limit)

	err = f.svc.Reserve(ctx)
	assert.True(t, errors.Is(err, ErrDailyLimitReached))
	assert.Equal(t, CodeDailyLimitReached, ErrorCode(err))
	assert.Equal(t, 15, f.indicator.count)
	assert.Equal(t, 15, f.indicator.limit)
}

func TestQuotaService_DayRollover(t *testing.T) {
	f := newQuotaFixture(t, false)
	ctx := context.Background()
	f.seed(t, QuotaState{Date: "2026-10-18", Count: 10, BaseLimit: 20, Extra: 15})

	usage, err := f.svc.CurrentUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Count)
	assert.Equal(t, 20, usage.Limit, "extension is dropped, cached base is kept")

	st := f.persisted(t)
	assert.Equal(t, QuotaState{Date: "2026-10-19", Count: 0, BaseLimit: 20, Extra: 0}, st)
}

func TestQuotaService_RolloverAcrossMidnight(t *testing.T) {
	f := newQuotaFixture(t, false)
	ctx := context.Background()

	require.NoError(t, f.svc.Reserve(ctx))
	_, err := f.svc.RecordUsage(ctx)
	require.NoError(t, err)

	f.clock.Set(quotaDay.Add(20 * time.Minute))
	usage, err := f.svc.CurrentUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, usage.Count)
	assert.Equal(t, "2026-10-20", f.persisted(t).Date)
}

func TestQuotaService_RolloverPrefersRemote(t *testing.T) {
	f := newQuotaFixture(t, true)
	f.seed(t, QuotaState{Date: "2026-10-18", Count: 3, BaseLimit: 15})
	f.limits.limits["uid-1"] = 25
	f.limits.usage["uid-1/2026-10-19"] = firebase.UsageRecord{Count: 4, Limit: 40}

	usage, err := f.svc.CurrentUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Usage{Count: 4, Limit: 40, Base: 25}, usage)
}

func TestQuotaService_RolloverRemoteUnreachable(t *testing.T) {
	f := newQuotaFixture(t, true)
	f.seed(t, QuotaState{Date: "2026-10-18", Count: 3, BaseLimit: 30})
	f.limits.readErr = errors.New("unreachable")

	usage, err := f.svc.CurrentUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Usage{Count: 0, Limit: 30, Base: 30}, usage)
}

func TestQuotaService_Extend(t *testing.T) {
	f := newQuotaFixture(t, true)
	ctx := context.Background()
	f.seed(t, QuotaState{Date: "2026-10-19", Count: 15, BaseLimit: 15})

	assert.True(t, errors.Is(f.svc.Reserve(ctx), ErrDailyLimitReached))

	usage, err := f.svc.Extend(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Usage{Count: 15, Limit: 30, Base: 15}, usage)
	assert.NoError(t, f.svc.Reserve(ctx))

	assert.Equal(t, 30, f.limits.usage["uid-1/2026-10-19"].Limit, "effective limit mirrored remotely")
	assert.Equal(t, 15, f.persisted(t).Extra)
	assert.Equal(t, 30, f.indicator.limit)
}

func TestQuotaService_MirrorFailuresAreSwallowed(t *testing.T) {
	f := newQuotaFixture(t, true)
	ctx := context.Background()
	f.seed(t, QuotaState{Date: "2026-10-19", Count: 1, BaseLimit: 15})
	f.limits.writeErr = errors.New("permission denied")

	usage, err := f.svc.RecordUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, usage.Count)

	usage, err = f.svc.Extend(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, usage.Limit)
}

func TestQuotaService_RecordUsageMirrorsCount(t *testing.T) {
	f := newQuotaFixture(t, true)
	f.seed(t, QuotaState{Date: "2026-10-19", Count: 6, BaseLimit: 15})

	_, err := f.svc.RecordUsage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, f.limits.usage["uid-1/2026-10-19"].Count)
}

func TestQuotaService_SyncRemote(t *testing.T) {
	t.Run("creates_missing_limit_record", func(t *testing.T) {
		f := newQuotaFixture(t, true)
		require.NoError(t, f.svc.SyncRemote(context.Background()))
		assert.Equal(t, 15, f.limits.limits["uid-1"])
		assert.Equal(t, 15, f.persisted(t).BaseLimit)
	})

	t.Run("caches_remote_limit", func(t *testing.T) {
		f := newQuotaFixture(t, true)
		f.seed(t, QuotaState{Date: "2026-10-19", Count: 2, BaseLimit: 15})
		f.limits.limits["uid-1"] = 50

		require.NoError(t, f.svc.SyncRemote(context.Background()))
		st := f.persisted(t)
		assert.Equal(t, 50, st.BaseLimit)
		assert.Equal(t, 2, st.Count)
	})

	t.Run("read_failure_is_reported", func(t *testing.T) {
		f := newQuotaFixture(t, true)
		f.limits.readErr = errors.New("unreachable")
		assert.Error(t, f.svc.SyncRemote(context.Background()))
	})

	t.Run("signed_out_is_noop", func(t *testing.T) {
		f := newQuotaFixture(t, false)
		require.NoError(t, f.svc.SyncRemote(context.Background()))
		assert.Zero(t, f.limits.reads)
	})
}

func TestQuotaService_Clear(t *testing.T) {
	f := newQuotaFixture(t, false)
	ctx := context.Background()
	f.seed(t, QuotaState{Date: "2026-10-19", Count: 5, BaseLimit: 15, Extra: 15})

	require.NoError(t, f.svc.Clear(ctx))

	var st QuotaState
	found, err := f.kv.Get(ctx, db.AreaSync, KeyQuota, &st)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, f.indicator.resets)
	assert.False(t, f.indicator.shown)
}
