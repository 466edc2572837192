package quota_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/quota"
)

const superLikes = entitlement.FeatureSuperLikesPerWeek

// 2025-03-05 is a Wednesday in ISO week 10.
var now = time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

func clock(t time.Time) func() time.Time { return func() time.Time { return t } }

type storeMock struct {
	mock.Mock
}

func (m *storeMock) Get(ctx context.Context, userID string) (*entitlement.Record, error) {
	args := m.Called(userID)
	rec, _ := args.Get(0).(*entitlement.Record)
	return rec, args.Error(1)
}

func (m *storeMock) Create(ctx context.Context, rec *entitlement.Record) error {
	return m.Called(rec).Error(0)
}

func (m *storeMock) CompareAndSwap(ctx context.Context, rec *entitlement.Record, expected int64) (*entitlement.Record, error) {
	args := m.Called(rec, expected)
	out, _ := args.Get(0).(*entitlement.Record)
	return out, args.Error(1)
}

func (m *storeMock) FindByCustomerID(ctx context.Context, customerID string) (*entitlement.Record, error) {
	args := m.Called(customerID)
	rec, _ := args.Get(0).(*entitlement.Record)
	return rec, args.Error(1)
}

func (m *storeMock) IncrementQuota(ctx context.Context, userID string, key entitlement.FeatureKey, windowKey string, limit entitlement.Limit) (entitlement.IncrementResult, error) {
	args := m.Called(userID, key, windowKey, limit)
	return args.Get(0).(entitlement.IncrementResult), args.Error(1)
}

// premiumRecord seeds a premium user with superLikes usage in the given window.
func premiumRecord(t *testing.T, store *entitlement.MemoryStore, used int, windowKey string) *entitlement.Record {
	t.Helper()
	ctx := context.Background()
	cat := entitlement.DefaultCatalog()
	rec := entitlement.NewRecord("user_1", cat, now)
	require.NoError(t, store.Create(ctx, rec))

	next := rec.Clone()
	next.Tier = entitlement.TierPremium
	next.LegacyPremium = true
	next.Features = cat.Features(entitlement.TierPremium)
	_, err := store.CompareAndSwap(ctx, next, rec.Version)
	require.NoError(t, err)

	for range used {
		_, err := store.IncrementQuota(ctx, "user_1", superLikes, windowKey, entitlement.Unlimited)
		require.NoError(t, err)
	}
	out, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	return out
}

func TestConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	current := entitlement.WeekKey(now)
	lastWeek := entitlement.WeekKey(now.AddDate(0, 0, -7))

	t.Run("exhausted in current window", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		rec := premiumRecord(t, store, 3, current)
		e := quota.New(store, quota.WithClock(clock(now)))

		res, err := e.Consume(ctx, rec, superLikes)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, entitlement.Limit(0), res.Remaining)
		assert.Equal(t, entitlement.Limit(3), res.Limit)
		assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), res.ResetAt)

		stored, err := store.Get(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), stored.Bucket(superLikes).Used)
	})

	t.Run("stale window counts as empty", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		rec := premiumRecord(t, store, 3, lastWeek)
		e := quota.New(store, quota.WithClock(clock(now)))

		res, err := e.Consume(ctx, rec, superLikes)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, entitlement.Limit(2), res.Remaining)

		stored, err := store.Get(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, entitlement.Bucket{Used: 1, WindowKey: current}, stored.Bucket(superLikes))
	})

	t.Run("counts down to zero", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		rec := premiumRecord(t, store, 0, current)
		e := quota.New(store, quota.WithClock(clock(now)))

		var remaining []entitlement.Limit
		for range 4 {
			res, err := e.Consume(ctx, rec, superLikes)
			require.NoError(t, err)
			remaining = append(remaining, res.Remaining)
		}
		assert.Equal(t, []entitlement.Limit{2, 1, 0, 0}, remaining)
	})

	t.Run("weekly rollover on monday", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		sunday := time.Date(2025, 3, 9, 23, 59, 59, 0, time.UTC)
		rec := premiumRecord(t, store, 3, entitlement.WeekKey(sunday))

		res, err := quota.New(store, quota.WithClock(clock(sunday))).Consume(ctx, rec, superLikes)
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		monday := sunday.Add(time.Second)
		res, err = quota.New(store, quota.WithClock(clock(monday))).Consume(ctx, rec, superLikes)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, "2025-W11", res.WindowKey)
	})

	t.Run("disabled feature never mutates", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		rec := entitlement.NewRecord("user_2", entitlement.DefaultCatalog(), now)
		require.NoError(t, store.Create(ctx, rec))
		e := quota.New(store, quota.WithClock(clock(now)))

		res, err := e.Consume(ctx, rec, entitlement.FeatureIntrosMessaging)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, entitlement.Limit(0), res.Limit)

		stored, err := store.Get(ctx, "user_2")
		require.NoError(t, err)
		assert.Empty(t, stored.Quotas)
	})

	t.Run("premium fallback when record lacks the feature", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		rec := &entitlement.Record{UserID: "user_3", Tier: entitlement.TierPremium, LegacyPremium: true}
		require.NoError(t, store.Create(ctx, rec))
		e := quota.New(store, quota.WithClock(clock(now)))

		res, err := e.Consume(ctx, rec, superLikes)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, entitlement.DefaultSuperLikesPerWeek, res.Limit)
	})

	t.Run("unlimited is counted", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		rec := premiumRecord(t, store, 0, current)
		e := quota.New(store, quota.WithClock(clock(now)))

		for range 5 {
			res, err := e.Consume(ctx, rec, entitlement.FeatureUnlimitedLikes)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, entitlement.Unlimited, res.Remaining)
		}
		stored, err := store.Get(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), stored.Bucket(entitlement.FeatureUnlimitedLikes).Used)
	})

	t.Run("lowered limit after downgrade clamps remaining", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		rec := premiumRecord(t, store, 3, current)
		rec.Tier = entitlement.TierFree
		rec.Features = entitlement.DefaultCatalog().Features(entitlement.TierFree)
		e := quota.New(store, quota.WithClock(clock(now)))

		res, err := e.Consume(ctx, rec, superLikes)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, entitlement.Limit(0), res.Remaining)
		assert.Equal(t, int64(3), res.Used)
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()
		e := quota.New(entitlement.NewMemoryStore())
		_, err := e.Consume(ctx, nil, superLikes)
		assert.ErrorIs(t, err, entitlement.ErrEmptyUserID)
		_, err = e.Consume(ctx, &entitlement.Record{UserID: "u"}, "")
		assert.ErrorIs(t, err, entitlement.ErrEmptyFeatureKey)
	})
}

func TestConsumeConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, n := range []int{1, 3, 10, 64} {
		store := entitlement.NewMemoryStore()
		rec := premiumRecord(t, store, 0, entitlement.WeekKey(now))
		e := quota.New(store, quota.WithClock(clock(now)))

		var allowed atomic.Int64
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := e.Consume(ctx, rec, superLikes)
				if assert.NoError(t, err) && res.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()

		want := int64(min(n, 3))
		assert.Equal(t, want, allowed.Load(), "n=%d", n)
		stored, err := store.Get(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, want, stored.Bucket(superLikes).Used, "n=%d", n)
	}
}

func TestConsumeFailsClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := &storeMock{}
	store.On("IncrementQuota", "user_1", superLikes, entitlement.WeekKey(now), entitlement.Limit(3)).
		Return(entitlement.IncrementResult{}, errors.New("i/o timeout"))

	rec := &entitlement.Record{
		UserID:   "user_1",
		Tier:     entitlement.TierPremium,
		Features: entitlement.DefaultCatalog().Features(entitlement.TierPremium),
	}
	res, err := quota.New(store, quota.WithClock(clock(now))).Consume(ctx, rec, superLikes)
	assert.ErrorIs(t, err, entitlement.ErrStoreUnavailable)
	assert.False(t, res.Allowed)
	store.AssertExpectations(t)
}

func TestUsage(t *testing.T) {
	t.Parallel()

	rec := &entitlement.Record{
		UserID:   "user_1",
		Tier:     entitlement.TierPremium,
		Features: entitlement.DefaultCatalog().Features(entitlement.TierPremium),
		Quotas: map[entitlement.FeatureKey]entitlement.Bucket{
			superLikes: {Used: 2, WindowKey: entitlement.WeekKey(now)},
		},
	}
	e := quota.New(entitlement.NewMemoryStore(), quota.WithClock(clock(now)))
	u := e.Usage(rec, superLikes)
	assert.True(t, u.Allowed)
	assert.Equal(t, entitlement.Limit(1), u.Remaining)
	assert.Equal(t, int64(2), u.Used)

	daily, err := entitlement.PeriodDaily.Window()
	require.NoError(t, err)
	d := quota.New(entitlement.NewMemoryStore(), quota.WithClock(clock(now)), quota.WithWindow(daily))
	assert.Equal(t, entitlement.PeriodDaily, d.WindowFor(superLikes).Period())
	assert.Equal(t, time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), d.Usage(rec, superLikes).ResetAt)
}

func TestUsagePerFeatureWindow(t *testing.T) {
	t.Parallel()

	cat := entitlement.DefaultCatalog()
	cat.Window = entitlement.PeriodDaily
	cat.Tiers[entitlement.TierPremium][entitlement.FeatureIntrosMessaging] = 5

	rec := &entitlement.Record{
		UserID:   "user_1",
		Tier:     entitlement.TierPremium,
		Features: cat.Features(entitlement.TierPremium),
		Quotas: map[entitlement.FeatureKey]entitlement.Bucket{
			superLikes: {Used: 2, WindowKey: entitlement.WeekKey(now)},
		},
	}
	e := quota.New(entitlement.NewMemoryStore(), quota.WithClock(clock(now)), quota.WithCatalog(cat))

	weekly := e.Usage(rec, superLikes)
	assert.Equal(t, "2025-W10", weekly.WindowKey)
	assert.Equal(t, int64(2), weekly.Used, "weekly usage survives a daily catalog window")
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), weekly.ResetAt)

	daily := e.Usage(rec, entitlement.FeatureIntrosMessaging)
	assert.Equal(t, "2025-03-05", daily.WindowKey)
	assert.Equal(t, time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), daily.ResetAt)
}
