package pgstore_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/store/pgstore"
)

var now = time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

var (
	migrateOnce sync.Once
	migrateErr  error
)

func newStore(t *testing.T) *pgstore.Store {
	t.Helper()
	return pgstore.New(newPool(t), pgstore.WithClock(func() time.Time { return now }))
}

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("ENTITLEMENTS_TEST_PG_URL")
	if url == "" {
		t.Skip("ENTITLEMENTS_TEST_PG_URL is not set")
	}
	ctx := context.Background()
	cfg := pgstore.Config{ConnectionString: url, RetryAttempts: 1}
	pool, err := pgstore.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pgstore.Healthcheck(pool)(ctx))

	migrateOnce.Do(func() { migrateErr = pgstore.Migrate(ctx, pool, cfg, logger.Discard()) })
	require.NoError(t, migrateErr)
	return pool
}

func TestStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	userID := "user_" + uuid.NewString()
	customerID := "cus_" + uuid.NewString()

	rec := entitlement.NewRecord(userID, entitlement.DefaultCatalog(), now)
	rec.BillingCustomerID = customerID
	require.NoError(t, store.Create(ctx, rec))
	assert.ErrorIs(t, store.Create(ctx, rec), entitlement.ErrRecordExists)

	got, err := store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, rec.Features, got.Features)
	assert.True(t, now.Equal(got.CreatedAt))

	byCustomer, err := store.FindByCustomerID(ctx, customerID)
	require.NoError(t, err)
	assert.Equal(t, userID, byCustomer.UserID)

	res, err := store.IncrementQuota(ctx, userID, entitlement.FeatureSuperLikesPerWeek, "2025-W10", 1)
	require.NoError(t, err)
	assert.Equal(t, entitlement.IncrementResult{Used: 1, WindowKey: "2025-W10", Applied: true}, res)
	res, err = store.IncrementQuota(ctx, userID, entitlement.FeatureSuperLikesPerWeek, "2025-W10", 1)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	res, err = store.IncrementQuota(ctx, userID, entitlement.FeatureSuperLikesPerWeek, "2025-W11", 1)
	require.NoError(t, err)
	assert.Equal(t, entitlement.IncrementResult{Used: 1, WindowKey: "2025-W11", Applied: true}, res)

	_, err = store.IncrementQuota(ctx, "missing_"+uuid.NewString(), entitlement.FeatureSuperLikesPerWeek, "2025-W10", 1)
	assert.ErrorIs(t, err, entitlement.ErrRecordNotFound)

	next := got.Clone()
	next.Tier = entitlement.TierPremium
	next.LegacyPremium = true
	saved, err := store.CompareAndSwap(ctx, next, got.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	assert.Equal(t, entitlement.TierPremium, saved.Tier)
	assert.Equal(t, int64(1), saved.Bucket(entitlement.FeatureSuperLikesPerWeek).Used)

	_, err = store.CompareAndSwap(ctx, next, got.Version)
	assert.ErrorIs(t, err, entitlement.ErrVersionConflict)
}

func TestStoreConcurrentIncrement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	userID := "user_" + uuid.NewString()
	require.NoError(t, store.Create(ctx, entitlement.NewRecord(userID, entitlement.DefaultCatalog(), now)))

	var applied atomic.Int64
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.IncrementQuota(ctx, userID, entitlement.FeatureSuperLikesPerWeek, "2025-W10", 7)
			if assert.NoError(t, err) && res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(7), applied.Load())
}

func TestDeduper(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool := newPool(t)
	clock := now
	dedup := pgstore.NewDeduper(pool,
		pgstore.WithDedupConfig(pgstore.Config{DedupClaimTTL: time.Minute, DedupRetention: time.Hour}),
		pgstore.WithDedupClock(func() time.Time { return clock }),
	)
	eventID := "evt_" + uuid.NewString()

	state, err := dedup.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimAcquired, state)

	other := pgstore.NewDeduper(pool)
	state, err = other.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimInFlight, state, "claims are shared across workers")

	require.NoError(t, dedup.Release(ctx, eventID))
	state, err = dedup.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimAcquired, state)

	clock = now.Add(2 * time.Minute)
	state, err = dedup.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimAcquired, state, "expired claim is taken over")

	require.NoError(t, dedup.Complete(ctx, eventID))
	require.NoError(t, dedup.Release(ctx, eventID))
	state, err = other.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimDone, state)

	clock = now.Add(3 * time.Hour)
	_, err = dedup.Prune(ctx)
	require.NoError(t, err)
	state, err = dedup.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimAcquired, state, "pruned ids are forgotten")

	_, err = dedup.Claim(ctx, "")
	assert.ErrorIs(t, err, ingest.ErrEmptyEventID)
}
