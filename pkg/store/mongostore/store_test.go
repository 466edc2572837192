package mongostore_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
	"github.com/dmitrymomot/entitlements/pkg/store/mongostore"
)

var now = time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *mongostore.Store {
	t.Helper()
	db, name := newDatabase(t)
	store, err := mongostore.New(context.Background(), db, mongostore.WithCollection(name), mongostore.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return store
}

// newDatabase returns the test database and a collection name dropped on cleanup.
func newDatabase(t *testing.T) (*mongo.Database, string) {
	t.Helper()
	url := os.Getenv("ENTITLEMENTS_TEST_MONGO_URL")
	if url == "" {
		t.Skip("ENTITLEMENTS_TEST_MONGO_URL is not set")
	}
	ctx := context.Background()
	client, err := mongostore.Connect(ctx, mongostore.Config{
		ConnectionURL:  url,
		ConnectTimeout: 5 * time.Second,
		MaxPoolSize:    10,
		RetryAttempts:  1,
	})
	require.NoError(t, err)
	require.NoError(t, mongostore.Healthcheck(client)(ctx))

	db := client.Database("entitlements_test")
	name := "records_" + uuid.NewString()
	t.Cleanup(func() {
		_ = db.Collection(name).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return db, name
}

func TestStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)

	rec := entitlement.NewRecord("user_1", entitlement.DefaultCatalog(), now)
	rec.BillingCustomerID = "cus_1"
	require.NoError(t, store.Create(ctx, rec))
	assert.ErrorIs(t, store.Create(ctx, rec), entitlement.ErrRecordExists)

	got, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, rec.Features, got.Features)

	byCustomer, err := store.FindByCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "user_1", byCustomer.UserID)

	res, err := store.IncrementQuota(ctx, "user_1", entitlement.FeatureSuperLikesPerWeek, "2025-W10", 1)
	require.NoError(t, err)
	assert.Equal(t, entitlement.IncrementResult{Used: 1, WindowKey: "2025-W10", Applied: true}, res)
	res, err = store.IncrementQuota(ctx, "user_1", entitlement.FeatureSuperLikesPerWeek, "2025-W10", 1)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	res, err = store.IncrementQuota(ctx, "user_1", entitlement.FeatureSuperLikesPerWeek, "2025-W11", 1)
	require.NoError(t, err)
	assert.Equal(t, entitlement.IncrementResult{Used: 1, WindowKey: "2025-W11", Applied: true}, res)
	res, err = store.IncrementQuota(ctx, "user_1", entitlement.FeatureIntrosMessaging, "2025-W11", 0)
	require.NoError(t, err)
	assert.False(t, res.Applied)

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

	missing := next.Clone()
	missing.UserID = "missing"
	_, err = store.CompareAndSwap(ctx, missing, 1)
	assert.ErrorIs(t, err, entitlement.ErrRecordNotFound)
}

func TestStoreConcurrentIncrement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Create(ctx, entitlement.NewRecord("user_1", entitlement.DefaultCatalog(), now)))

	burst := func(windowKey string) int64 {
		var applied atomic.Int64
		var wg sync.WaitGroup
		for range 40 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := store.IncrementQuota(ctx, "user_1", entitlement.FeatureSuperLikesPerWeek, windowKey, 7)
				if assert.NoError(t, err) && res.Applied {
					assert.Equal(t, windowKey, res.WindowKey)
					applied.Add(1)
				}
			}()
		}
		wg.Wait()
		return applied.Load()
	}

	assert.Equal(t, int64(7), burst("2025-W10"))

	// Every writer races the rollover into the next window.
	assert.Equal(t, int64(7), burst("2025-W11"))

	rec, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.Bucket{Used: 7, WindowKey: "2025-W11"}, rec.Bucket(entitlement.FeatureSuperLikesPerWeek))
}

func TestDeduper(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, name := newDatabase(t)
	clock := now
	cfg := mongostore.Config{DedupCollection: name, DedupClaimTTL: time.Minute, DedupRetention: time.Hour}
	dedup, err := mongostore.NewDeduper(ctx, db,
		mongostore.WithDedupConfig(cfg),
		mongostore.WithDedupClock(func() time.Time { return clock }),
	)
	require.NoError(t, err)
	other, err := mongostore.NewDeduper(ctx, db, mongostore.WithDedupConfig(cfg))
	require.NoError(t, err)

	state, err := dedup.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimAcquired, state)

	state, err = other.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimInFlight, state, "claims are shared across workers")

	require.NoError(t, dedup.Release(ctx, "evt_1"))
	state, err = dedup.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimAcquired, state)

	clock = now.Add(2 * time.Minute)
	state, err = dedup.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimAcquired, state, "expired claim is taken over")

	require.NoError(t, dedup.Complete(ctx, "evt_1"))
	require.NoError(t, dedup.Release(ctx, "evt_1"))
	state, err = other.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ingest.ClaimDone, state)

	_, err = dedup.Claim(ctx, "")
	assert.ErrorIs(t, err, ingest.ErrEmptyEventID)
}
