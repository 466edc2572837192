// Package pgstore implements entitlement.Store on PostgreSQL with pgx.
//
// Records live in the entitlements table and quota buckets in
// entitlement_quotas, one row per user and feature. CompareAndSwap is an
// UPDATE filtered by version. IncrementQuota is a single upsert whose
// conflict clause resets an older window, increments, and refuses to pass
// the limit, so concurrent consumers serialize on the bucket row.
//
// The schema ships embedded and is applied with Migrate:
//
//	pool, err := pgstore.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pgstore.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
package pgstore
