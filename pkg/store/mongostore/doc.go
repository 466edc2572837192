// Package mongostore implements entitlement.Store on a MongoDB collection.
//
// Records are stored one document per user, keyed by user id. Version checks
// are part of the update filter, so CompareAndSwap is a single
// FindOneAndUpdate. Quota increments are two conditional updates: the first
// resets a bucket whose window key is older than the current one, the second
// increments only while the bucket is below its limit. Each step is atomic on
// the server and neither can overshoot the limit.
//
// # Usage
//
//	client, err := mongostore.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect(ctx)
//
//	store, err := mongostore.New(ctx, client.Database(cfg.Database))
//	if err != nil {
//		return err
//	}
package mongostore
