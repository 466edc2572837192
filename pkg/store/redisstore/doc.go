// Package redisstore implements entitlement.Store and ingest.Deduper on Redis.
//
// Each record lives in one hash: the JSON document, its version, its creation
// time, and one used/window field pair per metered feature. Version checks,
// customer index maintenance, and quota increments run as Lua scripts, so
// every mutation is a single atomic step on the server.
//
// Records of different users are independent keys. The customer index is a
// separate key per customer, which requires a single-node deployment or a
// cluster where scripts are not checked for cross-slot keys.
//
// Connect wraps go-redis client creation with retries:
//
//	client, err := redisstore.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	store := redisstore.New(client, redisstore.WithKeyPrefix("ent:"))
//	dedup := redisstore.NewDeduper(client)
package redisstore
