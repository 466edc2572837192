package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/ingest"
)

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Deduper implements ingest.Deduper with one key per event id. A claim is a
// SET NX with a TTL; completion overwrites it with a long-lived done marker.
type Deduper struct {
	db        redis.UniversalClient
	prefix    string
	claimTTL  time.Duration
	retention time.Duration
}

var _ ingest.Deduper = (*Deduper)(nil)

// NewDeduper panics if db is nil.
func NewDeduper(db redis.UniversalClient, opts ...Option) *Deduper {
	if db == nil {
		panic("redisstore: redis client is required")
	}
	o := newOptions(opts)
	return &Deduper{db: db, prefix: o.prefix, claimTTL: o.claimTTL, retention: o.retention}
}

func (d *Deduper) key(eventID string) string { return d.prefix + "event:" + eventID }

func (d *Deduper) Claim(ctx context.Context, eventID string) (ingest.ClaimState, error) {
	if eventID == "" {
		return 0, ingest.ErrEmptyEventID
	}
	// A claim can expire between SET NX and GET; one more round settles it.
	for range 2 {
		ok, err := d.db.SetNX(ctx, d.key(eventID), stateProcessing, d.claimTTL).Result()
		if err != nil {
			return 0, errors.Join(entitlement.ErrStoreUnavailable, err)
		}
		if ok {
			return ingest.ClaimAcquired, nil
		}

		state, err := d.db.Get(ctx, d.key(eventID)).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			return 0, errors.Join(entitlement.ErrStoreUnavailable, err)
		case state == stateDone:
			return ingest.ClaimDone, nil
		default:
			return ingest.ClaimInFlight, nil
		}
	}
	return ingest.ClaimInFlight, nil
}

func (d *Deduper) Complete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return ingest.ErrEmptyEventID
	}
	if err := d.db.Set(ctx, d.key(eventID), stateDone, d.retention).Err(); err != nil {
		return errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return nil
}

func (d *Deduper) Release(ctx context.Context, eventID string) error {
	if err := releaseScript.Run(ctx, d.db, []string{d.key(eventID)}, stateProcessing).Err(); err != nil {
		return errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return nil
}
