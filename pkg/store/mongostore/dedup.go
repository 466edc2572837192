package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/entitlements/pkg/ingest"
)

const DefaultDedupCollection = "processed_events"

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

type eventDoc struct {
	ID          string     `bson:"_id"`
	State       string     `bson:"state"`
	ClaimedAt   time.Time  `bson:"claimed_at"`
	CompletedAt *time.Time `bson:"completed_at,omitempty"`
}

// Deduper implements ingest.Deduper on a MongoDB collection, so every worker
// sharing the database sees the same processed-id log. Completed ids expire
// through a TTL index on completed_at.
type Deduper struct {
	coll     *mongo.Collection
	claimTTL time.Duration
	now      func() time.Time
}

var _ ingest.Deduper = (*Deduper)(nil)

// DeduperOption configures a Deduper.
type DeduperOption func(*dedupOptions)

type dedupOptions struct {
	collection string
	claimTTL   time.Duration
	retention  time.Duration
	now        func() time.Time
}

// WithDedupConfig applies the collection, claim TTL and retention from cfg.
func WithDedupConfig(cfg Config) DeduperOption {
	return func(o *dedupOptions) {
		if cfg.DedupCollection != "" {
			o.collection = cfg.DedupCollection
		}
		if cfg.DedupClaimTTL > 0 {
			o.claimTTL = cfg.DedupClaimTTL
		}
		if cfg.DedupRetention > 0 {
			o.retention = cfg.DedupRetention
		}
	}
}

func WithDedupClock(now func() time.Time) DeduperOption {
	return func(o *dedupOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewDeduper returns a Deduper on db and ensures the retention index exists.
// Panics if db is nil.
func NewDeduper(ctx context.Context, db *mongo.Database, opts ...DeduperOption) (*Deduper, error) {
	if db == nil {
		panic("mongostore: database is required")
	}
	o := dedupOptions{
		collection: DefaultDedupCollection,
		claimTTL:   ingest.DefaultClaimTTL,
		retention:  30 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Deduper{coll: db.Collection(o.collection), claimTTL: o.claimTTL, now: o.now}
	_, err := d.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "completed_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(o.retention / time.Second)),
	})
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateIndexes, err)
	}
	return d, nil
}

func (d *Deduper) Claim(ctx context.Context, eventID string) (ingest.ClaimState, error) {
	if eventID == "" {
		return 0, ingest.ErrEmptyEventID
	}
	// A release can land between the upsert and the read; one more round settles it.
	for range 2 {
		now := d.now().UTC()
		// The upsert inserts a fresh claim or takes over an expired one. A live
		// claim or a done marker fails the filter and the insert hits the _id.
		_, err := d.coll.UpdateOne(ctx,
			bson.M{"_id": eventID, "state": stateProcessing, "claimed_at": bson.M{"$lt": now.Add(-d.claimTTL)}},
			bson.M{"$set": bson.M{"claimed_at": now}},
			options.UpdateOne().SetUpsert(true),
		)
		if err == nil {
			return ingest.ClaimAcquired, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return 0, unavailable(err)
		}

		var doc eventDoc
		err = d.coll.FindOne(ctx, bson.M{"_id": eventID}).Decode(&doc)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			continue
		case err != nil:
			return 0, unavailable(err)
		case doc.State == stateDone:
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
	now := d.now().UTC()
	_, err := d.coll.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{
			"$set":         bson.M{"state": stateDone, "completed_at": now},
			"$setOnInsert": bson.M{"claimed_at": now},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (d *Deduper) Release(ctx context.Context, eventID string) error {
	if _, err := d.coll.DeleteOne(ctx, bson.M{"_id": eventID, "state": stateProcessing}); err != nil {
		return unavailable(err)
	}
	return nil
}
