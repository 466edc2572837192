package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

const DefaultCollection = "entitlements"

// Store implements entitlement.Store on a MongoDB collection.
type Store struct {
	coll *mongo.Collection
	now  func() time.Time
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	collection string
	now        func() time.Time
}

func WithCollection(name string) Option {
	return func(o *storeOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// New returns a Store on db and ensures the customer index exists.
// Panics if db is nil.
func New(ctx context.Context, db *mongo.Database, opts ...Option) (*Store, error) {
	if db == nil {
		panic("mongostore: database is required")
	}
	o := storeOptions{collection: DefaultCollection, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{coll: db.Collection(o.collection), now: o.now}
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "billing_customer_id", Value: 1}},
		Options: options.Index().SetSparse(true),
	})
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateIndexes, err)
	}
	return s, nil
}

func (s *Store) Get(ctx context.Context, userID string) (*entitlement.Record, error) {
	return s.findOne(ctx, bson.M{"_id": userID})
}

func (s *Store) Create(ctx context.Context, rec *entitlement.Record) error {
	if rec == nil || rec.UserID == "" {
		return entitlement.ErrEmptyUserID
	}
	doc := rec.Clone()
	doc.Version = 1
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	if doc.Quotas == nil {
		doc.Quotas = map[entitlement.FeatureKey]entitlement.Bucket{}
	}

	_, err := s.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return entitlement.ErrRecordExists
	}
	if err != nil {
		return unavailable(err)
	}
	rec.Version = 1
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, rec *entitlement.Record, expected int64) (*entitlement.Record, error) {
	update := bson.M{"$set": bson.M{
		"tier":                    rec.Tier,
		"since":                   rec.Since,
		"until":                   rec.Until,
		"features":                rec.Features,
		"billing_customer_id":     rec.BillingCustomerID,
		"billing_subscription_id": rec.BillingSubscriptionID,
		"legacy_premium":          rec.LegacyPremium,
		"stale":                   rec.Stale,
		"stale_since":             rec.StaleSince,
		"version":                 expected + 1,
		"updated_at":              s.now().UTC(),
	}}

	var out entitlement.Record
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": rec.UserID, "version": expected},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, unavailable(err)
	}

	if _, err := s.Get(ctx, rec.UserID); err != nil {
		return nil, err
	}
	return nil, entitlement.ErrVersionConflict
}

func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*entitlement.Record, error) {
	if customerID == "" {
		return nil, entitlement.ErrRecordNotFound
	}
	return s.findOne(ctx, bson.M{"billing_customer_id": customerID})
}

func (s *Store) IncrementQuota(ctx context.Context, userID string, key entitlement.FeatureKey, windowKey string, limit entitlement.Limit) (entitlement.IncrementResult, error) {
	if limit == 0 {
		return s.readBucket(ctx, userID, key, windowKey)
	}
	field := "quotas." + string(key)
	ref := "$" + field

	filter := bson.M{"_id": userID}
	if !limit.IsUnlimited() {
		filter["$or"] = bson.A{
			bson.M{field + ".window_key": bson.M{"$exists": false}},
			bson.M{field + ".window_key": bson.M{"$lt": windowKey}},
			bson.M{field + ".used": bson.M{"$lt": int64(limit)}},
		}
	}

	// Reset and increment in one document update.
	expired := bson.M{"$lt": bson.A{bson.M{"$ifNull": bson.A{ref + ".window_key", ""}}, windowKey}}
	update := mongo.Pipeline{{{Key: "$set", Value: bson.D{{Key: field, Value: bson.M{"$cond": bson.M{
		"if":   expired,
		"then": bson.M{"$literal": bson.M{"window_key": windowKey, "used": int64(1)}},
		"else": bson.M{
			"window_key": ref + ".window_key",
			"used":       bson.M{"$add": bson.A{ref + ".used", int64(1)}},
		},
	}}}}}}}

	var out entitlement.Record
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return s.readBucket(ctx, userID, key, windowKey)
	}
	if err != nil {
		return entitlement.IncrementResult{}, unavailable(err)
	}
	b := out.Bucket(key)
	return entitlement.IncrementResult{Used: b.Used, WindowKey: b.WindowKey, Applied: true}, nil
}

// readBucket reports the bucket as an increment that was not applied.
func (s *Store) readBucket(ctx context.Context, userID string, key entitlement.FeatureKey, windowKey string) (entitlement.IncrementResult, error) {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		return entitlement.IncrementResult{}, err
	}
	b := rec.Bucket(key)
	if b.WindowKey < windowKey {
		b = entitlement.Bucket{WindowKey: windowKey}
	}
	return entitlement.IncrementResult{Used: b.Used, WindowKey: b.WindowKey}, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*entitlement.Record, error) {
	var rec entitlement.Record
	err := s.coll.FindOne(ctx, filter).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &rec, nil
}

func unavailable(err error) error {
	return errors.Join(entitlement.ErrStoreUnavailable, err)
}
