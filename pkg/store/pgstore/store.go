package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

const recordColumns = `user_id, tier, since, until, features, billing_customer_id,
	billing_subscription_id, legacy_premium, stale, stale_since, version, created_at, updated_at`

const insertRecord = `INSERT INTO entitlements (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $11)`

const insertBucket = `INSERT INTO entitlement_quotas (user_id, feature_key, used, window_key)
VALUES ($1, $2, $3, $4)`

const updateRecord = `UPDATE entitlements SET
	tier = $3, since = $4, until = $5, features = $6, billing_customer_id = $7,
	billing_subscription_id = $8, legacy_premium = $9, stale = $10, stale_since = $11,
	version = version + 1, updated_at = $12
WHERE user_id = $1 AND version = $2
RETURNING ` + recordColumns

// incrementBucket resets a bucket from an older window and increments it in
// one statement. The row lock taken by ON CONFLICT serializes concurrent calls.
const incrementBucket = `INSERT INTO entitlement_quotas AS q (user_id, feature_key, used, window_key)
VALUES ($1, $2, 1, $3)
ON CONFLICT (user_id, feature_key) DO UPDATE SET
	used = CASE WHEN q.window_key < EXCLUDED.window_key THEN 1 ELSE q.used + 1 END,
	window_key = GREATEST(q.window_key, EXCLUDED.window_key)
WHERE $4::bigint < 0 OR q.window_key < EXCLUDED.window_key OR q.used < $4::bigint
RETURNING used, window_key`

// Store implements entitlement.Store on PostgreSQL.
type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New panics if db is nil. The schema must be migrated with Migrate first.
func New(db *pgxpool.Pool, opts ...Option) *Store {
	if db == nil {
		panic("pgstore: connection pool is required")
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, userID string) (*entitlement.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM entitlements WHERE user_id = $1`, userID)
	return s.load(ctx, row)
}

func (s *Store) Create(ctx context.Context, rec *entitlement.Record) error {
	if rec == nil || rec.UserID == "" {
		return entitlement.ErrEmptyUserID
	}
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertRecord,
			rec.UserID, rec.Tier, rec.Since, rec.Until, features, rec.BillingCustomerID,
			rec.BillingSubscriptionID, rec.LegacyPremium, rec.Stale, rec.StaleSince, created.UTC(),
		)
		if isDuplicateKeyError(err) {
			return entitlement.ErrRecordExists
		}
		if err != nil {
			return unavailable(err)
		}
		for key, b := range rec.Quotas {
			if _, err := tx.Exec(ctx, insertBucket, rec.UserID, key, b.Used, b.WindowKey); err != nil {
				return unavailable(err)
			}
		}
		return nil
	})
	switch {
	case err == nil:
		rec.Version = 1
		return nil
	case errors.Is(err, entitlement.ErrRecordExists), errors.Is(err, entitlement.ErrStoreUnavailable):
		return err
	}
	return unavailable(err)
}

func (s *Store) CompareAndSwap(ctx context.Context, rec *entitlement.Record, expected int64) (*entitlement.Record, error) {
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, updateRecord,
		rec.UserID, expected, rec.Tier, rec.Since, rec.Until, features, rec.BillingCustomerID,
		rec.BillingSubscriptionID, rec.LegacyPremium, rec.Stale, rec.StaleSince, s.now().UTC(),
	)
	out, err := s.load(ctx, row)
	if !errors.Is(err, entitlement.ErrRecordNotFound) {
		return out, err
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
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM entitlements
		WHERE billing_customer_id = $1 ORDER BY updated_at DESC LIMIT 1`, customerID)
	return s.load(ctx, row)
}

func (s *Store) IncrementQuota(ctx context.Context, userID string, key entitlement.FeatureKey, windowKey string, limit entitlement.Limit) (entitlement.IncrementResult, error) {
	if limit == 0 {
		return s.readBucket(ctx, userID, key, windowKey)
	}
	var res entitlement.IncrementResult
	err := s.db.QueryRow(ctx, incrementBucket, userID, key, windowKey, int64(limit)).Scan(&res.Used, &res.WindowKey)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return s.readBucket(ctx, userID, key, windowKey)
	case isForeignKeyViolationError(err):
		return entitlement.IncrementResult{}, entitlement.ErrRecordNotFound
	case err != nil:
		return entitlement.IncrementResult{}, unavailable(err)
	}
	res.Applied = true
	return res, nil
}

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

// load scans a record row and attaches its quota buckets.
func (s *Store) load(ctx context.Context, row pgx.Row) (*entitlement.Record, error) {
	var (
		rec      entitlement.Record
		features []byte
	)
	err := row.Scan(
		&rec.UserID, &rec.Tier, &rec.Since, &rec.Until, &features, &rec.BillingCustomerID,
		&rec.BillingSubscriptionID, &rec.LegacyPremium, &rec.Stale, &rec.StaleSince,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if err := json.Unmarshal(features, &rec.Features); err != nil {
		return nil, unavailable(err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT feature_key, used, window_key FROM entitlement_quotas WHERE user_id = $1`, rec.UserID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	rec.Quotas = make(map[entitlement.FeatureKey]entitlement.Bucket)
	for rows.Next() {
		var (
			key entitlement.FeatureKey
			b   entitlement.Bucket
		)
		if err := rows.Scan(&key, &b.Used, &b.WindowKey); err != nil {
			return nil, unavailable(err)
		}
		rec.Quotas[key] = b
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return &rec, nil
}

func unavailable(err error) error {
	return errors.Join(entitlement.ErrStoreUnavailable, err)
}
