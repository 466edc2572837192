package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

const (
	fieldDoc      = "doc"
	fieldVersion  = "version"
	fieldCustomer = "customer"
	fieldCreated  = "created"
	usedPrefix    = "used:"
	windowPrefix  = "window:"

	replyNotFound = "NOT_FOUND"
	replyConflict = "CONFLICT"
	replyExists   = "EXISTS"
)

// KEYS: record, customer index. ARGV: doc, customer, user id, created, then
// field/value pairs for initial buckets.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('EXISTS')
end
redis.call('HSET', KEYS[1], 'doc', ARGV[1], 'version', 1, 'customer', ARGV[2], 'created', ARGV[4])
for i = 5, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
end
if ARGV[2] ~= '' then
  redis.call('SET', KEYS[2], ARGV[3])
end
return 1
`)

// KEYS: record, new customer index. ARGV: expected version, doc, customer,
// user id, customer key prefix.
var casScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
  return redis.error_reply('NOT_FOUND')
end
if tonumber(v) ~= tonumber(ARGV[1]) then
  return redis.error_reply('CONFLICT')
end
local old = redis.call('HGET', KEYS[1], 'customer')
if old and old ~= '' and old ~= ARGV[3] then
  local oldKey = ARGV[5] .. old
  if redis.call('GET', oldKey) == ARGV[4] then
    redis.call('DEL', oldKey)
  end
end
if ARGV[3] ~= '' then
  redis.call('SET', KEYS[2], ARGV[4])
end
redis.call('HSET', KEYS[1], 'doc', ARGV[2], 'version', tonumber(ARGV[1]) + 1, 'customer', ARGV[3])
return redis.call('HGETALL', KEYS[1])
`)

// KEYS: record. ARGV: feature, window key, limit.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOT_FOUND')
end
local uf = 'used:' .. ARGV[1]
local wf = 'window:' .. ARGV[1]
local used = tonumber(redis.call('HGET', KEYS[1], uf) or '0')
local win = redis.call('HGET', KEYS[1], wf) or ''
if win < ARGV[2] then
  used = 0
  win = ARGV[2]
end
local limit = tonumber(ARGV[3])
if limit == 0 or (limit > 0 and used >= limit) then
  return {used, win, 0}
end
used = used + 1
redis.call('HSET', KEYS[1], uf, used, wf, win)
return {used, win, 1}
`)

// Store implements entitlement.Store on Redis hashes.
type Store struct {
	db     redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures a Store or Deduper.
type Option func(*options)

type options struct {
	prefix    string
	now       func() time.Time
	claimTTL  time.Duration
	retention time.Duration
}

func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithConfig applies the key prefix and dedup timings of cfg.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.KeyPrefix != "" {
			o.prefix = cfg.KeyPrefix
		}
		if cfg.ClaimTTL > 0 {
			o.claimTTL = cfg.ClaimTTL
		}
		if cfg.DedupRetention > 0 {
			o.retention = cfg.DedupRetention
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		prefix:    "entitlements:",
		now:       time.Now,
		claimTTL:  10 * time.Minute,
		retention: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New panics if db is nil.
func New(db redis.UniversalClient, opts ...Option) *Store {
	if db == nil {
		panic("redisstore: redis client is required")
	}
	o := newOptions(opts)
	return &Store{db: db, prefix: o.prefix, now: o.now}
}

func (s *Store) recordKey(userID string) string { return s.prefix + "record:" + userID }

func (s *Store) customerPrefix() string { return s.prefix + "customer:" }

func (s *Store) customerKey(customerID string) string { return s.customerPrefix() + customerID }

func (s *Store) Get(ctx context.Context, userID string) (*entitlement.Record, error) {
	fields, err := s.db.HGetAll(ctx, s.recordKey(userID)).Result()
	if err != nil {
		return nil, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, entitlement.ErrRecordNotFound
	}
	return decode(fields)
}

func (s *Store) Create(ctx context.Context, rec *entitlement.Record) error {
	if rec == nil || rec.UserID == "" {
		return entitlement.ErrEmptyUserID
	}
	doc, err := encode(rec)
	if err != nil {
		return err
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	args := []any{doc, rec.BillingCustomerID, rec.UserID, created.UTC().Format(time.RFC3339Nano)}
	for key, b := range rec.Quotas {
		args = append(args,
			usedPrefix+string(key), b.Used,
			windowPrefix+string(key), b.WindowKey,
		)
	}

	keys := []string{s.recordKey(rec.UserID), s.customerKey(rec.BillingCustomerID)}
	if err := createScript.Run(ctx, s.db, keys, args...).Err(); err != nil {
		return scriptError(err)
	}
	rec.Version = 1
	return nil
}

func (s *Store) CompareAndSwap(ctx context.Context, rec *entitlement.Record, expected int64) (*entitlement.Record, error) {
	next := rec.Clone()
	next.UpdatedAt = s.now().UTC()
	doc, err := encode(next)
	if err != nil {
		return nil, err
	}

	keys := []string{s.recordKey(rec.UserID), s.customerKey(rec.BillingCustomerID)}
	flat, err := casScript.Run(ctx, s.db, keys,
		expected, doc, rec.BillingCustomerID, rec.UserID, s.customerPrefix(),
	).StringSlice()
	if err != nil {
		return nil, scriptError(err)
	}
	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		fields[flat[i]] = flat[i+1]
	}
	return decode(fields)
}

func (s *Store) FindByCustomerID(ctx context.Context, customerID string) (*entitlement.Record, error) {
	if customerID == "" {
		return nil, entitlement.ErrRecordNotFound
	}
	userID, err := s.db.Get(ctx, s.customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, entitlement.ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	return s.Get(ctx, userID)
}

func (s *Store) IncrementQuota(ctx context.Context, userID string, key entitlement.FeatureKey, windowKey string, limit entitlement.Limit) (entitlement.IncrementResult, error) {
	out, err := incrementScript.Run(ctx, s.db, []string{s.recordKey(userID)},
		string(key), windowKey, int64(limit),
	).Slice()
	if err != nil {
		return entitlement.IncrementResult{}, scriptError(err)
	}
	if len(out) != 3 {
		return entitlement.IncrementResult{}, ErrCorruptRecord
	}
	used, _ := out[0].(int64)
	win, _ := out[1].(string)
	applied, _ := out[2].(int64)
	return entitlement.IncrementResult{Used: used, WindowKey: win, Applied: applied == 1}, nil
}

// encode serializes rec without the fields the hash stores separately.
func encode(rec *entitlement.Record) (string, error) {
	doc := *rec
	doc.Quotas = nil
	doc.Version = 0
	b, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Join(ErrCorruptRecord, err)
	}
	return string(b), nil
}

func decode(fields map[string]string) (*entitlement.Record, error) {
	var rec entitlement.Record
	if err := json.Unmarshal([]byte(fields[fieldDoc]), &rec); err != nil {
		return nil, errors.Join(ErrCorruptRecord, err)
	}
	version, err := strconv.ParseInt(fields[fieldVersion], 10, 64)
	if err != nil {
		return nil, errors.Join(ErrCorruptRecord, err)
	}
	rec.Version = version
	rec.BillingCustomerID = fields[fieldCustomer]
	if created, err := time.Parse(time.RFC3339Nano, fields[fieldCreated]); err == nil {
		rec.CreatedAt = created
	}

	rec.Quotas = make(map[entitlement.FeatureKey]entitlement.Bucket)
	for field, value := range fields {
		name, ok := strings.CutPrefix(field, usedPrefix)
		if !ok {
			continue
		}
		used, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, errors.Join(ErrCorruptRecord, err)
		}
		key := entitlement.FeatureKey(name)
		rec.Quotas[key] = entitlement.Bucket{Used: used, WindowKey: fields[windowPrefix+name]}
	}
	return &rec, nil
}

func scriptError(err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, replyNotFound):
		return entitlement.ErrRecordNotFound
	case strings.HasPrefix(msg, replyConflict):
		return entitlement.ErrVersionConflict
	case strings.HasPrefix(msg, replyExists):
		return entitlement.ErrRecordExists
	}
	return errors.Join(entitlement.ErrStoreUnavailable, err)
}
