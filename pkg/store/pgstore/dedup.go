package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/entitlements/pkg/ingest"
)

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

// claimEvent inserts a fresh claim or takes over one whose owner let it
// expire. No row comes back when the event is done or claimed elsewhere.
const claimEvent = `INSERT INTO processed_events AS e (event_id, state, claimed_at)
VALUES ($1, 'processing', $2)
ON CONFLICT (event_id) DO UPDATE SET claimed_at = EXCLUDED.claimed_at
WHERE e.state = 'processing' AND e.claimed_at < $3
RETURNING state`

const completeEvent = `INSERT INTO processed_events AS e (event_id, state, claimed_at, completed_at)
VALUES ($1, 'done', $2, $2)
ON CONFLICT (event_id) DO UPDATE SET state = 'done', completed_at = EXCLUDED.completed_at`

// Deduper implements ingest.Deduper on the processed_events table, so every
// worker sharing the database sees the same processed-id log.
type Deduper struct {
	db        *pgxpool.Pool
	claimTTL  time.Duration
	retention time.Duration
	now       func() time.Time
}

var _ ingest.Deduper = (*Deduper)(nil)

// DeduperOption configures a Deduper.
type DeduperOption func(*Deduper)

// WithDedupConfig applies the claim TTL and retention from cfg.
func WithDedupConfig(cfg Config) DeduperOption {
	return func(d *Deduper) {
		if cfg.DedupClaimTTL > 0 {
			d.claimTTL = cfg.DedupClaimTTL
		}
		if cfg.DedupRetention > 0 {
			d.retention = cfg.DedupRetention
		}
	}
}

func WithDedupClock(now func() time.Time) DeduperOption {
	return func(d *Deduper) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDeduper panics if db is nil. The schema must be migrated with Migrate first.
func NewDeduper(db *pgxpool.Pool, opts ...DeduperOption) *Deduper {
	if db == nil {
		panic("pgstore: connection pool is required")
	}
	d := &Deduper{
		db:        db,
		claimTTL:  ingest.DefaultClaimTTL,
		retention: 30 * 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deduper) Claim(ctx context.Context, eventID string) (ingest.ClaimState, error) {
	if eventID == "" {
		return 0, ingest.ErrEmptyEventID
	}
	// A release can land between the insert and the read; one more round settles it.
	for range 2 {
		now := d.now().UTC()
		var state string
		err := d.db.QueryRow(ctx, claimEvent, eventID, now, now.Add(-d.claimTTL)).Scan(&state)
		if err == nil {
			return ingest.ClaimAcquired, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, unavailable(err)
		}

		err = d.db.QueryRow(ctx, `SELECT state FROM processed_events WHERE event_id = $1`, eventID).Scan(&state)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			continue
		case err != nil:
			return 0, unavailable(err)
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
	if _, err := d.db.Exec(ctx, completeEvent, eventID, d.now().UTC()); err != nil {
		return unavailable(err)
	}
	return nil
}

func (d *Deduper) Release(ctx context.Context, eventID string) error {
	_, err := d.db.Exec(ctx,
		`DELETE FROM processed_events WHERE event_id = $1 AND state = $2`,
		eventID, stateProcessing,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Prune forgets processed ids completed before the retention period and
// returns how many were removed.
func (d *Deduper) Prune(ctx context.Context) (int64, error) {
	tag, err := d.db.Exec(ctx,
		`DELETE FROM processed_events WHERE state = $1 AND completed_at < $2`,
		stateDone, d.now().UTC().Add(-d.retention),
	)
	if err != nil {
		return 0, unavailable(err)
	}
	return tag.RowsAffected(), nil
}
