package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/billing"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/reconcile"
)

// Outcome names how a delivery was handled.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMalformed Outcome = "malformed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeOrphaned  Outcome = "orphaned"

	// Unacknowledged outcomes. They are reported to observers and the
	// journal but never returned in a Result.
	OutcomeRejected Outcome = "rejected"
	OutcomeInFlight Outcome = "in_flight"
	OutcomeFailed   Outcome = "failed"
)

// Acknowledged reports whether the sender should stop redelivering.
func (o Outcome) Acknowledged() bool {
	switch o {
	case OutcomeProcessed, OutcomeDuplicate, OutcomeMalformed, OutcomeIgnored, OutcomeOrphaned:
		return true
	}
	return false
}

// Reconciler re-derives the entitlement of a billing customer.
type Reconciler interface {
	Reconcile(ctx context.Context, customerID, userHint string) (*entitlement.Record, error)
}

// Result describes an acknowledged delivery.
type Result struct {
	Outcome    Outcome
	EventID    string
	EventType  billing.EventType
	CustomerID string
	UserID     string
	Tier       entitlement.Tier
}

// Ingestor turns verified deliveries into reconciliations.
type Ingestor struct {
	provider   billing.Provider
	reconciler Reconciler
	dedup      Deduper
	journal    *Journal
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Ingestor. Panics if provider or reconciler is nil.
func New(provider billing.Provider, reconciler Reconciler, opts ...Option) *Ingestor {
	if provider == nil {
		panic("ingest: billing Provider is required")
	}
	if reconciler == nil {
		panic("ingest: Reconciler is required")
	}
	i := &Ingestor{
		provider:   provider,
		reconciler: reconciler,
		dedup:      NewMemoryDeduper(),
		journal:    NewJournal(DefaultJournalSize),
		observer:   nopObserver{},
		logger:     logger.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(logger.Component("ingestor"), logger.Provider(provider.Name()))
	return i
}

// Provider returns the provider deliveries are verified against.
func (i *Ingestor) Provider() billing.Provider { return i.provider }

// Journal returns the journal of recent deliveries.
func (i *Ingestor) Journal() *Journal { return i.journal }

// Accept handles one delivery. A nil error means the sender may consider the
// delivery acknowledged. Errors match billing.ErrVerificationFailed,
// ErrEventInFlight, billing.ErrProviderUnavailable or
// entitlement.ErrStoreUnavailable.
func (i *Ingestor) Accept(ctx context.Context, payload []byte, signature string) (Result, error) {
	event, err := i.provider.ParseEvent(payload, signature)
	if err != nil {
		return i.rejected(ctx, err)
	}

	res := Result{
		EventID:    event.ID,
		EventType:  event.Type,
		CustomerID: event.CustomerID,
		UserID:     event.UserHint(),
	}
	log := i.logger.With(
		logger.EventID(event.ID),
		logger.EventType(event.ProviderType),
		logger.CustomerID(event.CustomerID),
	)

	if !event.Known() {
		log.DebugContext(ctx, "ignoring unhandled billing event")
		return i.finish(ctx, event, res, OutcomeIgnored, ""), nil
	}

	state, err := i.dedup.Claim(ctx, event.ID)
	if err != nil {
		log.ErrorContext(ctx, "event claim failed", logger.Error(err))
		i.fail(ctx, event, OutcomeFailed, err)
		return Result{}, errors.Join(entitlement.ErrStoreUnavailable, err)
	}
	switch state {
	case ClaimDone:
		log.InfoContext(ctx, "duplicate billing event")
		return i.finish(ctx, event, res, OutcomeDuplicate, ""), nil
	case ClaimInFlight:
		log.WarnContext(ctx, "billing event already in flight")
		i.fail(ctx, event, OutcomeInFlight, ErrEventInFlight)
		return Result{}, ErrEventInFlight
	}

	rec, err := i.reconciler.Reconcile(ctx, event.CustomerID, event.UserHint())
	switch {
	case errors.Is(err, reconcile.ErrUserNotFound):
		i.complete(ctx, log, event.ID)
		log.WarnContext(ctx, "orphaned billing event, no user mapped to customer")
		return i.finish(ctx, event, res, OutcomeOrphaned, "no user mapped to customer"), nil
	case err != nil:
		if relErr := i.dedup.Release(context.WithoutCancel(ctx), event.ID); relErr != nil {
			log.ErrorContext(ctx, "event claim release failed", logger.Error(relErr))
		}
		log.ErrorContext(ctx, "billing event processing failed", logger.Error(err))
		i.fail(ctx, event, OutcomeFailed, err)
		return Result{}, err
	}

	i.complete(ctx, log, event.ID)
	res.UserID = rec.UserID
	res.Tier = rec.Tier
	log.InfoContext(ctx, "billing event processed",
		logger.UserID(rec.UserID),
		logger.Tier(string(rec.Tier)),
	)
	return i.finish(ctx, event, res, OutcomeProcessed, ""), nil
}

// complete records the event as done. A failure here is logged only: the
// reconciliation already happened and repeating it is harmless.
func (i *Ingestor) complete(ctx context.Context, log *slog.Logger, eventID string) {
	if err := i.dedup.Complete(context.WithoutCancel(ctx), eventID); err != nil {
		log.ErrorContext(ctx, "event completion not recorded", logger.Error(err))
	}
}

func (i *Ingestor) rejected(ctx context.Context, err error) (Result, error) {
	var verr *billing.VerificationError
	if errors.As(err, &verr) && !verr.Retryable() {
		i.logger.WarnContext(ctx, "malformed billing event acknowledged", logger.Error(err))
		i.record(Entry{Outcome: OutcomeMalformed, Note: err.Error()})
		i.observer.EventHandled(ctx, i.provider.Name(), OutcomeMalformed)
		return Result{Outcome: OutcomeMalformed}, nil
	}
	i.logger.WarnContext(ctx, "billing event rejected", logger.Error(err))
	i.record(Entry{Outcome: OutcomeRejected, Note: err.Error()})
	i.observer.EventHandled(ctx, i.provider.Name(), OutcomeRejected)
	return Result{}, err
}

func (i *Ingestor) finish(ctx context.Context, event *billing.Event, res Result, outcome Outcome, note string) Result {
	res.Outcome = outcome
	i.record(Entry{
		EventID:        event.ID,
		Type:           event.ProviderType,
		CustomerID:     event.CustomerID,
		SubscriptionID: event.SubscriptionID,
		UserID:         res.UserID,
		Tier:           res.Tier,
		Outcome:        outcome,
		Note:           note,
	})
	i.observer.EventHandled(ctx, i.provider.Name(), outcome)
	return res
}

func (i *Ingestor) fail(ctx context.Context, event *billing.Event, outcome Outcome, err error) {
	i.record(Entry{
		EventID:        event.ID,
		Type:           event.ProviderType,
		CustomerID:     event.CustomerID,
		SubscriptionID: event.SubscriptionID,
		Outcome:        outcome,
		Note:           err.Error(),
	})
	i.observer.EventHandled(ctx, i.provider.Name(), outcome)
}

func (i *Ingestor) record(e Entry) {
	e.At = i.now().UTC()
	e.Provider = i.provider.Name()
	i.journal.Record(e)
}
