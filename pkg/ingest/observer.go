package ingest

import "context"

// Observer is notified once per delivery with its final outcome.
type Observer interface {
	EventHandled(ctx context.Context, provider string, outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) EventHandled(context.Context, string, Outcome) {}
