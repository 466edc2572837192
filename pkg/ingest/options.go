package ingest

import (
	"log/slog"
	"time"
)

// Option configures an Ingestor.
type Option func(*Ingestor)

func WithDeduper(d Deduper) Option {
	return func(i *Ingestor) {
		if d != nil {
			i.dedup = d
		}
	}
}

func WithJournal(j *Journal) Option {
	return func(i *Ingestor) {
		if j != nil {
			i.journal = j
		}
	}
}

func WithObserver(o Observer) Option {
	return func(i *Ingestor) {
		if o != nil {
			i.observer = o
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}
