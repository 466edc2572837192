package entitlement

import (
	"fmt"
	"time"
)

// Period is the length of a quota accounting window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Window labels instants with the key of the accounting period containing
// them. All computations run in UTC. Keys of one period sort
// lexicographically in chronological order.
type Window struct {
	period Period
}

// Weekly is the ISO-8601 week window, keyed "2025-W09".
var Weekly = Window{period: PeriodWeekly}

// Window returns the window for p.
func (p Period) Window() (Window, error) {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return Window{period: p}, nil
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(p))
	}
}

func (w Window) Period() Period {
	if w.period == "" {
		return PeriodWeekly
	}
	return w.period
}

// Key returns the label of the window containing t.
func (w Window) Key(t time.Time) string {
	t = t.UTC()
	switch w.Period() {
	case PeriodDaily:
		return t.Format("2006-01-02")
	case PeriodMonthly:
		return t.Format("2006-01")
	default:
		return WeekKey(t)
	}
}

// Start returns the first instant of the window containing t.
func (w Window) Start(t time.Time) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	switch w.Period() {
	case PeriodDaily:
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case PeriodMonthly:
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		// ISO weeks start on Monday.
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
	}
}

// Next returns the first instant of the window after the one containing t.
func (w Window) Next(t time.Time) time.Time {
	start := w.Start(t)
	switch w.Period() {
	case PeriodDaily:
		return start.AddDate(0, 0, 1)
	case PeriodMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 7)
	}
}

// WeekKey formats the ISO-8601 week of t as "YYYY-Www".
func WeekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// LaterKey returns the later of two keys of the same period. Window keys never
// move backwards, so a stored key ahead of the local clock stays current.
func LaterKey(current, stored string) string {
	if stored > current {
		return stored
	}
	return current
}
