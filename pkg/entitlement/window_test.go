package entitlement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

func TestWeekKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"mid week", time.Date(2025, 2, 26, 15, 0, 0, 0, time.UTC), "2025-W09"},
		{"monday midnight", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), "2025-W10"},
		{"sunday last second", time.Date(2025, 3, 2, 23, 59, 59, 0, time.UTC), "2025-W09"},
		{"iso year differs from calendar year", time.Date(2024, 12, 30, 12, 0, 0, 0, time.UTC), "2025-W01"},
		{"week 53", time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC), "2026-W53"},
		{"non utc input", time.Date(2025, 3, 3, 1, 0, 0, 0, time.FixedZone("CET", 3600)), "2025-W10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, entitlement.WeekKey(tt.at))
			assert.Equal(t, tt.want, entitlement.Weekly.Key(tt.at))
		})
	}
}

func TestWindowRollover(t *testing.T) {
	t.Parallel()

	sunday := time.Date(2025, 3, 2, 23, 59, 59, 0, time.UTC)
	monday := sunday.Add(time.Second)

	assert.NotEqual(t, entitlement.Weekly.Key(sunday), entitlement.Weekly.Key(monday))
	assert.Equal(t, monday, entitlement.Weekly.Next(sunday))
	assert.Equal(t, monday, entitlement.Weekly.Start(monday))
	assert.Less(t, entitlement.Weekly.Key(sunday), entitlement.Weekly.Key(monday))
}

func TestPeriodWindow(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)

	daily, err := entitlement.PeriodDaily.Window()
	require.NoError(t, err)
	assert.Equal(t, "2025-01-31", daily.Key(at))
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), daily.Next(at))

	monthly, err := entitlement.PeriodMonthly.Window()
	require.NoError(t, err)
	assert.Equal(t, "2025-01", monthly.Key(at))
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), monthly.Next(at))

	_, err = entitlement.Period("hourly").Window()
	assert.ErrorIs(t, err, entitlement.ErrInvalidPeriod)
}

func TestLaterKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2025-W10", entitlement.LaterKey("2025-W10", "2025-W09"))
	assert.Equal(t, "2025-W11", entitlement.LaterKey("2025-W10", "2025-W11"))
	assert.Equal(t, "2025-W10", entitlement.LaterKey("2025-W10", ""))
	assert.Equal(t, "2026-W01", entitlement.LaterKey("2025-W52", "2026-W01"))
}
