package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsTradingDay(t *testing.T) {
	assert.True(t, IsTradingDay(date(2026, time.August, 28)))   // Friday
	assert.False(t, IsTradingDay(date(2026, time.August, 29)))  // Saturday
	assert.False(t, IsTradingDay(date(2026, time.August, 30)))  // Sunday
	assert.True(t, IsTradingDay(date(2026, time.August, 31)))   // Monday
}

func TestNextTradingDaySkipsWeekend(t *testing.T) {
	friday := date(2026, time.August, 28)
	assert.Equal(t, date(2026, time.August, 31), NextTradingDay(friday))

	saturday := date(2026, time.August, 29)
	assert.Equal(t, date(2026, time.August, 31), NextTradingDay(saturday))

	monday := date(2026, time.August, 31)
	assert.Equal(t, date(2026, time.September, 1), NextTradingDay(monday))
}

func TestSettlementDate(t *testing.T) {
	tests := []struct {
		name  string
		trade time.Time
		days  int
		want  time.Time
	}{
		{
			name:  "midweek T+1",
			trade: time.Date(2026, time.August, 25, 14, 30, 0, 0, time.UTC), // Tuesday
			days:  1,
			want:  date(2026, time.August, 26),
		},
		{
			name:  "friday T+1 lands monday",
			trade: time.Date(2026, time.August, 28, 10, 0, 0, 0, time.UTC),
			days:  1,
			want:  date(2026, time.August, 31),
		},
		{
			name:  "thursday T+2 skips weekend",
			trade: time.Date(2026, time.August, 27, 15, 0, 0, 0, time.UTC),
			days:  2,
			want:  date(2026, time.August, 31),
		},
		{
			name:  "saturday trade settles from the weekend",
			trade: time.Date(2026, time.August, 29, 9, 0, 0, 0, time.UTC),
			days:  1,
			want:  date(2026, time.August, 31),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SettlementDate(tt.trade, tt.days)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 0, got.Hour())
		})
	}
}

func TestClockToday(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	assert.NoError(t, err)

	now := time.Date(2026, time.August, 28, 6, 0, 0, 0, time.UTC) // 11:30 IST
	cutoff := ClockToday(now, 15, 15, loc)

	assert.Equal(t, 15, cutoff.Hour())
	assert.Equal(t, 15, cutoff.Minute())
	assert.Equal(t, loc, cutoff.Location())
	assert.True(t, now.Before(cutoff))
}

func TestSameDay(t *testing.T) {
	loc, _ := time.LoadLocation("Asia/Kolkata")

	a := time.Date(2026, time.August, 28, 1, 0, 0, 0, loc)
	b := time.Date(2026, time.August, 27, 20, 30, 0, 0, time.UTC) // 02:00 IST on the 28th
	assert.True(t, SameDay(a, b))

	c := time.Date(2026, time.August, 27, 12, 0, 0, 0, loc)
	assert.False(t, SameDay(a, c))
}
