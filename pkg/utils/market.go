package utils

import (
	"time"
)

// IsTradingDay reports whether t falls on a weekday.
func IsTradingDay(t time.Time) bool {
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}

// NextTradingDay returns the first weekday strictly after t.
func NextTradingDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// AddTradingDays advances t by n trading days, skipping weekends.
func AddTradingDays(t time.Time, n int) time.Time {
	out := t
	for i := 0; i < n; i++ {
		out = NextTradingDay(out)
	}
	return out
}

// SettlementDate returns the date a trade executed at tradeTime settles,
// given a T+n day count. The time-of-day component is truncated so
// eligibility checks compare whole days.
func SettlementDate(tradeTime time.Time, settlementDays int) time.Time {
	settled := AddTradingDays(tradeTime, settlementDays)
	return StartOfDay(settled)
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ClockToday returns today's date at the given wall-clock time in loc.
func ClockToday(now time.Time, hour, minute int, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), hour, minute, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar day in a's
// location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}
