package util

import (
	"fmt"
	"time"
	_ "time/tzdata" // Embedded zone database for minimal containers.
)

// DefaultTimezone is the exchange timezone used when none is configured.
const DefaultTimezone = "Asia/Taipei"

// TradingCalendar provides session-hours awareness for a single exchange and
// computes the daily limit-up threshold time.
type TradingCalendar struct {
	loc       *time.Location
	open      clock
	close     clock
	threshold clock
}

// clock is a wall-clock time of day in the calendar's location.
type clock struct{ hour, minute int }

// on returns c on the calendar date of t. Building the time from the date
// keeps the wall clock correct on days with a DST transition.
func (c clock) on(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.hour, c.minute, 0, 0, t.Location())
}

// NewTradingCalendar creates a calendar for a 09:00-13:30 weekday session in
// loc with the threshold at thresholdHour:thresholdMinute.
func NewTradingCalendar(loc *time.Location, thresholdHour, thresholdMinute int) *TradingCalendar {
	if loc == nil {
		loc = time.Local
	}
	return &TradingCalendar{
		loc:       loc,
		open:      clock{9, 0},
		close:     clock{13, 30},
		threshold: clock{thresholdHour, thresholdMinute},
	}
}

// LoadTradingCalendar resolves the named timezone and builds a calendar.
func LoadTradingCalendar(tz string, thresholdHour, thresholdMinute int) (*TradingCalendar, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	if thresholdHour < 0 || thresholdHour > 23 || thresholdMinute < 0 || thresholdMinute > 59 {
		return nil, fmt.Errorf("invalid threshold %02d:%02d", thresholdHour, thresholdMinute)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	return NewTradingCalendar(loc, thresholdHour, thresholdMinute), nil
}

// Location returns the exchange timezone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// Threshold returns the threshold time on the local calendar date of t.
func (tc *TradingCalendar) Threshold(t time.Time) time.Time {
	return tc.threshold.on(t.In(tc.loc))
}

// IsMarketOpen returns whether the session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if !isWeekday(local) {
		return false
	}
	return !local.Before(tc.open.on(local)) && local.Before(tc.close.on(local))
}

// NextOpen returns the next session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	for day := local; ; day = day.AddDate(0, 0, 1) {
		open := tc.open.on(day)
		if isWeekday(day) && !open.Before(local) {
			return open
		}
	}
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
