// Package schedule drives unattended sync runs: when a pair is due,
// whether the current time is inside the allowed window, and how long
// until the next opportunity.
package schedule

import (
	"fmt"
	"time"
)

// Weekday names a day for time-window filters.
type Weekday string

// Days of the week.
const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

// Prev returns the preceding day. Used for the after-midnight portion
// of overnight windows, which belongs to the day the window started.
func (w Weekday) Prev() Weekday {
	switch w {
	case Monday:
		return Sunday
	case Tuesday:
		return Monday
	case Wednesday:
		return Tuesday
	case Thursday:
		return Wednesday
	case Friday:
		return Thursday
	case Saturday:
		return Friday
	default:
		return Saturday
	}
}

// FromTime converts a time.Weekday.
func FromTime(d time.Weekday) Weekday {
	switch d {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// TimeWindow restricts when scheduled syncs may run. Overnight windows
// (start later than end, e.g. 22:00-06:00) are supported.
type TimeWindow struct {
	StartHour   int       `json:"start_hour"`
	StartMinute int       `json:"start_minute"`
	EndHour     int       `json:"end_hour"`
	EndMinute   int       `json:"end_minute"`
	// Days limits the window to specific weekdays. Empty means every
	// day.
	Days []Weekday `json:"days"`
}

// Validate checks the window's clock fields.
func (w *TimeWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return fmt.Errorf("time window hours must be 0-23 (got start=%d end=%d)", w.StartHour, w.EndHour)
	}

	if w.StartMinute < 0 || w.StartMinute > 59 || w.EndMinute < 0 || w.EndMinute > 59 {
		return fmt.Errorf("time window minutes must be 0-59 (got start=%d end=%d)", w.StartMinute, w.EndMinute)
	}

	return nil
}

// ContainsTime reports whether the clock time falls inside the window,
// ignoring day filters.
func (w *TimeWindow) ContainsTime(hour, minute int) bool {
	start := w.StartHour*60 + w.StartMinute
	end := w.EndHour*60 + w.EndMinute
	now := hour*60 + minute

	if start <= end {
		return now >= start && now < end
	}

	// Overnight window.
	return now >= start || now < end
}

// ContainsDay reports whether the day is allowed. Empty Days allows
// every day.
func (w *TimeWindow) ContainsDay(day Weekday) bool {
	if len(w.Days) == 0 {
		return true
	}

	for _, d := range w.Days {
		if d == day {
			return true
		}
	}

	return false
}

// Contains reports whether t falls inside the window, handling
// overnight carry-over for day filters: for a 22:00-06:00 window on
// Mondays, Tuesday 02:00 is inside (the after-midnight portion of
// Monday's window) while Tuesday 23:00 is not.
func (w *TimeWindow) Contains(t time.Time) bool {
	hour, minute := t.Hour(), t.Minute()
	if !w.ContainsTime(hour, minute) {
		return false
	}

	start := w.StartHour*60 + w.StartMinute
	end := w.EndHour*60 + w.EndMinute
	now := hour*60 + minute

	day := FromTime(t.Weekday())
	if start > end && now < end {
		day = day.Prev()
	}

	return w.ContainsDay(day)
}

// MinIntervalSecs is the floor on scheduled sync frequency.
const MinIntervalSecs = 60

// Schedule is the persisted scheduling configuration for one pair.
type Schedule struct {
	// Enabled is the master toggle; when false the scheduler never
	// fires.
	Enabled bool `json:"enabled"`
	// IntervalSecs is the minimum time between runs, at least 60.
	IntervalSecs int64 `json:"interval_secs"`
	// TimeWindow, when set, restricts runs to a daily window.
	TimeWindow *TimeWindow `json:"time_window,omitempty"`
	// Paused suspends firing without losing the configuration.
	Paused bool `json:"paused"`
	// LastSync is when the last scheduled run started.
	LastSync time.Time `json:"last_sync,omitempty"`
}

// Default returns a disabled hourly schedule.
func Default() Schedule {
	return Schedule{IntervalSecs: 3600}
}

// Validate checks the interval floor and the window, if any.
func (s *Schedule) Validate() error {
	if s.IntervalSecs < MinIntervalSecs {
		return fmt.Errorf("sync interval must be at least %d seconds (got %d)", MinIntervalSecs, s.IntervalSecs)
	}

	if s.TimeWindow != nil {
		return s.TimeWindow.Validate()
	}

	return nil
}

// InTimeWindow reports whether now is inside the configured window.
// True when no window is set.
func (s *Schedule) InTimeWindow(now time.Time) bool {
	if s.TimeWindow == nil {
		return true
	}

	return s.TimeWindow.Contains(now)
}

// ShouldRunNow reports whether a scheduled run is due at now.
func (s *Schedule) ShouldRunNow(now time.Time) bool {
	if !s.Enabled || s.Paused {
		return false
	}

	if s.IntervalSecs < MinIntervalSecs {
		return false
	}

	if !s.InTimeWindow(now) {
		return false
	}

	if !s.LastSync.IsZero() {
		if now.Sub(s.LastSync) < time.Duration(s.IntervalSecs)*time.Second {
			return false
		}
	}

	return true
}

// NextSyncIn estimates how long until the next run is due. Returns
// false when the schedule is disabled, paused, or below the interval
// floor. When outside the time window the estimate includes the wait
// until the window next opens.
func (s *Schedule) NextSyncIn(now time.Time) (time.Duration, bool) {
	if !s.Enabled || s.Paused || s.IntervalSecs < MinIntervalSecs {
		return 0, false
	}

	var intervalRemaining time.Duration

	if !s.LastSync.IsZero() {
		elapsed := now.Sub(s.LastSync)
		if interval := time.Duration(s.IntervalSecs) * time.Second; elapsed < interval {
			intervalRemaining = interval - elapsed
		}
	}

	if s.TimeWindow == nil {
		return intervalRemaining, true
	}

	if s.TimeWindow.Contains(now) {
		return intervalRemaining, true
	}

	return untilWindowOpens(s.TimeWindow, now) + intervalRemaining, true
}

// untilWindowOpens estimates the wait from now until the window next
// opens, scanning up to 8 days ahead to honor day filters.
func untilWindowOpens(w *TimeWindow, now time.Time) time.Duration {
	startMinutes := w.StartHour*60 + w.StartMinute
	nowMinutes := now.Hour()*60 + now.Minute()

	for dayOffset := 0; dayOffset < 8; dayOffset++ {
		candidate := now.AddDate(0, 0, dayOffset)
		if !w.ContainsDay(FromTime(candidate.Weekday())) {
			continue
		}

		if dayOffset == 0 {
			// Same day: only valid if the start is still ahead.
			if nowMinutes < startMinutes {
				return time.Duration((startMinutes-nowMinutes)*60-now.Second()) * time.Second
			}

			continue
		}

		untilMidnight := time.Duration((23-now.Hour())*3600+(59-now.Minute())*60+(60-now.Second())) * time.Second
		fullDays := time.Duration(dayOffset-1) * 24 * time.Hour
		fromMidnight := time.Duration(startMinutes) * time.Minute

		return untilMidnight + fullDays + fromMidnight
	}

	// Unreachable with a <=7-day day filter.
	return 24 * time.Hour
}
