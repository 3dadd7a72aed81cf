// Package schedule implements weekly access schedules: named sets of
// weekday time windows during which a subject is allowed online. The
// evaluator is pure; callers pass in the current time.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/validation"
)

// ErrNoUpcomingWindow is returned when a schedule has no window now or
// within the next seven days.
var ErrNoUpcomingWindow = errors.New("schedule has no upcoming window")

// Window is a single allow window. It applies on each listed weekday,
// from Start (inclusive) to End (exclusive), both in 24h HH:MM local time.
// Windows never cross midnight; Start must be before End.
type Window struct {
	Days  []int  `json:"days" hcl:"days"`
	Start string `json:"start" hcl:"start"`
	End   string `json:"end" hcl:"end"`
}

// Weekly is a subject's recurring schedule. When Enabled is false the
// schedule is kept but has no effect on access decisions.
type Weekly struct {
	Enabled bool     `json:"enabled"`
	Windows []Window `json:"windows"`
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%02d:%02d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

// minuteOfDay truncates t to whole minutes since local midnight.
// Seconds are ignored so a window spanning 08:00-17:00 is active at
// 16:59:59 and inactive at 17:00:00.
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Validate checks every window for well-formed days and times.
func (s *Weekly) Validate() error {
	for i, w := range s.Windows {
		if len(w.Days) == 0 {
			return fmt.Errorf("window %d: no days listed", i)
		}
		for _, d := range w.Days {
			if err := validation.ValidateWeekday(d); err != nil {
				return fmt.Errorf("window %d: %w", i, err)
			}
		}
		if err := validation.ValidateClockTime(w.Start); err != nil {
			return fmt.Errorf("window %d: %w", i, err)
		}
		if err := validation.ValidateClockTime(w.End); err != nil {
			return fmt.Errorf("window %d: %w", i, err)
		}
		start, _ := parseClock(w.Start)
		end, _ := parseClock(w.End)
		if start >= end {
			return fmt.Errorf("window %d: start %s must be before end %s (windows cannot cross midnight)", i, w.Start, w.End)
		}
	}
	return nil
}

// appliesOn reports whether the window covers the given weekday.
func (w Window) appliesOn(day time.Weekday) bool {
	for _, d := range w.Days {
		if d == int(day) {
			return true
		}
	}
	return false
}

// activeAt reports whether the window covers t, along with its end
// minute for the caller to compare.
func (w Window) activeAt(t time.Time) (bool, int) {
	if !w.appliesOn(t.Weekday()) {
		return false, 0
	}
	start, err1 := parseClock(w.Start)
	end, err2 := parseClock(w.End)
	if err1 != nil || err2 != nil {
		return false, 0
	}
	now := minuteOfDay(t)
	return start <= now && now < end, end
}

// ActiveAt reports whether any window covers t. The Enabled flag is not
// consulted; callers decide what a disabled schedule means.
func (s *Weekly) ActiveAt(t time.Time) bool {
	for _, w := range s.Windows {
		if active, _ := w.activeAt(t); active {
			return true
		}
	}
	return false
}

// CurrentWindowEnd returns the end of the active window covering t.
// When overlapping windows are active the latest end wins. The second
// return is false when no window covers t.
func (s *Weekly) CurrentWindowEnd(t time.Time) (time.Time, bool) {
	best := -1
	for _, w := range s.Windows {
		if active, end := w.activeAt(t); active && end > best {
			best = end
		}
	}
	if best < 0 {
		return time.Time{}, false
	}
	return atMinute(t, best), true
}

// NextWindowStart returns the start of the next window strictly after
// t, scanning up to seven days ahead. A window already in progress does
// not count; use CurrentWindowEnd for that.
func (s *Weekly) NextWindowStart(t time.Time) (time.Time, error) {
	start, _, err := s.nextWindow(t)
	return start, err
}

// NextWindowEnd returns the moment the schedule next stops allowing:
// the end of the window in progress at t, or failing that the end of
// the next upcoming window. This is the horizon a skip runs to.
func (s *Weekly) NextWindowEnd(t time.Time) (time.Time, error) {
	if end, ok := s.CurrentWindowEnd(t); ok {
		return end, nil
	}
	_, end, err := s.nextWindow(t)
	return end, err
}

// nextWindow finds the earliest window start strictly after t within
// seven days, returning its start and end. Among windows starting at
// the same minute the latest end wins.
func (s *Weekly) nextWindow(t time.Time) (start, end time.Time, err error) {
	var bestStart, bestEnd time.Time
	for offset := 0; offset <= 7; offset++ {
		day := t.AddDate(0, 0, offset)
		for _, w := range s.Windows {
			if !w.appliesOn(day.Weekday()) {
				continue
			}
			sm, err1 := parseClock(w.Start)
			em, err2 := parseClock(w.End)
			if err1 != nil || err2 != nil {
				continue
			}
			ws := atMinute(day, sm)
			if !ws.After(t) {
				continue
			}
			we := atMinute(day, em)
			switch {
			case bestStart.IsZero(), ws.Before(bestStart):
				bestStart, bestEnd = ws, we
			case ws.Equal(bestStart) && we.After(bestEnd):
				bestEnd = we
			}
		}
		if !bestStart.IsZero() {
			// Later offsets can only start later.
			break
		}
	}
	if bestStart.IsZero() {
		return time.Time{}, time.Time{}, ErrNoUpcomingWindow
	}
	return bestStart, bestEnd, nil
}

// atMinute returns the given day's date at the given minute of day, in
// the day's location.
func atMinute(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}
