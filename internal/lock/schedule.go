package lock

import (
	"fmt"
	"time"
)

// MinuteOfDay is a minute offset from local midnight, 0 through 1439.
type MinuteOfDay uint16

const minutesPerDay = 24 * 60

// Window is a recurring weekly access window. A window matches an
// instant when the instant's weekday is in Weekdays and its
// minute-of-day falls in [Start, End). End is exclusive, so a
// 09:00-17:00 window admits 16:59 and denies 17:00.
type Window struct {
	Weekdays []time.Weekday `json:"weekdays" yaml:"weekdays"`
	Start    MinuteOfDay    `json:"start" yaml:"start"`
	End      MinuteOfDay    `json:"end" yaml:"end"`
}

func (w Window) matches(weekday time.Weekday, minute MinuteOfDay) bool {
	if minute < w.Start || minute >= w.End {
		return false
	}
	for _, d := range w.Weekdays {
		if d == weekday {
			return true
		}
	}
	return false
}

// Validate checks window bounds.
func (w Window) Validate() error {
	if w.End > minutesPerDay {
		return fmt.Errorf("window end %d past end of day", w.End)
	}
	if w.Start >= w.End {
		return fmt.Errorf("window start %d not before end %d", w.Start, w.End)
	}
	if len(w.Weekdays) == 0 {
		return fmt.Errorf("window has no weekdays")
	}
	return nil
}

// Schedule restricts access to a set of recurring weekly windows up to
// an absolute expiry instant.
type Schedule struct {
	// Expiry is the absolute instant after which the schedule is dead
	// regardless of windows.
	Expiry time.Time `json:"expiry" yaml:"expiry"`
	// Windows are the allowed weekly intervals. An instant is inside
	// the schedule when any window matches.
	Windows []Window `json:"windows" yaml:"windows"`
}

// Contains reports whether at falls inside the schedule. The weekday
// and minute-of-day are evaluated in loc, the lock's configured time
// zone; the expiry check is absolute. An instant at or past expiry is
// never contained.
func (s Schedule) Contains(at time.Time, loc *time.Location) bool {
	if !at.Before(s.Expiry) {
		return false
	}
	local := at.In(loc)
	minute := MinuteOfDay(local.Hour()*60 + local.Minute())
	for _, w := range s.Windows {
		if w.matches(local.Weekday(), minute) {
			return true
		}
	}
	return false
}

// Validate checks every window.
func (s Schedule) Validate() error {
	if s.Expiry.IsZero() {
		return fmt.Errorf("schedule has no expiry")
	}
	for i, w := range s.Windows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("window %d: %w", i, err)
		}
	}
	return nil
}
