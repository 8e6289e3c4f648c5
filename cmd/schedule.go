package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lockd/internal/lock"
)

// scheduleFile is the on-disk YAML shape for a scheduled permission.
//
//	expiry: 2027-01-01T00:00:00Z
//	windows:
//	  - days: [mon, tue, wed, thu, fri]
//	    start: "09:00"
//	    end: "17:00"
type scheduleFile struct {
	Expiry  time.Time `yaml:"expiry"`
	Windows []struct {
		Days  []string `yaml:"days"`
		Start string   `yaml:"start"`
		End   string   `yaml:"end"`
	} `yaml:"windows"`
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseMinute(s string) (lock.MinuteOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return lock.MinuteOfDay(h*60 + m), nil
}

// loadSchedule reads and validates a schedule YAML file.
func loadSchedule(path string) (lock.Schedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return lock.Schedule{}, err
	}

	var file scheduleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return lock.Schedule{}, fmt.Errorf("invalid schedule file: %w", err)
	}

	schedule := lock.Schedule{Expiry: file.Expiry.UTC()}
	for _, w := range file.Windows {
		window := lock.Window{}
		for _, day := range w.Days {
			weekday, ok := weekdayNames[strings.ToLower(strings.TrimSpace(day))]
			if !ok {
				return lock.Schedule{}, fmt.Errorf("unknown weekday %q", day)
			}
			window.Weekdays = append(window.Weekdays, weekday)
		}
		if window.Start, err = parseMinute(w.Start); err != nil {
			return lock.Schedule{}, err
		}
		if window.End, err = parseMinute(w.End); err != nil {
			return lock.Schedule{}, err
		}
		schedule.Windows = append(schedule.Windows, window)
	}

	if err := schedule.Validate(); err != nil {
		return lock.Schedule{}, err
	}
	return schedule, nil
}
