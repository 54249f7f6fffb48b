package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NextRun returns the next fire time after now. It is pure: the same spec
// and now always give the same answer.
//
// A weekly schedule evaluated on its own weekday always moves a full week
// ahead, even when today's time of day has not passed yet.
func NextRun(spec RecurrenceSpec, now time.Time) (time.Time, error) {
	loc, err := spec.location()
	if err != nil {
		return time.Time{}, err
	}
	now = now.In(loc)

	hour, minute, err := parseTimeOfDay(spec.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, hour, minute, 0, 0, loc)
	}

	var next time.Time
	switch spec.Kind {
	case Once:
		next = now
		if spec.StartAt != nil {
			next = spec.StartAt.In(loc)
		}

	case Daily:
		next = at(now.Year(), now.Month(), now.Day())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

	case Weekly:
		if spec.DayOfWeek < 0 || spec.DayOfWeek > 6 {
			return time.Time{}, fmt.Errorf("%w: day of week %d", ErrInvalidRecurrence, spec.DayOfWeek)
		}
		offset := (spec.DayOfWeek - int(now.Weekday()) + 7) % 7
		if offset == 0 {
			offset = 7
		}
		next = at(now.Year(), now.Month(), now.Day()+offset)

	case Monthly:
		if spec.DayOfMonth < 1 || spec.DayOfMonth > 31 {
			return time.Time{}, fmt.Errorf("%w: day of month %d", ErrInvalidRecurrence, spec.DayOfMonth)
		}
		next = at(now.Year(), now.Month(), clampDay(now.Year(), now.Month(), spec.DayOfMonth))
		if !next.After(now) {
			y, m := now.Year(), now.Month()+1
			if m > time.December {
				y, m = y+1, time.January
			}
			next = at(y, m, clampDay(y, m, spec.DayOfMonth))
		}

	case Custom:
		if spec.Interval <= 0 {
			return time.Time{}, fmt.Errorf("%w: custom interval must be positive", ErrInvalidRecurrence)
		}
		next = now.Add(time.Duration(spec.Interval))

	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecurrence, spec.Kind)
	}

	if spec.EndAt != nil && next.After(*spec.EndAt) {
		next = spec.EndAt.In(loc)
	}
	return next, nil
}

// Validate checks the spec without computing a time.
func (r RecurrenceSpec) Validate() error {
	_, err := NextRun(r, time.Unix(0, 0))
	return err
}

func (r RecurrenceSpec) location() (*time.Location, error) {
	if r.Location == "" || strings.EqualFold(r.Location, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: location %q", ErrInvalidRecurrence, r.Location)
	}
	return loc, nil
}

// parseTimeOfDay reads "HH:MM". Empty is midnight.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, nil
	}
	h, m, ok := strings.Cut(s, ":")
	if ok {
		hour, err = strconv.Atoi(h)
	}
	if ok && err == nil {
		minute, err = strconv.Atoi(m)
	}
	if !ok || err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time of day %q", ErrInvalidRecurrence, s)
	}
	return hour, minute, nil
}

// clampDay limits day to the length of the month.
func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return min(day, last)
}
