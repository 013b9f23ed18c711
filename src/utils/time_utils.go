package utils

import (
	"fmt"
	"strings"
	"time"
)

// ResetTime resets the time component based on the granularity specified.
// Pass "minute" to reset seconds to zero.
// Pass "hour" to reset minutes and seconds to zero.
func ResetTime(t time.Time, granularity string) time.Time {
	switch granularity {
	case "minute":
		return t.Truncate(time.Minute) // Resets seconds to zero
	case "hour":
		return t.Truncate(time.Hour) // Resets minutes and seconds to zero
	default:
		fmt.Println("Invalid granularity. Please use 'minute' or 'hour'.")
		return t
	}
}

// HolidaySet is the externally supplied list of non-trading dates.
type HolidaySet map[string]struct{}

const holidayDateLayout = "2006-01-02"

// ParseHolidays builds a HolidaySet from a comma-separated list of
// YYYY-MM-DD dates (the format the env config carries).
func ParseHolidays(csv string) (HolidaySet, error) {
	set := HolidaySet{}
	for _, raw := range strings.Split(csv, ",") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if _, err := time.Parse(holidayDateLayout, s); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", s, err)
		}
		set[s] = struct{}{}
	}
	return set, nil
}

func (h HolidaySet) Contains(t time.Time) bool {
	_, ok := h[t.Format(holidayDateLayout)]
	return ok
}

// BusinessDays counts trading days in [from, until], excluding weekends and
// any holiday strictly between the endpoints. A same-day weekday span counts
// as 1; a weekend or holiday span can count 0.
func BusinessDays(from, until time.Time, holidays HolidaySet) int {
	fromDay := from.Truncate(24 * time.Hour)
	untilDay := until.Truncate(24 * time.Hour)
	if untilDay.Before(fromDay) {
		return 0
	}

	days := 0
	for d := fromDay; !d.After(untilDay); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		days++
	}
	for d := fromDay.AddDate(0, 0, 1); d.Before(untilDay); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if holidays.Contains(d) {
			days--
		}
	}
	return days
}
