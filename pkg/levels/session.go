package levels

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day (exchange-local), minute resolution.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" into a ClockTime
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: bad hour", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q: bad minute", s)
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// Minutes returns minutes since midnight
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// dayKey identifies a calendar date in the session time zone.
// The zero value is not a valid key; trackers carry a separate set flag.
type dayKey struct {
	year  int
	month time.Month
	day   int
}

func dayKeyOf(t time.Time, loc *time.Location) dayKey {
	local := t.In(loc)
	year, month, day := local.Date()
	return dayKey{year: year, month: month, day: day}
}

// next returns the following calendar day, normalized across month/year ends
func (k dayKey) next() dayKey {
	t := time.Date(k.year, k.month, k.day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	year, month, day := t.Date()
	return dayKey{year: year, month: month, day: day}
}

func (k dayKey) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", k.year, int(k.month), k.day)
}

// minutesOfDay returns minutes since midnight for t in the session time zone
func minutesOfDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	return local.Hour()*60 + local.Minute()
}

// inWindow reports whether tod (minutes since midnight) falls in the
// half-open window [start, end). Windows here never wrap midnight; the
// overnight classification handles the wrap explicitly in the tracker.
func inWindow(tod int, start, end ClockTime) bool {
	return tod >= start.Minutes() && tod < end.Minutes()
}
