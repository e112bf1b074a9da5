package clock

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// Day returns the UTC calendar date of t, the key of daily stat rows
func Day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// DayBounds returns [start, end) of a UTC day in unix milliseconds
func DayBounds(day string) (int64, int64, error) {
	start, err := time.ParseInLocation(dayLayout, day, time.UTC)
	if err != nil {
		return 0, 0, fmt.Errorf("day is not a valid date: %s", day)
	}
	return start.UnixMilli(), start.AddDate(0, 0, 1).UnixMilli(), nil
}

func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Remaining formats the time left until t for user-facing messages,
// rounded down to minutes
func Remaining(from, to time.Time) string {
	d := to.Sub(from)
	if d <= 0 {
		return "expired"
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
