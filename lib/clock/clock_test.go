package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDay(t *testing.T) {
	loc := time.FixedZone("x", 3*3600)
	ts := time.Date(2024, 5, 2, 1, 30, 0, 0, loc)
	assert.Equal(t, "2024-05-01", Day(ts))
}

func TestDayBounds(t *testing.T) {
	start, end, err := DayBounds("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), start)
	assert.Equal(t, int64(24*time.Hour/time.Millisecond), end-start)

	_, _, err = DayBounds("yesterday")
	assert.Error(t, err)
}

func TestMillisRoundTrip(t *testing.T) {
	assert.Equal(t, int64(0), Millis(time.Time{}))
	assert.True(t, FromMillis(0).IsZero())
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, ts, FromMillis(Millis(ts)))
}

func TestRemaining(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "expired", Remaining(now, now.Add(-time.Minute)))
	assert.Equal(t, "45m", Remaining(now, now.Add(45*time.Minute)))
	assert.Equal(t, "2h 5m", Remaining(now, now.Add(125*time.Minute)))
}
