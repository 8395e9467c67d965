package levels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	ct, err := ParseClockTime("09:30")
	require.NoError(t, err)
	assert.Equal(t, ClockTime{9, 30}, ct)
	assert.Equal(t, 570, ct.Minutes())
	assert.Equal(t, "09:30", ct.String())

	ct, err = ParseClockTime("0:05")
	require.NoError(t, err)
	assert.Equal(t, ClockTime{0, 5}, ct)

	for _, bad := range []string{"", "930", "24:00", "10:60", "ab:cd", "-1:30"} {
		_, err := ParseClockTime(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestDayKey(t *testing.T) {
	ts := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	k := dayKeyOf(ts, time.UTC)
	assert.Equal(t, dayKey{2025, time.December, 31}, k)

	// next normalizes across the year boundary
	assert.Equal(t, dayKey{2026, time.January, 1}, k.next())

	// month boundary
	k = dayKey{2025, time.February, 28}
	assert.Equal(t, dayKey{2025, time.March, 1}, k.next())
}

func TestDayKey_TimeZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}

	// 02:00 UTC is still the previous day in New York
	ts := time.Date(2025, 6, 10, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, dayKey{2025, time.June, 10}, dayKeyOf(ts, time.UTC))
	assert.Equal(t, dayKey{2025, time.June, 9}, dayKeyOf(ts, loc))
}

func TestInWindow(t *testing.T) {
	start := ClockTime{9, 30}
	end := ClockTime{16, 0}

	assert.True(t, inWindow(570, start, end))  // 09:30 inclusive
	assert.True(t, inWindow(959, start, end))  // 15:59
	assert.False(t, inWindow(960, start, end)) // 16:00 exclusive
	assert.False(t, inWindow(569, start, end)) // 09:29
}
