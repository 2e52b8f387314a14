package jwt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatParseKeyTimestamp(t *testing.T) {
	ts := time.Date(2026, 10, 19, 14, 3, 7, 42*int(time.Millisecond)+999, time.UTC)
	s := FormatKeyTimestamp(ts)
	require.Equal(t, "2026-10-19T14_03_07_042", s)

	back, err := ParseKeyTimestamp(s)
	require.NoError(t, err)
	require.True(t, back.Equal(ts.Truncate(time.Millisecond)))
}

func TestFormatKeyTimestamp_ConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("ART", -3*3600)
	ts := time.Date(2026, 1, 1, 21, 0, 0, 0, loc)
	require.Equal(t, "2026-01-02T00_00_00_000", FormatKeyTimestamp(ts))
}

func TestParseKeyTimestamp_Invalid(t *testing.T) {
	for _, s := range []string{"", "nope", "2026-10-19T14_03_07", "2026-10-19T14_03_07_4x2", "2026-13-19T14_03_07_000"} {
		_, err := ParseKeyTimestamp(s)
		require.Error(t, err, s)
	}
}

func TestTimestampClock_MonotonicWhenClockStalls(t *testing.T) {
	fixed := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	c := NewTimestampClock(func() time.Time { return fixed })

	require.Equal(t, "2026-10-19T00_00_00_000", c.Next())
	require.Equal(t, "2026-10-19T00_00_00_001", c.Next())
	require.Equal(t, "2026-10-19T00_00_00_002", c.Next())
}

func TestTimestampClock_ClockGoingBackwards(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 1, 0, time.UTC)
	c := NewTimestampClock(func() time.Time { return now })
	first := c.Next()

	now = now.Add(-time.Second)
	second := c.Next()
	require.Greater(t, second, first)
}

func TestNewKeyTimestamp_ConcurrentCallsAreDistinct(t *testing.T) {
	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := NewKeyTimestamp()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}
