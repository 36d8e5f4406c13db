package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimestampToTime_FractionalSeconds(t *testing.T) {
	got := TimestampToTime(1609459199.5)
	require.Equal(t, time.Date(2020, time.December, 31, 23, 59, 59, 500000000, time.UTC), got)
	require.Equal(t, time.UTC, got.Location())
}

func TestTimestampRoundTrip_NanosecondPrecision(t *testing.T) {
	for _, ts := range []float64{0, 1609459199.5, 1686570000.25, 1686570000.123456789} {
		back := TimeToTimestamp(TimestampToTime(ts))
		require.InDelta(t, ts, back, 1e-9, "timestamp %v", ts)
	}
}

func TestTimeRoundTrip_ThroughTimestamp(t *testing.T) {
	orig := time.Date(2023, time.June, 12, 11, 40, 0, 250000000, time.UTC)
	back := TimestampToTime(TimeToTimestamp(orig))
	require.True(t, orig.Equal(back))
}

func TestDayOf_TruncatesToUTCMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	test := func(name string, in, want time.Time) {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, want, DayOf(in))
		})
	}
	test("midday utc",
		time.Date(2023, time.June, 12, 11, 40, 0, 0, time.UTC),
		time.Date(2023, time.June, 12, 0, 0, 0, 0, time.UTC))
	test("already midnight",
		time.Date(2023, time.June, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2023, time.June, 12, 0, 0, 0, 0, time.UTC))
	test("local evening crosses into next utc day",
		time.Date(2023, time.June, 12, 22, 0, 0, 0, loc),
		time.Date(2023, time.June, 13, 0, 0, 0, 0, time.UTC))
}
