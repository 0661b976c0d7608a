package leave_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/leave"
)

func TestParseDate_RoundTrip(t *testing.T) {
	d, err := leave.ParseDate("2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, leave.NewDate(2026, time.March, 2), d)
	assert.Equal(t, "2026-03-02", d.String())
}

func TestParseDate_Invalid(t *testing.T) {
	for _, input := range []string{"", "02/03/2026", "2026-3-2", "yesterday"} {
		_, err := leave.ParseDate(input)
		assert.Error(t, err, "input %q should not parse", input)
	}
}

func TestDateOf_DropsTimeOfDay(t *testing.T) {
	instant := time.Date(2026, time.March, 2, 17, 45, 12, 0, time.UTC)
	assert.Equal(t, leave.NewDate(2026, time.March, 2), leave.DateOf(instant))
}

func TestDate_WeekendDetection(t *testing.T) {
	assert.False(t, leave.NewDate(2026, time.March, 2).IsWeekend(), "Monday")
	assert.False(t, leave.NewDate(2026, time.March, 6).IsWeekend(), "Friday")
	assert.True(t, leave.NewDate(2026, time.March, 7).IsWeekend(), "Saturday")
	assert.True(t, leave.NewDate(2026, time.March, 8).IsWeekend(), "Sunday")
}

func TestDate_AddMonths_FromYearStart(t *testing.T) {
	// The expiry cutoff is always computed from January 1st.
	assert.Equal(t, leave.NewDate(2026, time.April, 1), leave.StartOfYear(2026).AddMonths(3))
	assert.Equal(t, leave.NewDate(2027, time.January, 1), leave.StartOfYear(2026).AddMonths(12))
}

func TestNewDateRange_Backwards_Rejected(t *testing.T) {
	_, err := leave.NewDateRange(leave.NewDate(2026, time.March, 6), leave.NewDate(2026, time.March, 2))
	assert.ErrorIs(t, err, leave.ErrInvalidPeriod)
}

func TestDateRange_Overlaps(t *testing.T) {
	// Closed intervals: sharing a single boundary day counts as overlap.
	base := leave.DateRange{Start: leave.NewDate(2026, time.March, 2), End: leave.NewDate(2026, time.March, 6)}

	cases := []struct {
		name    string
		other   leave.DateRange
		overlap bool
	}{
		{"identical", base, true},
		{"nested", leave.DateRange{Start: leave.NewDate(2026, time.March, 3), End: leave.NewDate(2026, time.March, 4)}, true},
		{"partial left", leave.DateRange{Start: leave.NewDate(2026, time.February, 26), End: leave.NewDate(2026, time.March, 3)}, true},
		{"shared end day", leave.DateRange{Start: leave.NewDate(2026, time.March, 6), End: leave.NewDate(2026, time.March, 10)}, true},
		{"shared start day", leave.DateRange{Start: leave.NewDate(2026, time.February, 26), End: leave.NewDate(2026, time.March, 2)}, true},
		{"adjacent after", leave.DateRange{Start: leave.NewDate(2026, time.March, 7), End: leave.NewDate(2026, time.March, 10)}, false},
		{"adjacent before", leave.DateRange{Start: leave.NewDate(2026, time.February, 23), End: leave.NewDate(2026, time.March, 1)}, false},
		{"far away", leave.DateRange{Start: leave.NewDate(2026, time.July, 1), End: leave.NewDate(2026, time.July, 5)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.overlap, base.Overlaps(tc.other))
			assert.Equal(t, tc.overlap, tc.other.Overlaps(base), "overlap must be symmetric")
		})
	}
}

func TestDateRange_Contains(t *testing.T) {
	r := leave.DateRange{Start: leave.NewDate(2026, time.March, 2), End: leave.NewDate(2026, time.March, 6)}
	assert.True(t, r.Contains(leave.NewDate(2026, time.March, 2)))
	assert.True(t, r.Contains(leave.NewDate(2026, time.March, 6)))
	assert.False(t, r.Contains(leave.NewDate(2026, time.March, 1)))
	assert.False(t, r.Contains(leave.NewDate(2026, time.March, 7)))
}

func TestDateRange_CalendarDays(t *testing.T) {
	single := leave.DateRange{Start: leave.NewDate(2026, time.March, 2), End: leave.NewDate(2026, time.March, 2)}
	assert.Equal(t, 1, single.CalendarDays())

	week := leave.DateRange{Start: leave.NewDate(2026, time.March, 2), End: leave.NewDate(2026, time.March, 6)}
	assert.Equal(t, 5, week.CalendarDays())

	crossYear := leave.DateRange{Start: leave.NewDate(2026, time.December, 28), End: leave.NewDate(2027, time.January, 5)}
	assert.Equal(t, 9, crossYear.CalendarDays())
}

func TestDateRange_SplitByYear(t *testing.T) {
	t.Run("single year returns itself", func(t *testing.T) {
		r := leave.DateRange{Start: leave.NewDate(2026, time.March, 2), End: leave.NewDate(2026, time.March, 6)}
		parts := r.SplitByYear()
		require.Len(t, parts, 1)
		assert.Equal(t, r, parts[0])
	})

	t.Run("two years split at the boundary", func(t *testing.T) {
		r := leave.DateRange{Start: leave.NewDate(2026, time.December, 28), End: leave.NewDate(2027, time.January, 5)}
		parts := r.SplitByYear()
		require.Len(t, parts, 2)
		assert.Equal(t, leave.NewDate(2026, time.December, 28), parts[0].Start)
		assert.Equal(t, leave.NewDate(2026, time.December, 31), parts[0].End)
		assert.Equal(t, leave.NewDate(2027, time.January, 1), parts[1].Start)
		assert.Equal(t, leave.NewDate(2027, time.January, 5), parts[1].End)
	})

	t.Run("middle year is kept whole", func(t *testing.T) {
		r := leave.DateRange{Start: leave.NewDate(2026, time.December, 1), End: leave.NewDate(2028, time.January, 15)}
		parts := r.SplitByYear()
		require.Len(t, parts, 3)
		assert.Equal(t, leave.StartOfYear(2027), parts[1].Start)
		assert.Equal(t, leave.EndOfYear(2027), parts[1].End)
	})
}

func TestDateRange_Years(t *testing.T) {
	r := leave.DateRange{Start: leave.NewDate(2026, time.December, 28), End: leave.NewDate(2027, time.January, 5)}
	assert.Equal(t, []int{2026, 2027}, r.Years())

	single := leave.DateRange{Start: leave.NewDate(2026, time.March, 2), End: leave.NewDate(2026, time.March, 6)}
	assert.Equal(t, []int{2026}, single.Years())
}
