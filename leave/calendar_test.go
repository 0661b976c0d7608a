package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-ledger/leave"
)

func TestWeekdayResolver_CountsWorkableDays(t *testing.T) {
	// No holiday calendar: weekends are the only non-working days.
	resolver := &leave.WeekdayResolver{}
	ctx := context.Background()

	cases := []struct {
		name       string
		start, end leave.Date
		want       int
	}{
		{"Monday to Friday", leave.NewDate(2026, time.March, 2), leave.NewDate(2026, time.March, 6), 5},
		{"full week including weekend", leave.NewDate(2026, time.March, 2), leave.NewDate(2026, time.March, 8), 5},
		{"weekend only", leave.NewDate(2026, time.March, 7), leave.NewDate(2026, time.March, 8), 0},
		{"single Monday", leave.NewDate(2026, time.March, 2), leave.NewDate(2026, time.March, 2), 1},
		{"single Saturday", leave.NewDate(2026, time.March, 7), leave.NewDate(2026, time.March, 7), 0},
		{"two full weeks", leave.NewDate(2026, time.March, 2), leave.NewDate(2026, time.March, 15), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolver.WorkingDaysBetween(ctx, tc.start, tc.end)
			require.NoError(t, err)
			assert.True(t, got.Equal(leave.DaysFromInt(tc.want)), "want %d, got %s", tc.want, got)
		})
	}
}

func TestWeekdayResolver_SubtractsHolidays(t *testing.T) {
	calendar := leave.NewStaticHolidays(
		leave.Holiday{Date: leave.NewDate(2026, time.March, 4), Name: "Founding Day"},
		leave.Holiday{Date: leave.NewDate(2026, time.March, 7), Name: "On a Saturday"},
	)
	resolver := &leave.WeekdayResolver{Holidays: calendar}

	got, err := resolver.WorkingDaysBetween(context.Background(),
		leave.NewDate(2026, time.March, 2), leave.NewDate(2026, time.March, 8))
	require.NoError(t, err)

	// The Wednesday holiday removes one day; the Saturday one already fell
	// on a weekend and must not subtract twice.
	assert.True(t, got.Equal(leave.DaysFromInt(4)), "want 4, got %s", got)
}

func TestWeekdayResolver_BackwardsRange_Rejected(t *testing.T) {
	resolver := &leave.WeekdayResolver{}
	_, err := resolver.WorkingDaysBetween(context.Background(),
		leave.NewDate(2026, time.March, 6), leave.NewDate(2026, time.March, 2))
	assert.ErrorIs(t, err, leave.ErrInvalidPeriod)
}

func TestStaticHolidays_AddRemove(t *testing.T) {
	calendar := leave.NewStaticHolidays()
	date := leave.NewDate(2026, time.December, 25)

	assert.False(t, calendar.IsHoliday(date))

	calendar.Add(leave.Holiday{Date: date, Name: "Christmas"})
	assert.True(t, calendar.IsHoliday(date))

	calendar.Remove(date)
	assert.False(t, calendar.IsHoliday(date))
}

func TestStaticHolidays_SameDateReplaces(t *testing.T) {
	date := leave.NewDate(2026, time.January, 1)
	calendar := leave.NewStaticHolidays(leave.Holiday{Date: date, Name: "New Year"})

	calendar.Add(leave.Holiday{Date: date, Name: "New Year's Day"})

	list := calendar.Holidays(2026)
	require.Len(t, list, 1)
	assert.Equal(t, "New Year's Day", list[0].Name)
}

func TestStaticHolidays_YearListing(t *testing.T) {
	calendar := leave.NewStaticHolidays(
		leave.Holiday{Date: leave.NewDate(2026, time.December, 25), Name: "Christmas"},
		leave.Holiday{Date: leave.NewDate(2026, time.January, 1), Name: "New Year"},
		leave.Holiday{Date: leave.NewDate(2027, time.January, 1), Name: "Next New Year"},
	)

	list := calendar.Holidays(2026)
	require.Len(t, list, 2, "other years must be filtered out")
	assert.Equal(t, "New Year", list[0].Name, "listing must be date-ordered")
	assert.Equal(t, "Christmas", list[1].Name)
}
