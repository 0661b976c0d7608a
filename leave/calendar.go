/*
calendar.go - Working-day resolution

PURPOSE:
  Computes how many days of balance a date range actually costs. The
  workflow never counts days itself; it asks a WorkingDayResolver, so the
  hosting application can plug in whatever holiday source it has.

PROVIDED IMPLEMENTATION:
  WeekdayResolver counts Monday through Friday and subtracts holidays from
  an optional HolidayCalendar. It is the server default; tests often use it
  with no holidays at all.

SEE ALSO:
  - workflow.go: the only caller inside the core
*/
package leave

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// WORKING-DAY RESOLVER - External calendar collaborator
// =============================================================================

// WorkingDayResolver answers "how many working days are in [start, end]?"
// (closed interval). Implementations may call out to external services,
// hence the context.
type WorkingDayResolver interface {
	WorkingDaysBetween(ctx context.Context, start, end Date) (Days, error)
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

// Holiday is a non-working day beyond the weekend.
type Holiday struct {
	Date Date
	Name string
}

// HolidayCalendar provides holiday lookups for the WeekdayResolver.
type HolidayCalendar interface {
	IsHoliday(date Date) bool
	Holidays(year int) []Holiday
}

// StaticHolidays is an in-memory holiday list, safe for concurrent use.
type StaticHolidays struct {
	mu     sync.RWMutex
	byDate map[Date]Holiday
}

func NewStaticHolidays(holidays ...Holiday) *StaticHolidays {
	s := &StaticHolidays{byDate: make(map[Date]Holiday, len(holidays))}
	for _, h := range holidays {
		s.byDate[h.Date] = h
	}
	return s
}

// Add registers a holiday, replacing any existing entry on the same date.
func (s *StaticHolidays) Add(h Holiday) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDate[h.Date] = h
}

// Remove deletes the holiday on the given date, if any.
func (s *StaticHolidays) Remove(date Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDate, date)
}

func (s *StaticHolidays) IsHoliday(date Date) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byDate[date]
	return ok
}

func (s *StaticHolidays) Holidays(year int) []Holiday {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Holiday
	for _, h := range s.byDate {
		if h.Date.Year() == year {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// =============================================================================
// WEEKDAY RESOLVER - Default implementation
// =============================================================================

// WeekdayResolver counts Monday-Friday, minus holidays when a calendar is
// set. A nil Holidays field means weekends are the only non-working days.
type WeekdayResolver struct {
	Holidays HolidayCalendar
}

func (r *WeekdayResolver) WorkingDaysBetween(ctx context.Context, start, end Date) (Days, error) {
	if end.Before(start) {
		return ZeroDays(), ErrInvalidPeriod
	}
	count := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if d.IsWeekend() {
			continue
		}
		if r.Holidays != nil && r.Holidays.IsHoliday(d) {
			continue
		}
		count++
	}
	return DaysFromInt(count), nil
}
