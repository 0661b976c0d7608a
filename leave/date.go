package leave

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Civil calendar day (leave is day-granular)
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day, normalized to midnight UTC. Requests and holidays
// are keyed by Date; wall-clock instants (DecidedAt, CreatedAt) stay time.Time.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DateOf(t), nil
}

// Comparison
func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }
func (d Date) IsZero() bool           { return d.Time.IsZero() }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int             { return d.Time.Year() }
func (d Date) Month() time.Month     { return d.Time.Month() }
func (d Date) Day() int              { return d.Time.Day() }
func (d Date) Weekday() time.Weekday { return d.Time.Weekday() }
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) String() string { return d.Time.Format(DateLayout) }

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }

// =============================================================================
// DATE RANGE - Closed interval [Start, End]
// =============================================================================

type DateRange struct {
	Start Date
	End   Date
}

func NewDateRange(start, end Date) (DateRange, error) {
	if end.Before(start) {
		return DateRange{}, ErrInvalidPeriod
	}
	return DateRange{Start: start, End: end}, nil
}

// Overlaps reports whether two closed intervals intersect:
// [a,b] and [c,d] overlap iff a <= d and c <= b.
func (r DateRange) Overlaps(other DateRange) bool {
	return !r.Start.After(other.End) && !other.Start.After(r.End)
}

func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start) && !d.After(r.End)
}

// CalendarDays is the inclusive day count of the interval.
func (r DateRange) CalendarDays() int {
	return int(r.End.Time.Sub(r.Start.Time).Hours()/24) + 1
}

// Years lists the calendar years the range touches, in order.
func (r DateRange) Years() []int {
	var years []int
	for y := r.Start.Year(); y <= r.End.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// SplitByYear slices the range at calendar year boundaries. A range within
// one year returns itself; a New Year's Eve to New Year's Day range returns
// two segments. Each segment keeps the closed-interval semantics.
func (r DateRange) SplitByYear() []DateRange {
	var parts []DateRange
	for _, year := range r.Years() {
		segment := DateRange{Start: StartOfYear(year), End: EndOfYear(year)}
		if segment.Start.Before(r.Start) {
			segment.Start = r.Start
		}
		if segment.End.After(r.End) {
			segment.End = r.End
		}
		parts = append(parts, segment)
	}
	return parts
}

func (r DateRange) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
