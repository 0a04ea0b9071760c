package core

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day without a time of day
// =============================================================================

// Date is a calendar day. The wrapped time is always midnight UTC so that
// dates compare and subtract exactly regardless of the account's zone.
type Date struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return NewDate(local.Year(), local.Month(), local.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q (use YYYY-MM-DD)", ErrInvalidInput, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Year() int                 { return d.Time.Year() }
func (d Date) Month() time.Month         { return d.Time.Month() }
func (d Date) Day() int                  { return d.Time.Day() }
func (d Date) Weekday() time.Weekday     { return d.Time.Weekday() }
func (d Date) AddDays(n int) Date        { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) Equal(o Date) bool         { return d.Time.Equal(o.Time) }
func (d Date) Before(o Date) bool        { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool         { return d.Time.After(o.Time) }
func (d Date) IsZero() bool              { return d.Time.IsZero() }
func (d Date) String() string            { return d.Time.Format(dateLayout) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }

// =============================================================================
// WEEK WINDOW - Monday to Sunday
// =============================================================================

// WindowID names a weekly window: the month its Monday falls in, and the
// ordinal of that Monday among the month's Mondays (1..5).
type WindowID struct {
	Year  int
	Month time.Month
	Index int
}

func (w WindowID) String() string {
	return fmt.Sprintf("%04d-%02d-w%d", w.Year, int(w.Month), w.Index)
}

func (w WindowID) IsZero() bool { return w.Year == 0 }

// Start returns the Monday of the window.
func (w WindowID) Start() Date {
	first := NewDate(w.Year, w.Month, 1)
	offset := (int(time.Monday) - int(first.Weekday()) + 7) % 7
	return first.AddDays(offset + 7*(w.Index-1))
}

// Window returns the concrete window for the id.
func (w WindowID) Window() WeekWindow {
	return WeekWindow{Start: w.Start()}
}

// WeekWindow is seven consecutive days starting on a Monday.
type WeekWindow struct {
	Start Date
}

// WindowOf returns the Monday-start window containing d.
func WindowOf(d Date) WeekWindow {
	// time.Sunday == 0, so shift Sunday to the end of the week.
	back := (int(d.Weekday()) + 6) % 7
	return WeekWindow{Start: d.AddDays(-back)}
}

func (w WeekWindow) End() Date { return w.Start.AddDays(6) }

func (w WeekWindow) ID() WindowID {
	return WindowID{
		Year:  w.Start.Year(),
		Month: w.Start.Month(),
		Index: (w.Start.Day()-1)/7 + 1,
	}
}

// Dates returns the seven days of the window in order.
func (w WeekWindow) Dates() []Date {
	out := make([]Date, 7)
	for i := range out {
		out[i] = w.Start.AddDays(i)
	}
	return out
}

func (w WeekWindow) Contains(d Date) bool {
	return !d.Before(w.Start) && !d.After(w.End())
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock supplies the current instant. Tests substitute a fixed clock.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// Calendar resolves "today" for an account.
type Calendar struct {
	Clock           Clock
	DefaultLocation *time.Location
}

// Location returns the account's zone, falling back to the default.
func (c Calendar) Location(acct Account) *time.Location {
	if acct.TimeZone != "" {
		if loc, err := time.LoadLocation(acct.TimeZone); err == nil {
			return loc
		}
	}
	if c.DefaultLocation != nil {
		return c.DefaultLocation
	}
	return time.UTC
}

func (c Calendar) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// Now returns the current instant.
func (c Calendar) Now() time.Time { return c.now() }

// Today returns the account's current calendar day.
func (c Calendar) Today(acct Account) Date {
	return DateOf(c.now(), c.Location(acct))
}
