package model

import (
	"fmt"
	"strings"
	"time"
)

// View is the navigation granularity.
type View string

const (
	ViewDay   View = "day"
	ViewWeek  View = "week"
	ViewMonth View = "month"
)

func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case ViewDay, ViewWeek, ViewMonth:
		return v, nil
	}
	return "", fmt.Errorf("unknown view %q", s)
}

// ParseWeekStart maps "sunday" to time.Sunday; everything else is Monday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// Window is an inclusive range of dates.
type Window struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

func (w Window) Contains(d Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}

// Days lists every date in the window in order.
func (w Window) Days() []Date {
	if w.End.Before(w.Start) {
		return nil
	}
	out := make([]Date, 0, w.Start.DaysUntil(w.End)+1)
	for d := w.Start; !d.After(w.End); d = d.AddDays(1) {
		out = append(out, d)
	}
	return out
}

// Key identifies the window for request deduplication.
func (w Window) Key() string {
	return w.Start.String() + ".." + w.End.String()
}

func (w Window) String() string { return w.Key() }

// StartOfWeek returns the first day of the week containing d.
func StartOfWeek(d Date, weekStart time.Weekday) Date {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDays(-offset)
}

// WindowFor computes the visible window for a view anchored on a date.
// Month windows cover the full 4-6 week grid around the month.
func WindowFor(v View, anchor Date, weekStart time.Weekday) Window {
	switch v {
	case ViewDay:
		return Window{Start: anchor, End: anchor}
	case ViewMonth:
		first := Date{Year: anchor.Year, Month: anchor.Month, Day: 1}
		last := Date{Year: anchor.Year, Month: anchor.Month, Day: daysIn(anchor.Year, anchor.Month)}
		return Window{
			Start: StartOfWeek(first, weekStart),
			End:   StartOfWeek(last, weekStart).AddDays(6),
		}
	default:
		start := StartOfWeek(anchor, weekStart)
		return Window{Start: start, End: start.AddDays(6)}
	}
}

// Shift moves the anchor by n units of the view: days, weeks or months.
func Shift(v View, anchor Date, n int) Date {
	switch v {
	case ViewDay:
		return anchor.AddDays(n)
	case ViewMonth:
		return anchor.AddMonths(n)
	default:
		return anchor.AddDays(7 * n)
	}
}
