package ics

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "casecal/internal/log"
	"casecal/internal/model"
)

// maxInstances caps how many instances one series may add to a window.
const maxInstances = 5000

// instance is one concrete start/end of a VEVENT after recurrence rules and
// overrides were applied. key identifies the instance within its series.
type instance struct {
	ev         ParsedEvent
	start, end time.Time
	key        string
}

// series is every VEVENT sharing a UID: the masters plus the overrides that
// replace single instances, keyed by RECURRENCE-ID.
type series struct {
	masters   []ParsedEvent
	overrides map[int64]ParsedEvent
}

// Expand turns the parsed VEVENTs of feed into the read-only calendar events
// falling into w, whose days are taken in loc. Recurring series honor EXDATE
// and RECURRENCE-ID. An instance spanning midnight becomes one event per day
// it touches.
func Expand(feed Feed, parsed []ParsedEvent, w model.Window, loc *time.Location) ([]model.CalendarEvent, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("ics: window ends before it starts")
	}
	if loc == nil {
		loc = time.Local
	}
	from, to := w.Start.Time(loc), w.End.AddDays(1).Time(loc)

	var found []instance
	for uid, s := range group(parsed) {
		got, truncated := s.expand(from, to)
		if truncated {
			appLog.Warn("ics series truncated", "feed", feed.ID, "uid", uid, "cap", maxInstances)
		}
		found = append(found, got...)
	}
	sort.SliceStable(found, func(i, j int) bool {
		if !found[i].start.Equal(found[j].start) {
			return found[i].start.Before(found[j].start)
		}
		return found[i].ev.UID < found[j].ev.UID
	})

	var out []model.CalendarEvent
	for _, in := range found {
		for _, ev := range in.events(feed, loc) {
			if w.Contains(ev.Date) {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func group(parsed []ParsedEvent) map[string]*series {
	out := make(map[string]*series)
	for _, ev := range parsed {
		s := out[ev.UID]
		if s == nil {
			s = &series{overrides: make(map[int64]ParsedEvent)}
			out[ev.UID] = s
		}
		if ev.IsOverride && ev.Recurrence != nil {
			s.overrides[ev.Recurrence.Unix()] = ev
			continue
		}
		s.masters = append(s.masters, ev)
	}
	return out
}

// expand lists the instances of s overlapping [from, to). Overrides whose
// original slot lies outside the range still count when they were moved
// into it.
func (s *series) expand(from, to time.Time) ([]instance, bool) {
	if len(s.masters) == 0 {
		return nil, false
	}
	used := make(map[int64]bool)
	var out []instance
	truncated := false
	for _, m := range s.masters {
		starts := []time.Time{m.Start}
		if m.RawRRule != "" {
			var cut bool
			starts, cut = recurrences(m, from, to)
			truncated = truncated || cut
		}
		for _, start := range starts {
			in := s.resolve(m, start, used)
			if overlaps(in.start, in.end, from, to) {
				out = append(out, in)
			}
		}
	}
	for rid, ov := range s.overrides {
		if used[rid] || !overlaps(ov.Start, ov.End, from, to) {
			continue
		}
		out = append(out, instance{ev: ov, start: ov.Start, end: ov.End, key: instanceKey(ov, *ov.Recurrence)})
	}
	return out, truncated
}

// resolve builds the instance of master m starting at start, replaced by its
// override when there is one.
func (s *series) resolve(m ParsedEvent, start time.Time, used map[int64]bool) instance {
	key := instanceKey(m, start)
	if ov, ok := s.overrides[start.Unix()]; ok {
		used[start.Unix()] = true
		return instance{ev: ov, start: ov.Start, end: ov.End, key: key}
	}
	return instance{ev: m, start: start, end: endFor(m, start), key: key}
}

// recurrences lists the starts of m whose instance can reach [from, to).
func recurrences(m ParsedEvent, from, to time.Time) ([]time.Time, bool) {
	r, err := rrule.StrToRRule(m.RawRRule)
	if err != nil {
		appLog.Error("ics RRULE rejected", err, "uid", m.UID, "rrule", m.RawRRule)
		return nil, false
	}
	zone := m.Start.Location()
	r.DTStart(m.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range m.ExDates {
		set.ExDate(ex.In(zone))
	}

	// An instance that started before from may still be running.
	lead := m.End.Sub(m.Start)
	starts := set.Between(from.Add(-lead).In(zone), to.In(zone), true)
	if len(starts) > maxInstances {
		return starts[:maxInstances], true
	}
	return starts, false
}

// endFor keeps the master's length. All-day series keep their day count so
// DST shifts cannot move the end off midnight.
func endFor(m ParsedEvent, start time.Time) time.Time {
	if !m.AllDay {
		return start.Add(m.End.Sub(m.Start))
	}
	days := model.DateOf(m.Start).DaysUntil(model.DateOf(m.End))
	if days < 1 {
		days = 1
	}
	return time.Date(start.Year(), start.Month(), start.Day()+days, 0, 0, 0, 0, start.Location())
}

func instanceKey(ev ParsedEvent, start time.Time) string {
	if ev.AllDay {
		return start.Format("20060102")
	}
	return start.UTC().Format("20060102T150405Z")
}

// overlaps is half-open; a zero-length instance counts when it sits inside
// the range.
func overlaps(start, end, from, to time.Time) bool {
	if !start.Before(to) {
		return false
	}
	if end.After(from) {
		return true
	}
	return !end.After(start) && !start.Before(from)
}

// events converts the instance into read-only calendar events, one per day.
// All-day dates are kept as written; timed instances are placed in loc, the
// first day ending at 24:00 and the last starting at 00:00.
func (in instance) events(feed Feed, loc *time.Location) []model.CalendarEvent {
	title := strings.TrimSpace(in.ev.Summary)
	if title == "" {
		title = "(untitled)"
	}
	typ := feed.EventType
	if typ == "" {
		typ = model.TypeOther
	}
	base := model.CalendarEvent{
		Title:      title,
		ResourceID: feed.ResourceID,
		Type:       typ,
		Location:   strings.TrimSpace(in.ev.Location),
		Priority:   model.PriorityMedium,
		ReadOnly:   true,
	}
	id := "ics:" + feed.ID + ":" + in.ev.UID + ":" + in.key

	start, end := in.start.In(loc), in.end.In(loc)
	var first, last model.Date
	if in.ev.AllDay {
		first, last = model.DateOf(in.start), model.DateOf(in.end).AddDays(-1)
	} else {
		first, last = model.DateOf(start), model.DateOf(end)
		if model.ClockOf(end) == model.Midnight && last.After(first) {
			last = last.AddDays(-1)
		}
	}
	if last.Before(first) {
		last = first
	}

	var out []model.CalendarEvent
	for d := first; !d.After(last); d = d.AddDays(1) {
		ev := base
		ev.ID = id
		if first != last {
			ev.ID = id + ":" + d.String()
		}
		ev.Date = d
		if in.ev.AllDay {
			ev.AllDay, ev.Start, ev.End = true, model.Midnight, model.EndOfDay
		} else {
			ev.Start, ev.End = model.Midnight, model.EndOfDay
			if d == first {
				ev.Start = model.ClockOf(start)
			}
			if d == model.DateOf(end) {
				ev.End = model.ClockOf(end)
			}
		}
		out = append(out, ev)
	}
	return out
}
