// Package conflict finds double bookings: two timed events of the same
// resource on the same date whose [start, end) intervals intersect.
package conflict

import (
	"sort"

	"casecal/internal/model"
)

// Record is one overlapping pair. EventIDs is sorted so that a pair has a
// single identity regardless of input order. Start/End is the overlap window.
type Record struct {
	ResourceID string      `json:"resource_id"`
	Date       model.Date  `json:"date"`
	EventIDs   [2]string   `json:"event_ids"`
	Titles     [2]string   `json:"titles"`
	Start      model.Clock `json:"start"`
	End        model.Clock `json:"end"`
}

// PairKey identifies a conflict by its event ids.
type PairKey [2]string

// Pair builds a PairKey in canonical order.
func Pair(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{a, b}
}

func (r Record) Key() PairKey { return PairKey(r.EventIDs) }

// Report is the result of a detection pass.
type Report struct {
	Conflicts []Record `json:"conflicts"`
	// MayBeIncomplete is set when the input event set was partial, so an
	// empty or short list is not authoritative.
	MayBeIncomplete bool `json:"may_be_incomplete"`
}

// Detector checks events for overlaps. With a non-nil Resources registry
// only configured resources are checked; unknown and empty resource ids are
// skipped. With a nil registry every non-empty resource id is checked.
type Detector struct {
	Resources *model.Resources
}

type groupKey struct {
	resource string
	date     model.Date
}

// Detect returns all conflicts in events, sorted by date, start, end,
// resource and event ids. complete reports whether events is the full set.
func (d Detector) Detect(events []model.CalendarEvent, complete bool) Report {
	groups := make(map[groupKey][]model.CalendarEvent)
	for _, ev := range events {
		if ev.AllDay || ev.ResourceID == "" {
			continue
		}
		if d.Resources != nil && !d.Resources.Known(ev.ResourceID) {
			continue
		}
		k := groupKey{ev.ResourceID, ev.Date}
		groups[k] = append(groups[k], ev)
	}

	var out []Record
	for k, evs := range groups {
		if len(evs) < 2 {
			continue
		}
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].Start < evs[j].Start })
		// Sweep: once evs[j] starts at or after evs[i] ends, nothing later can
		// overlap evs[i].
		for i := 0; i < len(evs); i++ {
			for j := i + 1; j < len(evs) && evs[j].Start < evs[i].End; j++ {
				a, b := evs[i], evs[j]
				if a.ID == b.ID || !a.Overlaps(b) {
					continue
				}
				out = append(out, newRecord(k.resource, a, b))
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return Report{Conflicts: out, MayBeIncomplete: !complete}
}

func newRecord(resource string, a, b model.CalendarEvent) Record {
	if b.ID < a.ID {
		a, b = b, a
	}
	start, end := a.Start, a.End
	if b.Start > start {
		start = b.Start
	}
	if b.End < end {
		end = b.End
	}
	return Record{
		ResourceID: resource,
		Date:       a.Date,
		EventIDs:   [2]string{a.ID, b.ID},
		Titles:     [2]string{a.Title, b.Title},
		Start:      start,
		End:        end,
	}
}

func less(a, b Record) bool {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c < 0
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End < b.End
	}
	if a.ResourceID != b.ResourceID {
		return a.ResourceID < b.ResourceID
	}
	if a.EventIDs[0] != b.EventIDs[0] {
		return a.EventIDs[0] < b.EventIDs[0]
	}
	return a.EventIDs[1] < b.EventIDs[1]
}

// Involved returns the ids of every event that appears in a conflict.
func Involved(records []Record) map[string]bool {
	out := make(map[string]bool, len(records)*2)
	for _, r := range records {
		out[r.EventIDs[0]] = true
		out[r.EventIDs[1]] = true
	}
	return out
}
