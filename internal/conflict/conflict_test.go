package conflict

import (
	"testing"

	"casecal/internal/model"
	"casecal/internal/visibility"
)

func ev(id, resource, date, start, end string) model.CalendarEvent {
	d, err := model.ParseDate(date)
	if err != nil {
		panic(err)
	}
	s, _ := model.ParseClock(start)
	e, _ := model.ParseClock(end)
	return model.CalendarEvent{ID: id, Title: id, ResourceID: resource, Date: d, Start: s, End: e}
}

func TestIdenticalBookingsProduceOneRecord(t *testing.T) {
	events := []model.CalendarEvent{
		ev("a", "sarah", "2025-01-15", "14:00", "15:00"),
		ev("b", "sarah", "2025-01-15", "14:00", "15:00"),
	}
	rep := Detector{}.Detect(events, true)
	if len(rep.Conflicts) != 1 {
		t.Fatalf("expected exactly one conflict, got %+v", rep.Conflicts)
	}
	r := rep.Conflicts[0]
	if r.ResourceID != "sarah" || r.EventIDs != [2]string{"a", "b"} {
		t.Errorf("unexpected record %+v", r)
	}
	if r.Start != model.NewClock(14, 0) || r.End != model.NewClock(15, 0) {
		t.Errorf("unexpected overlap window %s-%s", r.Start, r.End)
	}
	if rep.MayBeIncomplete {
		t.Errorf("complete input must not be flagged")
	}
}

func TestDifferentResourcesNeverConflict(t *testing.T) {
	events := []model.CalendarEvent{
		ev("a", "sarah", "2025-01-15", "14:00", "15:00"),
		ev("b", "james", "2025-01-15", "14:00", "15:00"),
	}
	if got := (Detector{}).Detect(events, true).Conflicts; len(got) != 0 {
		t.Fatalf("expected no conflicts, got %+v", got)
	}
}

func TestPointEventAtBoundaryDoesNotConflict(t *testing.T) {
	events := []model.CalendarEvent{
		ev("meeting", "sarah", "2025-01-15", "09:00", "10:00"),
		ev("deadline", "sarah", "2025-01-15", "10:00", "10:00"),
	}
	if got := (Detector{}).Detect(events, true).Conflicts; len(got) != 0 {
		t.Fatalf("expected no conflicts, got %+v", got)
	}
}

func TestDetectionIsOrderIndependent(t *testing.T) {
	events := []model.CalendarEvent{
		ev("a", "sarah", "2025-01-16", "09:00", "11:00"),
		ev("b", "sarah", "2025-01-16", "10:00", "12:00"),
		ev("c", "sarah", "2025-01-15", "13:00", "14:30"),
		ev("d", "sarah", "2025-01-15", "14:00", "15:00"),
		ev("e", "sarah", "2025-01-16", "11:30", "11:45"),
	}
	reversed := make([]model.CalendarEvent, len(events))
	for i := range events {
		reversed[len(events)-1-i] = events[i]
	}

	a := Detector{}.Detect(events, true).Conflicts
	b := Detector{}.Detect(reversed, true).Conflicts
	if len(a) != 3 || len(a) != len(b) {
		t.Fatalf("expected 3 conflicts both ways, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("record %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
	// Sorted by date, then start.
	if a[0].EventIDs != [2]string{"c", "d"} || a[1].EventIDs != [2]string{"a", "b"} || a[2].EventIDs != [2]string{"b", "e"} {
		t.Errorf("unexpected order: %+v", a)
	}
}

func TestHidingResourceKeepsConflicts(t *testing.T) {
	events := []model.CalendarEvent{
		ev("a", "sarah", "2025-01-15", "14:00", "15:00"),
		ev("b", "sarah", "2025-01-15", "14:30", "15:30"),
	}
	f := visibility.New()
	f.SetVisible("sarah", false)

	if len(f.Apply(events)) != 0 {
		t.Fatalf("sarah's events should be hidden from rendering")
	}
	if got := (Detector{}).Detect(events, true).Conflicts; len(got) != 1 {
		t.Fatalf("hidden resource conflicts must still be reported, got %+v", got)
	}
}

func TestRegistryLimitsDetectionToKnownResources(t *testing.T) {
	events := []model.CalendarEvent{
		ev("a", "sarah", "2025-01-15", "14:00", "15:00"),
		ev("b", "sarah", "2025-01-15", "14:30", "15:30"),
		ev("c", "ghost", "2025-01-15", "14:00", "15:00"),
		ev("d", "ghost", "2025-01-15", "14:00", "15:00"),
	}
	d := Detector{Resources: model.NewResources([]model.Resource{{ID: "sarah"}})}
	rep := d.Detect(events, false)
	if len(rep.Conflicts) != 1 || rep.Conflicts[0].ResourceID != "sarah" {
		t.Fatalf("expected only sarah's conflict, got %+v", rep.Conflicts)
	}
	if !rep.MayBeIncomplete {
		t.Errorf("incomplete input must be flagged")
	}
}

func TestAllDayAndSameIDAreIgnored(t *testing.T) {
	allDay := ev("h", "sarah", "2025-01-15", "00:00", "24:00")
	allDay.AllDay = true
	events := []model.CalendarEvent{
		allDay,
		ev("a", "sarah", "2025-01-15", "14:00", "15:00"),
		ev("a", "sarah", "2025-01-15", "14:00", "15:00"),
	}
	if got := (Detector{}).Detect(events, true).Conflicts; len(got) != 0 {
		t.Fatalf("expected no conflicts, got %+v", got)
	}
}

func TestLedgerAcknowledgeAndResurface(t *testing.T) {
	events := []model.CalendarEvent{
		ev("a", "sarah", "2025-01-15", "14:00", "15:00"),
		ev("b", "sarah", "2025-01-15", "14:30", "15:30"),
	}
	l := NewLedger()
	rep := Detector{}.Detect(events, true)
	l.Acknowledge(rep.Conflicts[0])

	active, acked := l.Active(Detector{}.Detect(events, true).Conflicts)
	if len(active) != 0 || len(acked) != 1 {
		t.Fatalf("acknowledged conflict should be hidden: active=%v acked=%v", active, acked)
	}

	// Event b moved: the overlap window changed, so the conflict resurfaces.
	events[1] = ev("b", "sarah", "2025-01-15", "14:15", "15:30")
	active, _ = l.Active(Detector{}.Detect(events, true).Conflicts)
	if len(active) != 1 {
		t.Fatalf("changed conflict should resurface, got %v", active)
	}

	if !l.Reopen(Pair("b", "a")) || l.Len() != 0 {
		t.Errorf("reopen should remove the acknowledgement")
	}
}
