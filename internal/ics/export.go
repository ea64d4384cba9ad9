package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"casecal/internal/model"
)

// Export serializes events as an iCalendar document. Times are wall-clock in
// loc.
func Export(events []model.CalendarEvent, loc *time.Location, now time.Time) string {
	if loc == nil {
		loc = time.Local
	}
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//casecal//calendar export//EN")

	for _, ev := range events {
		uid := ev.ID
		if !strings.Contains(uid, "@") {
			uid += "@casecal"
		}
		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(now)
		ve.SetSummary(ev.Title)
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if desc := describe(ev); desc != "" {
			ve.SetDescription(desc)
		}
		ve.AddCategory(string(ev.Type))

		day := ev.Date.Time(loc)
		if ev.AllDay {
			ve.SetAllDayStartAt(day)
			ve.SetAllDayEndAt(ev.Date.AddDays(1).Time(loc))
			continue
		}
		ve.SetStartAt(day.Add(time.Duration(ev.Start) * time.Minute))
		ve.SetEndAt(day.Add(time.Duration(ev.End) * time.Minute))
	}
	return cal.Serialize()
}

func describe(ev model.CalendarEvent) string {
	var parts []string
	if ev.CaseRef != "" {
		parts = append(parts, "Case: "+ev.CaseRef)
	}
	if ev.ClientRef != "" {
		parts = append(parts, "Client: "+ev.ClientRef)
	}
	if ev.ResourceID != "" {
		parts = append(parts, "Resource: "+ev.ResourceID)
	}
	parts = append(parts, "Priority: "+string(ev.Priority))
	return strings.Join(parts, "\n")
}
