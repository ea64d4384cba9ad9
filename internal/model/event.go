package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// EventType is a display-only category tag.
type EventType string

const (
	TypeCourtDate     EventType = "court-date"
	TypeClientMeeting EventType = "client-meeting"
	TypeDeadline      EventType = "deadline"
	TypeDeposition    EventType = "deposition"
	TypeMediation     EventType = "mediation"
	TypeConsultation  EventType = "consultation"
	TypePersonal      EventType = "personal"
	TypeTask          EventType = "task"
	TypeOther         EventType = "other"
)

var eventTypes = []EventType{
	TypeCourtDate, TypeClientMeeting, TypeDeadline, TypeDeposition,
	TypeMediation, TypeConsultation, TypePersonal, TypeTask, TypeOther,
}

// EventTypes lists all known event types in display order.
func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

// LookupEventType normalizes s ("court_date", "Court-Date") and reports
// whether it names a known type.
func LookupEventType(s string) (EventType, bool) {
	norm := EventType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	for _, t := range eventTypes {
		if t == norm {
			return t, true
		}
	}
	return TypeOther, false
}

// ParseEventType is LookupEventType with unknown values mapped to "other".
func ParseEventType(s string) EventType {
	t, _ := LookupEventType(s)
	return t
}

// Priority drives deadline ordering and emphasis.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// LookupPriority normalizes s and reports whether it names a known priority.
func LookupPriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, true
	}
	return PriorityMedium, false
}

// ParsePriority is LookupPriority with unknown values mapped to "medium".
func ParsePriority(s string) Priority {
	p, _ := LookupPriority(s)
	return p
}

// Rank orders priorities: urgent=3 .. low=0.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// CalendarEvent is a validated event as held by the event store. Fields are
// never mutated after parsing.
type CalendarEvent struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ResourceID string    `json:"resource_id"`
	Type       EventType `json:"event_type"`
	Date       Date      `json:"date"`
	AllDay     bool      `json:"all_day"`
	Start      Clock     `json:"start_time"`
	End        Clock     `json:"end_time"`
	Location   string    `json:"location,omitempty"`
	ClientRef  string    `json:"client_ref,omitempty"`
	CaseRef    string    `json:"case_ref,omitempty"`
	Priority   Priority  `json:"priority"`
	Reminder   bool      `json:"reminder"`
	// ReadOnly marks events imported from subscriptions.
	ReadOnly bool `json:"read_only,omitempty"`
}

// IsPoint reports a zero-duration marker (start == end).
func (e CalendarEvent) IsPoint() bool {
	return !e.AllDay && e.Start == e.End
}

func (e CalendarEvent) DurationHours() float64 {
	if e.AllDay {
		return 24
	}
	return float64(e.End-e.Start) / 60
}

// Overlaps reports whether e and o are timed events on the same date whose
// half-open [start, end) intervals intersect. Resource is not considered.
func (e CalendarEvent) Overlaps(o CalendarEvent) bool {
	if e.AllDay || o.AllDay || e.Date != o.Date {
		return false
	}
	return e.Start < o.End && o.Start < e.End
}

// ErrInvalidEvent wraps every record-level parse failure.
var ErrInvalidEvent = errors.New("invalid event")

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*f = flexString(n.String())
	return nil
}

// EventPayload is the wire shape of an event returned by the events API.
type EventPayload struct {
	ID            flexString `json:"id"`
	Title         string     `json:"title"`
	ResourceID    flexString `json:"resource_id"`
	EventType     string     `json:"event_type"`
	Date          string     `json:"date"`
	StartTime     string     `json:"start_time"`
	EndTime       string     `json:"end_time"`
	DurationHours *float64   `json:"duration_hours"`
	Location      string     `json:"location"`
	ClientRef     flexString `json:"client_ref"`
	CaseRef       flexString `json:"case_ref"`
	Priority      string     `json:"priority"`
	Reminder      bool       `json:"reminder"`
}

// ParseEvent validates a wire record into a CalendarEvent.
//
//   - id, title and date are required.
//   - No times: all-day event.
//   - Start only: end is start + duration_hours (capped at 24:00), or a
//     point marker when no duration is given.
//   - End before start is rejected.
//
// Unknown event types and priorities degrade to "other" / "medium".
func ParseEvent(p EventPayload) (CalendarEvent, error) {
	ev := CalendarEvent{
		ID:         strings.TrimSpace(string(p.ID)),
		Title:      strings.TrimSpace(p.Title),
		ResourceID: strings.TrimSpace(string(p.ResourceID)),
		Type:       ParseEventType(p.EventType),
		Location:   strings.TrimSpace(p.Location),
		ClientRef:  strings.TrimSpace(string(p.ClientRef)),
		CaseRef:    strings.TrimSpace(string(p.CaseRef)),
		Priority:   ParsePriority(p.Priority),
		Reminder:   p.Reminder,
	}
	if ev.ID == "" {
		return CalendarEvent{}, fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if ev.Title == "" {
		return CalendarEvent{}, fmt.Errorf("%w %s: missing title", ErrInvalidEvent, ev.ID)
	}
	if strings.TrimSpace(p.Date) == "" {
		return CalendarEvent{}, fmt.Errorf("%w %s: missing date", ErrInvalidEvent, ev.ID)
	}
	d, err := ParseDate(p.Date)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("%w %s: %v", ErrInvalidEvent, ev.ID, err)
	}
	ev.Date = d

	start, end, allDay, err := resolveTimes(p.StartTime, p.EndTime, p.DurationHours)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("%w %s: %v", ErrInvalidEvent, ev.ID, err)
	}
	ev.Start, ev.End, ev.AllDay = start, end, allDay
	return ev, nil
}

// resolveTimes is shared by ParseEvent and Draft validation.
func resolveTimes(startS, endS string, duration *float64) (start, end Clock, allDay bool, err error) {
	startS, endS = strings.TrimSpace(startS), strings.TrimSpace(endS)
	if startS == "" {
		if endS != "" {
			return 0, 0, false, errors.New("end_time without start_time")
		}
		return Midnight, EndOfDay, true, nil
	}
	start, err = ParseClock(startS)
	if err != nil {
		return 0, 0, false, err
	}
	if start == EndOfDay {
		return 0, 0, false, errors.New("start_time cannot be 24:00")
	}
	switch {
	case endS != "":
		end, err = ParseClock(endS)
		if err != nil {
			return 0, 0, false, err
		}
	case duration != nil:
		if *duration < 0 || math.IsNaN(*duration) || math.IsInf(*duration, 0) {
			return 0, 0, false, fmt.Errorf("invalid duration_hours %v", *duration)
		}
		mins := int(math.Round(*duration * 60))
		end = start + Clock(mins)
		if end > EndOfDay {
			end = EndOfDay
		}
	default:
		end = start
	}
	if end < start {
		return 0, 0, false, fmt.Errorf("end_time %s before start_time %s", end, start)
	}
	return start, end, false, nil
}

// FieldErrors maps a form field to a human-readable message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fe[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Draft is an event submitted for creation (no id yet).
type Draft struct {
	Title         string   `json:"title"`
	ResourceID    string   `json:"resource_id"`
	EventType     string   `json:"event_type"`
	Date          string   `json:"date"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
	DurationHours *float64 `json:"duration_hours,omitempty"`
	Location      string   `json:"location,omitempty"`
	ClientRef     string   `json:"client_ref,omitempty"`
	CaseRef       string   `json:"case_ref,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Reminder      bool     `json:"reminder"`
}

// Validate checks the draft locally, before any network call. It returns nil
// or a non-empty FieldErrors.
func (d Draft) Validate() error {
	errs := FieldErrors{}
	if strings.TrimSpace(d.Title) == "" {
		errs["title"] = "title is required"
	} else if len(d.Title) > 200 {
		errs["title"] = "title must be at most 200 characters"
	}
	if strings.TrimSpace(d.Date) == "" {
		errs["date"] = "date is required"
	} else if _, err := ParseDate(d.Date); err != nil {
		errs["date"] = "date must be YYYY-MM-DD"
	}
	if s := strings.TrimSpace(d.StartTime); s != "" {
		if _, err := ParseClock(s); err != nil {
			errs["start_time"] = "start_time must be HH:MM"
		}
	} else if strings.TrimSpace(d.EndTime) != "" {
		errs["start_time"] = "start_time is required when end_time is set"
	}
	if s := strings.TrimSpace(d.EndTime); s != "" {
		if _, err := ParseClock(s); err != nil {
			errs["end_time"] = "end_time must be HH:MM"
		}
	}
	if _, ok := errs["start_time"]; !ok {
		if _, ok := errs["end_time"]; !ok {
			if _, _, _, err := resolveTimes(d.StartTime, d.EndTime, d.DurationHours); err != nil {
				errs["end_time"] = err.Error()
			}
		}
	}
	if d.EventType != "" {
		if _, ok := LookupEventType(d.EventType); !ok {
			errs["event_type"] = "unknown event type"
		}
	}
	if d.Priority != "" {
		if _, ok := LookupPriority(d.Priority); !ok {
			errs["priority"] = "priority must be low, medium, high or urgent"
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ToEvent builds the locally predicted event once the backend assigned id.
func (d Draft) ToEvent(id string) (CalendarEvent, error) {
	return ParseEvent(EventPayload{
		ID:            flexString(id),
		Title:         d.Title,
		ResourceID:    flexString(d.ResourceID),
		EventType:     d.EventType,
		Date:          d.Date,
		StartTime:     d.StartTime,
		EndTime:       d.EndTime,
		DurationHours: d.DurationHours,
		Location:      d.Location,
		ClientRef:     flexString(d.ClientRef),
		CaseRef:       flexString(d.CaseRef),
		Priority:      d.Priority,
		Reminder:      d.Reminder,
	})
}

// FormatHours renders a duration for labels, e.g. 1.5 -> "1.5h".
func FormatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64) + "h"
}
