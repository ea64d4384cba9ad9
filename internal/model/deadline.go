package model

import (
	"fmt"
	"strings"
)

// Deadline is an entry of the deadline list served by the backend.
type Deadline struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Type        string   `json:"deadline_type"`
	Date        Date     `json:"date"`
	Time        Clock    `json:"time"`
	HasTime     bool     `json:"has_time"`
	Priority    Priority `json:"priority"`
	CaseRef     string   `json:"case_ref,omitempty"`
	ClientRef   string   `json:"client_ref,omitempty"`
	Description string   `json:"description,omitempty"`
}

// DeadlinePayload is the wire shape of a deadline.
type DeadlinePayload struct {
	ID           flexString `json:"id"`
	Title        string     `json:"title"`
	DeadlineType string     `json:"deadline_type"`
	DeadlineDate string     `json:"deadline_date"`
	Date         string     `json:"date"`
	DeadlineTime string     `json:"deadline_time"`
	Priority     string     `json:"priority"`
	CaseRef      flexString `json:"case_ref"`
	ClientRef    flexString `json:"client_ref"`
	Description  string     `json:"description"`
}

// ParseDeadline validates a wire deadline. Either deadline_date or date is
// accepted; the time is optional.
func ParseDeadline(p DeadlinePayload) (Deadline, error) {
	dl := Deadline{
		ID:          strings.TrimSpace(string(p.ID)),
		Title:       strings.TrimSpace(p.Title),
		Type:        strings.TrimSpace(p.DeadlineType),
		Priority:    ParsePriority(p.Priority),
		CaseRef:     strings.TrimSpace(string(p.CaseRef)),
		ClientRef:   strings.TrimSpace(string(p.ClientRef)),
		Description: strings.TrimSpace(p.Description),
	}
	if dl.ID == "" {
		return Deadline{}, fmt.Errorf("%w: deadline missing id", ErrInvalidEvent)
	}
	if dl.Title == "" {
		return Deadline{}, fmt.Errorf("%w: deadline %s missing title", ErrInvalidEvent, dl.ID)
	}
	raw := p.DeadlineDate
	if strings.TrimSpace(raw) == "" {
		raw = p.Date
	}
	d, err := ParseDate(raw)
	if err != nil {
		return Deadline{}, fmt.Errorf("%w: deadline %s: %v", ErrInvalidEvent, dl.ID, err)
	}
	dl.Date = d
	if s := strings.TrimSpace(p.DeadlineTime); s != "" {
		c, err := ParseClock(s)
		if err != nil {
			return Deadline{}, fmt.Errorf("%w: deadline %s: %v", ErrInvalidEvent, dl.ID, err)
		}
		dl.Time, dl.HasTime = c, true
	}
	return dl, nil
}
