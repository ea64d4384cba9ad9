// Package visibility holds the session-local per-resource show/hide toggles.
package visibility

import (
	"sort"
	"sync"

	"casecal/internal/model"
)

// Filter hides events of toggled-off resources. Every resource is visible
// until hidden. Events without a resource are always visible.
type Filter struct {
	mu     sync.RWMutex
	hidden map[string]bool
}

func New() *Filter {
	return &Filter{hidden: make(map[string]bool)}
}

// SetVisible toggles a resource and reports whether the state changed.
func (f *Filter) SetVisible(resourceID string, visible bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := !f.hidden[resourceID]
	if visible {
		delete(f.hidden, resourceID)
	} else {
		f.hidden[resourceID] = true
	}
	return was != visible
}

func (f *Filter) IsVisible(resourceID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.hidden[resourceID]
}

// Apply returns the visible subset of events, preserving order. The input is
// not modified.
func (f *Filter) Apply(events []model.CalendarEvent) []model.CalendarEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.ResourceID != "" && f.hidden[ev.ResourceID] {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Hidden lists hidden resource ids in sorted order.
func (f *Filter) Hidden() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.hidden))
	for id := range f.hidden {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ShowAll clears every toggle.
func (f *Filter) ShowAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = make(map[string]bool)
}
