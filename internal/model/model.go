package model

// Batch is the result of loading events for one window from a single source.
type Batch struct {
	Events []CalendarEvent
	// Rejected counts malformed records dropped at the boundary.
	Rejected int
	// FromCache is set when the payload is a last-good copy rather than a
	// fresh response.
	FromCache bool
	// Warning carries a non-fatal problem (stale copy, partial feed).
	Warning error
}

// Resource is a bookable owner of events (attorney, room).
type Resource struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	ColorToken  string `json:"color"`
}

// Resources is the configured resource registry. A nil *Resources knows no
// resources.
type Resources struct {
	list []Resource
	byID map[string]Resource
}

func NewResources(rs []Resource) *Resources {
	r := &Resources{byID: make(map[string]Resource, len(rs))}
	for _, res := range rs {
		if res.ID == "" {
			continue
		}
		if _, dup := r.byID[res.ID]; dup {
			continue
		}
		if res.DisplayName == "" {
			res.DisplayName = res.ID
		}
		r.byID[res.ID] = res
		r.list = append(r.list, res)
	}
	return r
}

func (r *Resources) Lookup(id string) (Resource, bool) {
	if r == nil {
		return Resource{}, false
	}
	res, ok := r.byID[id]
	return res, ok
}

func (r *Resources) Known(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// All returns the resources in configuration order.
func (r *Resources) All() []Resource {
	if r == nil {
		return nil
	}
	out := make([]Resource, len(r.list))
	copy(out, r.list)
	return out
}

func (r *Resources) Len() int {
	if r == nil {
		return 0
	}
	return len(r.list)
}
