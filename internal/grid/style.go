package grid

import "casecal/internal/model"

// DefaultColor is used for events whose resource is not configured.
const DefaultColor = "default"

// TypeStyle is the presentation of an event type.
type TypeStyle struct {
	Class string `json:"class"`
	Icon  string `json:"icon"`
}

var typeStyles = map[model.EventType]TypeStyle{
	model.TypeCourtDate:     {Class: "ev-court", Icon: "gavel"},
	model.TypeClientMeeting: {Class: "ev-client", Icon: "users"},
	model.TypeDeadline:      {Class: "ev-deadline", Icon: "alarm"},
	model.TypeDeposition:    {Class: "ev-deposition", Icon: "mic"},
	model.TypeMediation:     {Class: "ev-mediation", Icon: "handshake"},
	model.TypeConsultation:  {Class: "ev-consultation", Icon: "message"},
	model.TypePersonal:      {Class: "ev-personal", Icon: "user"},
	model.TypeTask:          {Class: "ev-task", Icon: "check"},
	model.TypeOther:         {Class: "ev-other", Icon: "calendar"},
}

// StyleFor returns the class and icon for t; unknown types get the "other"
// style.
func StyleFor(t model.EventType) TypeStyle {
	if s, ok := typeStyles[t]; ok {
		return s
	}
	return typeStyles[model.TypeOther]
}

// fallbackPalette colors configured resources that have no explicit color,
// by registry position.
var fallbackPalette = []string{
	"#2563eb", "#16a34a", "#dc2626", "#9333ea",
	"#ea580c", "#0891b2", "#ca8a04", "#db2777",
}

// Palette maps resource ids to color tokens.
type Palette struct {
	colors map[string]string
	names  map[string]string
}

// NewPalette builds the lookup table from the resource registry.
func NewPalette(rs *model.Resources) Palette {
	p := Palette{colors: map[string]string{}, names: map[string]string{}}
	for i, r := range rs.All() {
		c := r.ColorToken
		if c == "" {
			c = fallbackPalette[i%len(fallbackPalette)]
		}
		p.colors[r.ID] = c
		p.names[r.ID] = r.DisplayName
	}
	return p
}

// Color returns the resource's token, or DefaultColor for unknown resources.
func (p Palette) Color(resourceID string) string {
	if c, ok := p.colors[resourceID]; ok {
		return c
	}
	return DefaultColor
}

// Name returns the resource's display name, or the raw id when unknown.
func (p Palette) Name(resourceID string) string {
	if n, ok := p.names[resourceID]; ok {
		return n
	}
	return resourceID
}
