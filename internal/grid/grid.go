// Package grid maps a window of events onto week, day and month grids. It is
// pure: the same input always yields the same Grid.
package grid

import (
	"fmt"
	"time"
	"unicode/utf8"

	"casecal/internal/model"
)

// Layout holds the display parameters of the grid.
type Layout struct {
	// DayStartHour and DayEndHour bound the hourly rows; DayEndHour is
	// exclusive.
	DayStartHour   int
	DayEndHour     int
	MonthCellLimit int
	TitleMaxLen    int
}

func DefaultLayout() Layout {
	return Layout{DayStartHour: 8, DayEndHour: 18, MonthCellLimit: 3, TitleMaxLen: 28}
}

func (l Layout) normalized() Layout {
	d := DefaultLayout()
	if l.DayStartHour < 0 || l.DayStartHour > 23 {
		l.DayStartHour = d.DayStartHour
	}
	if l.DayEndHour <= l.DayStartHour || l.DayEndHour > 24 {
		l.DayEndHour = 24
	}
	if l.MonthCellLimit <= 0 {
		l.MonthCellLimit = d.MonthCellLimit
	}
	if l.TitleMaxLen <= 1 {
		l.TitleMaxLen = d.TitleMaxLen
	}
	return l
}

// Clamp values for items whose start lies outside the hour range.
const (
	ClampNone   = ""
	ClampBefore = "before"
	ClampAfter  = "after"
)

// Item is one placed event.
type Item struct {
	EventID      string          `json:"event_id"`
	Title        string          `json:"title"`
	Label        string          `json:"label"`
	TimeLabel    string          `json:"time_label"`
	ResourceID   string          `json:"resource_id"`
	ResourceName string          `json:"resource_name"`
	Color        string          `json:"color"`
	Type         model.EventType `json:"event_type"`
	TypeClass    string          `json:"type_class"`
	Icon         string          `json:"icon"`
	Priority     model.Priority  `json:"priority"`
	AllDay       bool            `json:"all_day"`
	Start        model.Clock     `json:"start"`
	End          model.Clock     `json:"end"`
	// Offset is the start position inside the anchor row, in hours (0..1).
	Offset float64 `json:"offset"`
	// Span is the visible height in hours; it may extend past the anchor row.
	Span float64 `json:"span"`
	// Slot / Slots split the anchor cell horizontally among tied items.
	Slot  int `json:"slot"`
	Slots int `json:"slots"`
	// Clamp marks an item moved to a boundary row because it starts outside
	// the hour range.
	Clamp string `json:"clamp,omitempty"`
	// Continues marks an item whose end was cut at the bottom of the range.
	Continues bool   `json:"continues,omitempty"`
	Point     bool   `json:"point,omitempty"`
	Conflict  bool   `json:"conflict,omitempty"`
	ReadOnly  bool   `json:"read_only,omitempty"`
	Location  string `json:"location,omitempty"`
	CaseRef   string `json:"case_ref,omitempty"`
}

// Width returns the horizontal fraction of the anchor cell for the item.
func (it Item) Width() float64 {
	if it.Slots <= 1 {
		return 1
	}
	return 1 / float64(it.Slots)
}

// Cell is one (day, hour) slot in week/day views or one day in month view.
type Cell struct {
	Date model.Date `json:"date"`
	// Hour is -1 for all-day and month cells.
	Hour int `json:"hour"`
	// InRange is false for month cells outside the anchor month.
	InRange bool   `json:"in_range"`
	Today   bool   `json:"today"`
	Items   []Item `json:"items"`
	// More counts items beyond the month cell limit.
	More int `json:"more,omitempty"`
}

type Column struct {
	Date  model.Date `json:"date"`
	Label string     `json:"label"`
	Today bool       `json:"today"`
}

type Row struct {
	Hour  int    `json:"hour"`
	Label string `json:"label"`
	Cells []Cell `json:"cells"`
}

// Grid is the rendered view.
type Grid struct {
	View    model.View   `json:"view"`
	Window  model.Window `json:"window"`
	Heading string       `json:"heading"`
	// Week and day views.
	Columns []Column `json:"columns,omitempty"`
	AllDay  []Cell   `json:"all_day,omitempty"`
	Rows    []Row    `json:"rows,omitempty"`
	// Month view.
	Weekdays []string `json:"weekdays,omitempty"`
	Weeks    [][]Cell `json:"weeks,omitempty"`
	// Clamped counts items moved to a boundary row.
	Clamped int `json:"clamped"`
}

// Input is everything a render pass needs.
type Input struct {
	View   model.View
	Window model.Window
	Anchor model.Date
	Today  model.Date
	// Events are the visible events in insertion order.
	Events []model.CalendarEvent
	// Conflicted holds ids of events involved in an active conflict.
	Conflicted map[string]bool
}

// Renderer places events using a Layout and resource palette.
type Renderer struct {
	layout  Layout
	palette Palette
}

func NewRenderer(l Layout, rs *model.Resources) *Renderer {
	return &Renderer{layout: l.normalized(), palette: NewPalette(rs)}
}

func (r *Renderer) Layout() Layout { return r.layout }

// Render builds the grid for in.
func (r *Renderer) Render(in Input) Grid {
	g := Grid{
		View:    in.View,
		Window:  in.Window,
		Heading: Heading(in.View, in.Window, in.Anchor),
	}
	if in.View == model.ViewMonth {
		r.renderMonth(&g, in)
	} else {
		r.renderTimed(&g, in)
	}
	return g
}

func (r *Renderer) renderTimed(g *Grid, in Input) {
	days := in.Window.Days()
	col := make(map[model.Date]int, len(days))
	for i, d := range days {
		col[d] = i
		g.Columns = append(g.Columns, Column{Date: d, Label: columnLabel(d), Today: d == in.Today})
		g.AllDay = append(g.AllDay, Cell{Date: d, Hour: -1, InRange: true, Today: d == in.Today})
	}
	for h := r.layout.DayStartHour; h < r.layout.DayEndHour; h++ {
		row := Row{Hour: h, Label: model.NewClock(h, 0).Label(), Cells: make([]Cell, len(days))}
		for i, d := range days {
			row.Cells[i] = Cell{Date: d, Hour: h, InRange: true, Today: d == in.Today}
		}
		g.Rows = append(g.Rows, row)
	}

	for _, ev := range in.Events {
		c, ok := col[ev.Date]
		if !ok {
			continue
		}
		it := r.item(ev, in.Conflicted)
		if ev.AllDay {
			g.AllDay[c].Items = append(g.AllDay[c].Items, it)
			continue
		}
		rowIdx := r.place(&it, ev)
		if it.Clamp != ClampNone {
			g.Clamped++
		}
		cell := &g.Rows[rowIdx].Cells[c]
		cell.Items = append(cell.Items, it)
	}

	for i := range g.AllDay {
		assignSlots(g.AllDay[i].Items)
	}
	for ri := range g.Rows {
		for ci := range g.Rows[ri].Cells {
			assignSlots(g.Rows[ri].Cells[ci].Items)
		}
	}
}

// place sets the vertical geometry of a timed item and returns its anchor
// row index. Only the part inside the hour range is drawn.
func (r *Renderer) place(it *Item, ev model.CalendarEvent) int {
	lo := model.NewClock(r.layout.DayStartHour, 0)
	hi := model.NewClock(r.layout.DayEndHour, 0)
	lastRow := r.layout.DayEndHour - r.layout.DayStartHour - 1

	switch {
	case ev.Start >= hi:
		it.Clamp = ClampAfter
		return lastRow
	case ev.Start < lo && (ev.End <= lo):
		it.Clamp = ClampBefore
		return 0
	}

	start, end := ev.Start, ev.End
	if start < lo {
		start = lo
		it.Clamp = ClampBefore
	}
	if end > hi {
		end = hi
		it.Continues = true
	}
	row := start.Hour() - r.layout.DayStartHour
	it.Offset = float64(start.Minute()) / 60
	if !it.Point {
		it.Span = float64(end-start) / 60
	}
	return row
}

func (r *Renderer) renderMonth(g *Grid, in Input) {
	days := in.Window.Days()
	idx := make(map[model.Date]int, len(days))
	cells := make([]Cell, len(days))
	for i, d := range days {
		idx[d] = i
		cells[i] = Cell{
			Date:    d,
			Hour:    -1,
			InRange: d.Year == in.Anchor.Year && d.Month == in.Anchor.Month,
			Today:   d == in.Today,
		}
	}
	for _, ev := range in.Events {
		i, ok := idx[ev.Date]
		if !ok {
			continue
		}
		c := &cells[i]
		if len(c.Items) >= r.layout.MonthCellLimit {
			c.More++
			continue
		}
		c.Items = append(c.Items, r.item(ev, in.Conflicted))
	}
	for i := range cells {
		assignSlots(cells[i].Items)
	}
	for start := 0; start+7 <= len(cells); start += 7 {
		g.Weeks = append(g.Weeks, cells[start:start+7])
	}
	for i := 0; i < 7 && i < len(days); i++ {
		g.Weekdays = append(g.Weekdays, days[i].Weekday().String()[:3])
	}
}

func (r *Renderer) item(ev model.CalendarEvent, conflicted map[string]bool) Item {
	style := StyleFor(ev.Type)
	it := Item{
		EventID:      ev.ID,
		Title:        ev.Title,
		Label:        Truncate(ev.Title, r.layout.TitleMaxLen),
		ResourceID:   ev.ResourceID,
		ResourceName: r.palette.Name(ev.ResourceID),
		Color:        r.palette.Color(ev.ResourceID),
		Type:         ev.Type,
		TypeClass:    style.Class,
		Icon:         style.Icon,
		Priority:     ev.Priority,
		AllDay:       ev.AllDay,
		Start:        ev.Start,
		End:          ev.End,
		Point:        ev.IsPoint(),
		Conflict:     conflicted[ev.ID],
		ReadOnly:     ev.ReadOnly,
		Location:     ev.Location,
		CaseRef:      ev.CaseRef,
	}
	switch {
	case ev.AllDay:
		it.TimeLabel = "All day"
	case it.Point:
		it.TimeLabel = ev.Start.Label()
	default:
		it.TimeLabel = ev.Start.Label() + " - " + ev.End.Label()
	}
	return it
}

// assignSlots numbers tied items in insertion order.
func assignSlots(items []Item) {
	for i := range items {
		items[i].Slot = i
		items[i].Slots = len(items)
	}
}

// Truncate shortens s to at most limit runes, ending with an ellipsis when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}

func columnLabel(d model.Date) string {
	return fmt.Sprintf("%s %d", d.Weekday().String()[:3], d.Day)
}

// Heading is the human title of a window, e.g. "Jan 13 - 19, 2025".
func Heading(v model.View, w model.Window, anchor model.Date) string {
	switch v {
	case model.ViewMonth:
		return fmt.Sprintf("%s %d", anchor.Month, anchor.Year)
	case model.ViewDay:
		return fmt.Sprintf("%s, %s %d, %d", anchor.Weekday(), anchor.Month, anchor.Day, anchor.Year)
	}
	s, e := w.Start, w.End
	switch {
	case s.Year != e.Year:
		return fmt.Sprintf("%s %d, %d - %s %d, %d", short(s.Month), s.Day, s.Year, short(e.Month), e.Day, e.Year)
	case s.Month != e.Month:
		return fmt.Sprintf("%s %d - %s %d, %d", short(s.Month), s.Day, short(e.Month), e.Day, e.Year)
	default:
		return fmt.Sprintf("%s %d - %d, %d", short(s.Month), s.Day, e.Day, e.Year)
	}
}

func short(m time.Month) string { return m.String()[:3] }
