// Package session holds the per-viewer calendar state: the current view and
// anchor date, resource visibility and acknowledged conflicts. Every
// navigation reloads the store, detects conflicts on the full loaded set and
// only then renders the visible events.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"casecal/internal/conflict"
	"casecal/internal/grid"
	appLog "casecal/internal/log"
	"casecal/internal/model"
	"casecal/internal/store"
	"casecal/internal/visibility"
)

var (
	// ErrSaveInFlight rejects a create while another is still being saved.
	ErrSaveInFlight = errors.New("session: an event is already being saved")
	// ErrReadOnly rejects creates when no backend is configured.
	ErrReadOnly = errors.New("session: calendar is read-only")
	// ErrUnknownConflict is returned by Resolve for a pair that is not
	// currently in conflict.
	ErrUnknownConflict = errors.New("session: no such conflict")
)

// Creator persists new events and returns the assigned id.
type Creator interface {
	CreateEvent(ctx context.Context, d model.Draft) (string, error)
}

// Options configures a Session.
type Options struct {
	View model.View
	// Anchor defaults to today.
	Anchor    model.Date
	WeekStart time.Weekday
	Location  *time.Location
	Resources *model.Resources
	Layout    grid.Layout
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// State is what a viewer sees after a transition.
type State struct {
	View   model.View   `json:"view"`
	Anchor model.Date   `json:"anchor"`
	Today  model.Date   `json:"today"`
	Window model.Window `json:"window"`
	Grid   grid.Grid    `json:"grid"`

	Conflicts    []conflict.Record `json:"conflicts"`
	Acknowledged []conflict.Record `json:"acknowledged"`
	// ConflictsMayBeIncomplete is set when some source failed.
	ConflictsMayBeIncomplete bool `json:"conflicts_may_be_incomplete"`

	Stale bool `json:"stale"`
	// Loading is set while a navigation is in flight; the grid still shows
	// the last loaded window.
	Loading  bool      `json:"loading"`
	Warning  string    `json:"warning,omitempty"`
	Rejected int       `json:"rejected"`
	Hidden   []string  `json:"hidden"`
	LoadedAt time.Time `json:"loaded_at"`
}

// position is a view and anchor plus the day of month the viewer last
// picked. Month steps clamp the anchor but keep day.
type position struct {
	view   model.View
	anchor model.Date
	day    int
}

func at(v model.View, a model.Date) position {
	return position{view: v, anchor: a, day: a.Day}
}

func (p position) shift(n int) position {
	if p.view == model.ViewMonth {
		p.anchor = p.anchor.AddMonthsOnDay(n, p.day)
		return p
	}
	return at(p.view, model.Shift(p.view, p.anchor, n))
}

// Session is one viewer's calendar. It is safe for concurrent use; a
// superseded navigation returns store.ErrStale and never renders.
//
// The rendered position only changes together with the snapshot it was
// loaded for, so re-renders during a navigation keep showing the previous
// window.
type Session struct {
	store    *store.Store
	creator  Creator
	filter   *visibility.Filter
	ledger   *conflict.Ledger
	detector conflict.Detector
	renderer *grid.Renderer

	weekStart time.Weekday
	loc       *time.Location
	now       func() time.Time

	saving atomic.Bool

	mu      sync.Mutex
	gen     uint64
	applied uint64
	target  position
	pos     position
	snap    store.Snapshot
	state   State
}

// New creates a session over st. creator may be nil for a read-only calendar.
func New(st *store.Store, creator Creator, opts Options) *Session {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.View == "" {
		opts.View = model.ViewWeek
	}
	if opts.Layout == (grid.Layout{}) {
		opts.Layout = grid.DefaultLayout()
	}
	s := &Session{
		store:     st,
		creator:   creator,
		filter:    visibility.New(),
		ledger:    conflict.NewLedger(),
		detector:  conflict.Detector{Resources: opts.Resources},
		renderer:  grid.NewRenderer(opts.Layout, opts.Resources),
		weekStart: opts.WeekStart,
		loc:       opts.Location,
		now:       opts.Now,
	}
	anchor := opts.Anchor
	if anchor.IsZero() {
		anchor = s.today()
	}
	s.pos = at(opts.View, anchor)
	s.target = s.pos
	return s
}

func (s *Session) today() model.Date {
	return model.DateOf(s.now().In(s.loc))
}

// Position returns the rendered view and anchor.
func (s *Session) Position() (model.View, model.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.view, s.pos.anchor
}

// Window is the window of the rendered position.
func (s *Session) Window() model.Window {
	v, a := s.Position()
	return model.WindowFor(v, a, s.weekStart)
}

// Start loads the current position (today on a fresh session).
func (s *Session) Start(ctx context.Context) (State, error) {
	return s.Refresh(ctx)
}

// Next moves forward one day, week or month.
func (s *Session) Next(ctx context.Context) (State, error) {
	return s.move(ctx, func(p position) position { return p.shift(1) })
}

// Previous moves back one day, week or month.
func (s *Session) Previous(ctx context.Context) (State, error) {
	return s.move(ctx, func(p position) position { return p.shift(-1) })
}

// Today moves the anchor to the current date.
func (s *Session) Today(ctx context.Context) (State, error) {
	today := s.today()
	return s.move(ctx, func(p position) position { return at(p.view, today) })
}

// SetView switches granularity and keeps the anchor.
func (s *Session) SetView(ctx context.Context, v model.View) (State, error) {
	return s.move(ctx, func(p position) position {
		p.view = v
		return p
	})
}

// GoTo moves the anchor to d.
func (s *Session) GoTo(ctx context.Context, d model.Date) (State, error) {
	return s.move(ctx, func(p position) position { return at(p.view, d) })
}

// Refresh reloads the current position.
func (s *Session) Refresh(ctx context.Context) (State, error) {
	return s.move(ctx, func(p position) position { return p })
}

// move steps from the newest requested position, so quick repeated clicks
// accumulate, loads it and renders only if no later navigation started.
func (s *Session) move(ctx context.Context, step func(position) position) (State, error) {
	s.mu.Lock()
	s.target = step(s.target)
	s.gen++
	gen, target := s.gen, s.target
	s.mu.Unlock()

	w := model.WindowFor(target.view, target.anchor, s.weekStart)
	snap, err := s.store.Load(ctx, w)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		appLog.Debug("session navigation superseded", "window", w.Key())
		return s.stateLocked(), store.ErrStale
	}
	s.applied = gen
	if err != nil {
		s.target = s.pos
		return s.stateLocked(), err
	}
	s.pos = target
	s.renderLocked(snap)
	return s.stateLocked(), nil
}

// Seed renders server-supplied events for the current position as if they
// had been loaded.
func (s *Session) Seed(events []model.CalendarEvent) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.applied = s.gen
	s.pos = s.target
	w := model.WindowFor(s.pos.view, s.pos.anchor, s.weekStart)
	snap := s.store.Seed(w, events)
	s.renderLocked(snap)
	return s.stateLocked()
}

// SetVisible shows or hides a resource. It re-renders from the loaded set.
func (s *Session) SetVisible(resourceID string, visible bool) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter.SetVisible(resourceID, visible) {
		s.renderLocked(s.snap)
	}
	return s.stateLocked()
}

// ShowAll clears every hidden resource.
func (s *Session) ShowAll() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.ShowAll()
	s.renderLocked(s.snap)
	return s.stateLocked()
}

// Resolve acknowledges the current conflict between events a and b.
func (s *Session) Resolve(a, b string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := conflict.Pair(a, b)
	for _, list := range [][]conflict.Record{s.state.Conflicts, s.state.Acknowledged} {
		for _, r := range list {
			if r.Key() == key {
				s.ledger.Acknowledge(r)
				s.renderLocked(s.snap)
				return s.stateLocked(), nil
			}
		}
	}
	return s.stateLocked(), ErrUnknownConflict
}

// Reopen undoes Resolve. It reports whether an acknowledgement existed.
func (s *Session) Reopen(a, b string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.ledger.Reopen(conflict.Pair(a, b))
	if ok {
		s.renderLocked(s.snap)
	}
	return s.stateLocked(), ok
}

// Create validates d, saves it through the backend and inserts the
// predicted event locally. Validation errors are model.FieldErrors and no
// request is sent. Only one save runs at a time.
func (s *Session) Create(ctx context.Context, d model.Draft) (model.CalendarEvent, State, error) {
	if err := d.Validate(); err != nil {
		return model.CalendarEvent{}, s.State(), err
	}
	if s.creator == nil {
		return model.CalendarEvent{}, s.State(), ErrReadOnly
	}
	if !s.saving.CompareAndSwap(false, true) {
		return model.CalendarEvent{}, s.State(), ErrSaveInFlight
	}
	defer s.saving.Store(false)

	id, err := s.creator.CreateEvent(ctx, d)
	if err != nil {
		return model.CalendarEvent{}, s.State(), err
	}
	ev, err := d.ToEvent(id)
	if err != nil {
		return model.CalendarEvent{}, s.State(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.store.UpsertLocal(ev)
	if snap.Window == s.snap.Window {
		s.renderLocked(snap)
	} else {
		appLog.Debug("created event lands after the pending load", "id", id)
	}
	appLog.Info("event created", "id", id, "date", ev.Date.String(), "resource", ev.ResourceID)
	return ev, s.stateLocked(), nil
}

// Events returns the visible loaded events of the current window in
// display order.
func (s *Session) Events() []model.CalendarEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := model.WindowFor(s.pos.view, s.pos.anchor, s.weekStart)
	var out []model.CalendarEvent
	for _, ev := range s.filter.Apply(s.snap.Events) {
		if w.Contains(ev.Date) {
			out = append(out, ev)
		}
	}
	return store.Sorted(out)
}

// IsVisible reports whether resourceID is shown.
func (s *Session) IsVisible(resourceID string) bool {
	return s.filter.IsVisible(resourceID)
}

// Saving reports whether a create is in flight.
func (s *Session) Saving() bool { return s.saving.Load() }

// State returns the last rendered state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	st := s.state
	st.Loading = s.gen != s.applied
	return st
}

// renderLocked runs detect then render on snap at the rendered position and
// keeps snap for later re-renders. Caller holds s.mu.
func (s *Session) renderLocked(snap store.Snapshot) {
	s.snap = snap
	w := model.WindowFor(s.pos.view, s.pos.anchor, s.weekStart)
	today := s.today()
	// A snapshot for another window cannot vouch for this one.
	complete := snap.Complete && snap.Window == w
	stale := snap.Stale || snap.Window != w

	inWindow := make([]model.CalendarEvent, 0, len(snap.Events))
	for _, ev := range snap.Events {
		if w.Contains(ev.Date) {
			inWindow = append(inWindow, ev)
		}
	}

	report := s.detector.Detect(inWindow, complete)
	active, acked := s.ledger.Active(report.Conflicts)

	g := s.renderer.Render(grid.Input{
		View:       s.pos.view,
		Window:     w,
		Anchor:     s.pos.anchor,
		Today:      today,
		Events:     s.filter.Apply(inWindow),
		Conflicted: conflict.Involved(active),
	})

	st := State{
		View:                     s.pos.view,
		Anchor:                   s.pos.anchor,
		Today:                    today,
		Window:                   w,
		Grid:                     g,
		Conflicts:                active,
		Acknowledged:             acked,
		ConflictsMayBeIncomplete: report.MayBeIncomplete,
		Stale:                    stale,
		Rejected:                 snap.Rejected,
		Hidden:                   s.filter.Hidden(),
		LoadedAt:                 snap.LoadedAt,
	}
	if snap.Warning != nil {
		st.Warning = snap.Warning.Error()
	}
	if st.Conflicts == nil {
		st.Conflicts = []conflict.Record{}
	}
	if st.Acknowledged == nil {
		st.Acknowledged = []conflict.Record{}
	}
	s.state = st
}
