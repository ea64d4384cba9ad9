// Package store is the event store: the working set of calendar events for the
// current window, loaded from the events API plus any read-only sources.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	appLog "casecal/internal/log"
	"casecal/internal/model"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks casecal/internal/store Source

// Source supplies events for a window.
type Source interface {
	Name() string
	Events(ctx context.Context, w model.Window) (model.Batch, error)
}

// ErrStale is returned by Load when a newer Load started before this one
// finished. The result was discarded and the snapshot is unchanged.
var ErrStale = errors.New("store: response for a superseded window discarded")

// Snapshot is an immutable view of the store.
type Snapshot struct {
	Window model.Window
	Events []model.CalendarEvent
	// Complete is false when any source failed or served a cached copy.
	Complete bool
	// Stale is set when the primary source failed and Events are the last
	// good set, possibly for a different window.
	Stale    bool
	Warning  error
	Rejected int
	LoadedAt time.Time
}

type loadResult struct {
	events   []model.CalendarEvent
	rejected int
	warnings []error
}

// Store holds the current working set. Only a successful Load, Seed or
// UpsertLocal mutates it.
type Store struct {
	primary Source
	extras  []Source
	now     func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	seq         uint64
	snap        Snapshot
	inflightKey string
	inflightCtx context.Context
	cancelFetch context.CancelFunc
	loading     int
}

// New creates a Store reading from primary (the events API) and any number
// of read-only extra sources.
func New(primary Source, extras ...Source) *Store {
	return &Store{primary: primary, extras: extras, now: time.Now}
}

// Load fetches events for w and replaces the working set wholesale.
//
// Concurrent loads for the same window share one fetch. Starting a load for a
// different window cancels the fetch in flight; the superseded call returns
// ErrStale and does not touch the snapshot.
//
// A primary-source failure is not returned as an error: the previous events
// are kept, the snapshot is marked Stale and the failure is in Warning.
func (s *Store) Load(ctx context.Context, w model.Window) (Snapshot, error) {
	key := w.Key()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	if s.inflightKey != key {
		if s.cancelFetch != nil {
			s.cancelFetch()
			s.group.Forget(s.inflightKey)
		}
		// The fetch outlives any single caller so that joined callers are not
		// failed by the first caller going away.
		s.inflightCtx, s.cancelFetch = context.WithCancel(context.WithoutCancel(ctx))
		s.inflightKey = key
	}
	fctx := s.inflightCtx
	s.loading++
	s.mu.Unlock()

	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetch(fctx, w)
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		s.mu.Lock()
		s.loading--
		s.mu.Unlock()
		return s.Snapshot(), ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading--
	if seq != s.seq {
		appLog.Debug("store discarded superseded load", "window", key, "shared", r.Shared)
		return s.snap, ErrStale
	}
	if s.inflightKey == key && s.cancelFetch != nil {
		s.cancelFetch()
		s.inflightKey, s.inflightCtx, s.cancelFetch = "", nil, nil
	}

	if r.Err != nil {
		appLog.Error("store load failed, keeping last good events", r.Err, "window", key)
		prev := s.snap
		s.snap = Snapshot{
			Window:   w,
			Events:   prev.Events,
			Complete: false,
			Stale:    true,
			Warning:  r.Err,
			LoadedAt: prev.LoadedAt,
		}
		return s.snap, nil
	}

	res := r.Val.(loadResult)
	s.snap = Snapshot{
		Window:   w,
		Events:   res.events,
		Complete: len(res.warnings) == 0,
		Warning:  errors.Join(res.warnings...),
		Rejected: res.rejected,
		LoadedAt: s.now(),
	}
	appLog.Info("store loaded", "window", key, "events", len(res.events), "rejected", res.rejected, "complete", s.snap.Complete)
	return s.snap, nil
}

// fetch loads the primary source, then the extras concurrently. Extras are
// best-effort: their failures become warnings.
func (s *Store) fetch(ctx context.Context, w model.Window) (loadResult, error) {
	var res loadResult
	if s.primary == nil {
		return res, errors.New("store: no primary source")
	}

	batch, err := s.primary.Events(ctx, w)
	if err != nil {
		return res, fmt.Errorf("%s: %w", s.primary.Name(), err)
	}
	res.add(w, batch)

	if len(s.extras) == 0 {
		return res, nil
	}

	batches := make([]model.Batch, len(s.extras))
	errs := make([]error, len(s.extras))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range s.extras {
		i, src := i, src
		g.Go(func() error {
			b, err := src.Events(gctx, w)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Name(), err)
				return nil
			}
			batches[i] = b
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}
	for i := range s.extras {
		if errs[i] != nil {
			appLog.Error("store extra source failed", errs[i], "source", s.extras[i].Name(), "window", w.Key())
			res.warnings = append(res.warnings, errs[i])
			continue
		}
		res.add(w, batches[i])
	}
	return res, nil
}

func (r *loadResult) add(w model.Window, b model.Batch) {
	for _, ev := range b.Events {
		if w.Contains(ev.Date) {
			r.events = append(r.events, ev)
		}
	}
	r.rejected += b.Rejected
	if b.Warning != nil {
		r.warnings = append(r.warnings, b.Warning)
	}
	if b.Rejected > 0 {
		r.warnings = append(r.warnings, fmt.Errorf("%d malformed event records dropped", b.Rejected))
	}
}

// Seed installs server-rendered events as if loaded for w.
func (s *Store) Seed(w model.Window, events []model.CalendarEvent) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	kept := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if w.Contains(ev.Date) {
			kept = append(kept, ev)
		}
	}
	s.snap = Snapshot{Window: w, Events: kept, Complete: true, LoadedAt: s.now()}
	return s.snap
}

// UpsertLocal inserts or replaces ev by id after a successful create. Events
// outside the current window are ignored.
func (s *Store) UpsertLocal(ev model.CalendarEvent) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snap.Window.Contains(ev.Date) {
		return s.snap
	}
	events := make([]model.CalendarEvent, 0, len(s.snap.Events)+1)
	replaced := false
	for _, e := range s.snap.Events {
		if e.ID == ev.ID {
			events = append(events, ev)
			replaced = true
			continue
		}
		events = append(events, e)
	}
	if !replaced {
		events = append(events, ev)
	}
	next := s.snap
	next.Events = events
	s.snap = next
	return s.snap
}

// Snapshot returns the current working set.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Loading reports whether any Load is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// Sorted returns events ordered by date, all-day first, then start, end, id.
func Sorted(events []model.CalendarEvent) []model.CalendarEvent {
	out := make([]model.CalendarEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.AllDay != b.AllDay {
			return a.AllDay
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.ID < b.ID
	})
	return out
}
