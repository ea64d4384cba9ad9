package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"casecal/internal/model"
	"casecal/internal/store"
	"casecal/internal/store/mocks"
)

func week(t *testing.T, start string) model.Window {
	t.Helper()
	d, err := model.ParseDate(start)
	if err != nil {
		t.Fatal(err)
	}
	return model.Window{Start: d, End: d.AddDays(6)}
}

func event(t *testing.T, id, date string) model.CalendarEvent {
	t.Helper()
	d, err := model.ParseDate(date)
	if err != nil {
		t.Fatal(err)
	}
	return model.CalendarEvent{ID: id, Title: id, ResourceID: "sarah", Date: d, Start: model.NewClock(9, 0), End: model.NewClock(10, 0)}
}

// gatedSource blocks each Events call until the test releases its window.
type gatedSource struct {
	mu       sync.Mutex
	calls    atomic.Int32
	started  chan string
	releases map[string]chan model.Batch
}

func newGatedSource(keys ...string) *gatedSource {
	g := &gatedSource{started: make(chan string, 8), releases: map[string]chan model.Batch{}}
	for _, k := range keys {
		g.releases[k] = make(chan model.Batch, 1)
	}
	return g
}

func (g *gatedSource) Name() string { return "gated" }

func (g *gatedSource) Events(_ context.Context, w model.Window) (model.Batch, error) {
	g.calls.Add(1)
	g.mu.Lock()
	ch := g.releases[w.Key()]
	g.mu.Unlock()
	g.started <- w.Key()
	// Ignores cancellation: models a response that arrives after the user
	// navigated away.
	return <-ch, nil
}

func TestLoadDiscardsSupersededResponse(t *testing.T) {
	w1 := week(t, "2025-01-13")
	w2 := week(t, "2025-01-20")
	src := newGatedSource(w1.Key(), w2.Key())
	s := store.New(src)

	type outcome struct {
		snap store.Snapshot
		err  error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	go func() {
		snap, err := s.Load(context.Background(), w1)
		first <- outcome{snap, err}
	}()
	<-src.started

	go func() {
		snap, err := s.Load(context.Background(), w2)
		second <- outcome{snap, err}
	}()
	<-src.started

	src.releases[w2.Key()] <- model.Batch{Events: []model.CalendarEvent{event(t, "w2", "2025-01-21")}}
	got2 := <-second
	if got2.err != nil || got2.snap.Window != w2 {
		t.Fatalf("second load: %+v %v", got2.snap, got2.err)
	}

	src.releases[w1.Key()] <- model.Batch{Events: []model.CalendarEvent{event(t, "w1", "2025-01-14")}}
	got1 := <-first
	if !errors.Is(got1.err, store.ErrStale) {
		t.Fatalf("expected ErrStale for superseded load, got %v", got1.err)
	}

	snap := s.Snapshot()
	if snap.Window != w2 || len(snap.Events) != 1 || snap.Events[0].ID != "w2" {
		t.Fatalf("late response overwrote the store: %+v", snap)
	}
}

func TestLoadSharesInflightFetchForSameWindow(t *testing.T) {
	w := week(t, "2025-01-13")
	src := newGatedSource(w.Key())
	s := store.New(src)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Load(context.Background(), w)
		errs <- err
	}()
	<-src.started
	if !s.Loading() {
		t.Errorf("expected Loading while fetch is in flight")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Load(context.Background(), w)
		errs <- err
	}()
	// Give the second caller time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)

	src.releases[w.Key()] <- model.Batch{Events: []model.CalendarEvent{event(t, "a", "2025-01-15")}}
	wg.Wait()
	close(errs)

	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected one upstream fetch, got %d", n)
	}
	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, store.ErrStale) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly the latest caller to apply the result, got %d", ok)
	}
	if snap := s.Snapshot(); len(snap.Events) != 1 {
		t.Errorf("expected 1 event, got %+v", snap)
	}
}

func TestLoadFailureKeepsLastGoodEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w1 := week(t, "2025-01-13")
	w2 := week(t, "2025-01-20")
	primary := mocks.NewMockSource(ctrl)
	primary.EXPECT().Name().Return("backend").AnyTimes()
	gomock.InOrder(
		primary.EXPECT().Events(gomock.Any(), w1).Return(model.Batch{Events: []model.CalendarEvent{
			event(t, "in", "2025-01-15"),
			event(t, "outside", "2025-02-01"),
		}}, nil),
		primary.EXPECT().Events(gomock.Any(), w2).Return(model.Batch{}, errors.New("connection refused")),
	)

	s := store.New(primary)
	snap, err := s.Load(context.Background(), w1)
	if err != nil {
		t.Fatalf("Load w1: %v", err)
	}
	if len(snap.Events) != 1 || !snap.Complete {
		t.Fatalf("expected 1 in-window event, complete: %+v", snap)
	}

	snap, err = s.Load(context.Background(), w2)
	if err != nil {
		t.Fatalf("failure must not be returned as an error: %v", err)
	}
	if !snap.Stale || snap.Complete || snap.Warning == nil {
		t.Errorf("expected stale incomplete snapshot with warning: %+v", snap)
	}
	if snap.Window != w2 || len(snap.Events) != 1 || snap.Events[0].ID != "in" {
		t.Errorf("expected last good events kept: %+v", snap)
	}
}

func TestExtraSourceFailureMarksIncomplete(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	w := week(t, "2025-01-13")
	primary := mocks.NewMockSource(ctrl)
	primary.EXPECT().Name().Return("backend").AnyTimes()
	primary.EXPECT().Events(gomock.Any(), w).Return(model.Batch{Events: []model.CalendarEvent{event(t, "a", "2025-01-15")}}, nil)

	feed := mocks.NewMockSource(ctrl)
	feed.EXPECT().Name().Return("ics").AnyTimes()
	feed.EXPECT().Events(gomock.Any(), w).Return(model.Batch{}, errors.New("feed down"))

	snap, err := store.New(primary, feed).Load(context.Background(), w)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Complete || snap.Stale || snap.Warning == nil {
		t.Errorf("expected incomplete, non-stale snapshot with warning: %+v", snap)
	}
	if len(snap.Events) != 1 {
		t.Errorf("primary events must survive extra failure: %+v", snap.Events)
	}
}

func TestSeedAndUpsertLocal(t *testing.T) {
	w := week(t, "2025-01-13")
	s := store.New(nil)
	s.Seed(w, []model.CalendarEvent{event(t, "a", "2025-01-14"), event(t, "far", "2025-03-01")})

	if snap := s.Snapshot(); len(snap.Events) != 1 || !snap.Complete {
		t.Fatalf("seed should keep in-window events only: %+v", snap)
	}

	s.UpsertLocal(event(t, "b", "2025-01-16"))
	replacement := event(t, "a", "2025-01-14")
	replacement.Title = "renamed"
	s.UpsertLocal(replacement)
	s.UpsertLocal(event(t, "elsewhere", "2025-02-10"))

	snap := s.Snapshot()
	if len(snap.Events) != 2 {
		t.Fatalf("expected 2 events, got %+v", snap.Events)
	}
	if snap.Events[0].Title != "renamed" || snap.Events[1].ID != "b" {
		t.Errorf("unexpected upsert result %+v", snap.Events)
	}
}
