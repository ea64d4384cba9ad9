package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"casecal/internal/cache"
	"casecal/internal/model"
	"casecal/internal/store"
)

func testWindow(t *testing.T) model.Window {
	t.Helper()
	start, _ := model.ParseDate("2025-01-13")
	return model.Window{Start: start, End: start.AddDays(6)}
}

func TestListEventsRejectsMalformedRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendar/events" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("range_start"); got != "2025-01-13" {
			t.Errorf("range_start = %q", got)
		}
		if got := r.URL.Query().Get("range_end"); got != "2025-01-19" {
			t.Errorf("range_end = %q", got)
		}
		if got := r.URL.Query().Get("resource_id"); got != "sarah" {
			t.Errorf("resource_id = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`{"events":[
			{"id": 17, "title": "Hearing", "resource_id": "sarah", "event_type": "court_date", "date": "2025-01-15", "start_time": "14:00", "end_time": "15:00"},
			{"id": "18", "title": "", "date": "2025-01-15"},
			{"id": "19", "title": "Backwards", "date": "2025-01-15", "start_time": "15:00", "end_time": "14:00"},
			"garbage"
		]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", Token: "secret", Timeout: time.Second}, nil)
	batch, err := c.ListEvents(context.Background(), testWindow(t), "sarah")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(batch.Events) != 1 || batch.Rejected != 3 {
		t.Fatalf("expected 1 event and 3 rejected, got %d / %d", len(batch.Events), batch.Rejected)
	}
	ev := batch.Events[0]
	if ev.ID != "17" || ev.Type != model.TypeCourtDate || ev.Start != model.NewClock(14, 0) {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestListEventsEmptyAndNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/calendar/events" {
			w.Write([]byte(`{"events":[]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	batch, err := c.Events(context.Background(), testWindow(t))
	if err != nil || len(batch.Events) != 0 {
		t.Fatalf("expected empty batch, got %+v %v", batch, err)
	}

	c.baseURL = srv.URL + "/missing"
	if _, err := c.Events(context.Background(), testWindow(t)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNotFoundKeepsLastGoodEventsInStore(t *testing.T) {
	var missing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if missing.Load() {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"events":[{"id": "1", "title": "Hearing", "resource_id": "sarah", "date": "2025-01-15", "start_time": "14:00", "end_time": "15:00"}]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	bodies, err := cache.Open(ctx, filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer bodies.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second}, bodies)
	st := store.New(c)
	w := testWindow(t)

	snap, err := st.Load(ctx, w)
	if err != nil || len(snap.Events) != 1 || snap.Stale {
		t.Fatalf("first load: %+v %v", snap, err)
	}

	missing.Store(true)
	if _, err := c.Events(ctx, w); !errors.Is(err, ErrNotFound) {
		t.Fatalf("404 must not be served from cache, got %v", err)
	}

	snap, err = st.Load(ctx, w)
	if err != nil {
		t.Fatalf("load failure should not surface as an error: %v", err)
	}
	if !snap.Stale || snap.Complete || !errors.Is(snap.Warning, ErrNotFound) {
		t.Errorf("expected stale snapshot warning about ErrNotFound, got %+v", snap)
	}
	if len(snap.Events) != 1 {
		t.Errorf("last good events should be kept, got %d", len(snap.Events))
	}
}

func TestCreateEvent(t *testing.T) {
	var got model.Draft
	mode := "ok"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		switch mode {
		case "ok":
			w.Write([]byte(`{"event_id": 1042, "success": true}`))
		case "rejected":
			w.Write([]byte(`{"success": false, "error": "resource is on leave"}`))
		case "500":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	draft := model.Draft{Title: "Prep", ResourceID: "sarah", Date: "2025-01-15", StartTime: "09:00", EndTime: "10:00"}

	id, err := c.CreateEvent(context.Background(), draft)
	if err != nil || id != "1042" {
		t.Fatalf("CreateEvent = %q, %v", id, err)
	}
	if got.Title != "Prep" || got.StartTime != "09:00" {
		t.Errorf("backend received %+v", got)
	}

	mode = "rejected"
	if _, err := c.CreateEvent(context.Background(), draft); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	mode = "500"
	if _, err := c.CreateEvent(context.Background(), draft); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestDeadlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("days") != "30" || q.Get("type") != "filing" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(`{"deadlines":[
			{"id": 1, "title": "File answer", "deadline_type": "filing", "deadline_date": "2025-01-20", "priority": "urgent", "case_ref": "CV-2025-001"},
			{"id": 2, "title": "No date"}
		], "summary": {"total": 2}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	list, err := c.Deadlines(context.Background(), DeadlineQuery{Days: 30, Type: "filing"})
	if err != nil {
		t.Fatalf("Deadlines: %v", err)
	}
	if len(list.Deadlines) != 1 || list.Rejected != 1 {
		t.Fatalf("expected 1 deadline and 1 rejected, got %+v", list)
	}
	if list.Deadlines[0].Priority != model.PriorityUrgent || list.Summary["total"] != float64(2) {
		t.Errorf("unexpected list %+v", list)
	}
}
