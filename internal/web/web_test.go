package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"casecal/internal/backend"
	"casecal/internal/config"
	"casecal/internal/deadline"
	"casecal/internal/ics"
	"casecal/internal/model"
	"casecal/internal/session"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeSource struct {
	events   []model.CalendarEvent
	rejected int
	err      error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Events(_ context.Context, w model.Window) (model.Batch, error) {
	if f.err != nil {
		return model.Batch{}, f.err
	}
	b := model.Batch{Rejected: f.rejected}
	for _, ev := range f.events {
		if w.Contains(ev.Date) {
			b.Events = append(b.Events, ev)
		}
	}
	return b, nil
}

type fakeCreator struct {
	mu     sync.Mutex
	drafts []model.Draft
}

func (f *fakeCreator) CreateEvent(_ context.Context, d model.Draft) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, d)
	return "new-1", nil
}

type fakeLister struct{}

func (fakeLister) Deadlines(context.Context, backend.DeadlineQuery) (backend.DeadlineList, error) {
	return backend.DeadlineList{Deadlines: []model.Deadline{
		{ID: "d1", Title: "Answer due", Date: model.Date{Year: 2025, Month: time.January, Day: 20}, Priority: model.PriorityHigh},
		{ID: "d2", Title: "Reply brief", Date: model.Date{Year: 2025, Month: time.January, Day: 10}, Priority: model.PriorityLow},
	}}, nil
}

func clash(id string, hour int) model.CalendarEvent {
	return model.CalendarEvent{
		ID: id, Title: "Meeting " + id, ResourceID: "sarah", Type: model.TypeClientMeeting,
		Date:  model.Date{Year: 2025, Month: time.January, Day: 15},
		Start: model.NewClock(hour, 0), End: model.NewClock(hour+1, 0), Priority: model.PriorityMedium,
	}
}

func newTestServer(t *testing.T, mutate func(*Deps)) (*Server, *fakeCreator) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Resources = []config.ResourceConfig{{ID: "sarah", Name: "Sarah", Color: "#2563eb"}}
	creator := &fakeCreator{}
	deps := Deps{
		Config:    cfg,
		Location:  time.UTC,
		Resources: model.NewResources([]model.Resource{{ID: "sarah", DisplayName: "Sarah", ColorToken: "#2563eb"}}),
		Primary:   &fakeSource{events: []model.CalendarEvent{clash("a", 14), clash("b", 14)}},
		Creator:   creator,
		Now:       func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewServer(deps), creator
}

type client struct {
	t      *testing.T
	h      http.Handler
	cookie *http.Cookie
	auth   [2]string
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if c.auth[0] != "" {
		req.SetBasicAuth(c.auth[0], c.auth[1])
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookie {
			c.cookie = ck
		}
	}
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) session.State {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st session.State
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestHealthBypassesBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) {
		d.Config.BasicAuth = &config.BasicAuthConfig{Username: "clerk", Password: "s3cret"}
	})
	c := &client{t: t, h: s.Handler()}

	if rec := c.do(http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health should be open, got %d", rec.Code)
	}
	if rec := c.do(http.MethodGet, "/api/view", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	c.auth = [2]string{"clerk", "s3cret"}
	rec := c.do(http.MethodGet, "/api/view", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with credentials, got %d", rec.Code)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestNavigationOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, nil)
	c := &client{t: t, h: s.Handler()}

	st := decodeState(t, c.do(http.MethodGet, "/api/view", nil))
	if c.cookie == nil {
		t.Fatal("session cookie not set")
	}
	if st.Window.Key() != "2025-01-13..2025-01-19" {
		t.Fatalf("unexpected initial window %s", st.Window)
	}
	if len(st.Conflicts) != 1 {
		t.Errorf("expected one conflict, got %d", len(st.Conflicts))
	}

	st = decodeState(t, c.do(http.MethodPost, "/api/nav/next", nil))
	if st.Window.Key() != "2025-01-20..2025-01-26" {
		t.Errorf("next: %s", st.Window)
	}
	st = decodeState(t, c.do(http.MethodPost, "/api/nav/previous", nil))
	if st.Window.Key() != "2025-01-13..2025-01-19" {
		t.Errorf("previous: %s", st.Window)
	}

	st = decodeState(t, c.do(http.MethodPost, "/api/nav/view", map[string]string{"view": "month"}))
	if st.View != model.ViewMonth || len(st.Grid.Weeks) == 0 {
		t.Errorf("month view not rendered: %+v", st.Grid)
	}
	if rec := c.do(http.MethodPost, "/api/nav/view", map[string]string{"view": "year"}); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown view, got %d", rec.Code)
	}
	st = decodeState(t, c.do(http.MethodPost, "/api/nav/date", map[string]string{"date": "2025-03-04"}))
	if st.Anchor.String() != "2025-03-04" {
		t.Errorf("go to date: %s", st.Anchor)
	}
}

func TestVisibilityAndResolve(t *testing.T) {
	s, _ := newTestServer(t, nil)
	c := &client{t: t, h: s.Handler()}

	st := decodeState(t, c.do(http.MethodPost, "/api/resources/sarah/visibility", map[string]bool{"visible": false}))
	if len(st.Hidden) != 1 || len(st.Conflicts) != 1 {
		t.Errorf("hidden=%v conflicts=%d", st.Hidden, len(st.Conflicts))
	}
	if rec := c.do(http.MethodPost, "/api/resources/sarah/visibility", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing visible should be 400, got %d", rec.Code)
	}

	st = decodeState(t, c.do(http.MethodPost, "/api/conflicts/resolve", map[string][]string{"event_ids": {"b", "a"}}))
	if len(st.Conflicts) != 0 || len(st.Acknowledged) != 1 {
		t.Errorf("resolve: %+v", st.Conflicts)
	}
	if rec := c.do(http.MethodPost, "/api/conflicts/resolve", map[string][]string{"event_ids": {"x", "y"}}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown conflict should be 404, got %d", rec.Code)
	}
	st = decodeState(t, c.do(http.MethodPost, "/api/conflicts/reopen", map[string][]string{"event_ids": {"a", "b"}}))
	if len(st.Conflicts) != 1 {
		t.Errorf("reopen should resurface the conflict")
	}
}

func TestCreateEvent(t *testing.T) {
	s, creator := newTestServer(t, nil)
	c := &client{t: t, h: s.Handler()}

	rec := c.do(http.MethodPost, "/api/events", map[string]string{"date": "2025-01-16", "start_time": "25:00"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var verr struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &verr); err != nil {
		t.Fatal(err)
	}
	if verr.Fields["title"] == "" || verr.Fields["start_time"] == "" {
		t.Errorf("expected field errors, got %v", verr.Fields)
	}
	if len(creator.drafts) != 0 {
		t.Error("invalid draft reached the backend")
	}

	rec = c.do(http.MethodPost, "/api/events", map[string]string{
		"title": "Mediation prep", "resource_id": "sarah", "event_type": "mediation",
		"date": "2025-01-16", "start_time": "11:00", "end_time": "12:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"new-1"`) {
		t.Errorf("response lacks new id: %s", rec.Body.String())
	}
	if len(creator.drafts) != 1 {
		t.Errorf("expected one backend call, got %d", len(creator.drafts))
	}
}

func TestPrintPageIsStateless(t *testing.T) {
	s, _ := newTestServer(t, nil)
	c := &client{t: t, h: s.Handler()}

	rec := c.do(http.MethodGet, "/print?view=month&date=2025-02-03", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("print: %d %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, want := range []string{`data-ready="true"`, "February 2025", `class="print"`} {
		if !strings.Contains(body, want) {
			t.Errorf("print page missing %q", want)
		}
	}
	if c.cookie != nil {
		t.Error("print must not create a session")
	}
	if rec := c.do(http.MethodGet, "/print?view=year", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad view should be 400, got %d", rec.Code)
	}
}

func TestCalendarPage(t *testing.T) {
	s, _ := newTestServer(t, nil)
	c := &client{t: t, h: s.Handler()}
	rec := c.do(http.MethodGet, "/calendar", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("calendar: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Jan 13 - 19, 2025") || !strings.Contains(body, "Meeting a") {
		t.Errorf("unexpected page body")
	}
	if !strings.Contains(body, "scheduling conflict") {
		t.Error("conflict notice missing")
	}
}

func TestWarningNoticeIsDismissibleAndWorded(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) {
		d.Primary = &fakeSource{events: []model.CalendarEvent{clash("a", 9)}, rejected: 2}
	})
	c := &client{t: t, h: s.Handler()}
	body := c.do(http.MethodGet, "/calendar", nil).Body.String()
	if !strings.Contains(body, "data-dismiss") {
		t.Error("warning notice should be dismissible")
	}
	if !strings.Contains(body, "2 malformed event records dropped") {
		t.Error("warning text missing")
	}
	if strings.Contains(body, "showing last loaded data") {
		t.Error("fresh data with dropped records is not stale")
	}

	s, _ = newTestServer(t, func(d *Deps) {
		d.Primary = &fakeSource{err: errors.New("backend down")}
	})
	c = &client{t: t, h: s.Handler()}
	body = c.do(http.MethodGet, "/calendar", nil).Body.String()
	if !strings.Contains(body, "showing last loaded data") || !strings.Contains(body, "Retry") {
		t.Errorf("stale notice should offer a retry:\n%s", body)
	}
}

func TestExportICS(t *testing.T) {
	s, _ := newTestServer(t, nil)
	c := &client{t: t, h: s.Handler()}
	rec := c.do(http.MethodGet, "/api/export.ics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "SUMMARY:Meeting a") {
		t.Errorf("export missing event: %s", rec.Body.String())
	}
}

func TestDeadlines(t *testing.T) {
	s, _ := newTestServer(t, nil)
	c := &client{t: t, h: s.Handler()}
	if rec := c.do(http.MethodGet, "/api/deadlines", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a deadline service, got %d", rec.Code)
	}

	s, _ = newTestServer(t, func(d *Deps) { d.Deadlines = deadline.NewService(fakeLister{}) })
	c = &client{t: t, h: s.Handler()}
	rec := c.do(http.MethodGet, "/api/deadlines?days=14", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deadlines: %d %s", rec.Code, rec.Body.String())
	}
	var res deadline.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 || res.Items[0].ID != "d2" || !res.Items[0].Overdue {
		t.Errorf("overdue deadline should sort first: %+v", res.Items)
	}
	if rec := c.do(http.MethodGet, "/api/deadlines?days=soon", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad days, got %d", rec.Code)
	}
}

func TestRegistryExpiresIdleSessions(t *testing.T) {
	now := testNow
	s, _ := newTestServer(t, nil)
	r := newRegistry(time.Hour, func() time.Time { return now }, s.newSession)

	id, _, created := r.get("")
	if !created {
		t.Fatal("expected a new session")
	}
	if again, _, created := r.get(id); created || again != id {
		t.Error("known id should return the same session")
	}
	now = now.Add(2 * time.Hour)
	if n := r.sweep(); n != 1 || r.len() != 0 {
		t.Errorf("sweep removed %d, %d left", n, r.len())
	}
	if _, _, created := r.get(id); !created {
		t.Error("expired id should get a fresh session")
	}
}

func TestSchedulerJobs(t *testing.T) {
	cfg := config.DefaultConfig()
	sched, err := NewScheduler(Deps{Config: cfg}, newRegistry(time.Hour, time.Now, nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := sched.Jobs(); len(got) != 1 || got[0] != "session-sweep" {
		t.Errorf("unexpected jobs %v", got)
	}

	cfg.RefreshCron = "every now and then"
	feeds := ics.NewFeeds([]ics.Feed{{ID: "docket", URL: "http://127.0.0.1:1/docket.ics"}}, nil, time.UTC)
	if _, err := NewScheduler(Deps{Config: cfg, Feeds: feeds}, nil); err == nil {
		t.Error("expected an error for a bad cron spec")
	}
}
