package capture

import (
	"context"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"casecal/internal/model"
)

func TestOptionsNormalize(t *testing.T) {
	o := Options{URL: "http://127.0.0.1:8080/calendar", OutputPath: "out.png"}
	if err := o.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if o.Width != DefaultWidth || o.Height != DefaultHeight || o.Timeout != DefaultTimeout {
		t.Errorf("defaults not applied: %+v", o)
	}

	if err := (&Options{OutputPath: "out.png"}).normalize(); err == nil {
		t.Error("expected error without URL")
	}
	if err := (&Options{URL: "http://x"}).normalize(); err == nil {
		t.Error("expected error without output path")
	}
}

func TestSnapshotValidatesBeforeLaunch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := Snapshot(ctx, Options{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPageURL(t *testing.T) {
	raw, err := PageURL("http://127.0.0.1:8080/", model.ViewMonth, model.Date{Year: 2025, Month: time.February, Day: 3})
	if err != nil {
		t.Fatalf("PageURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/print" {
		t.Errorf("unexpected path %q", u.Path)
	}
	if u.Query().Get("view") != "month" || u.Query().Get("date") != "2025-02-03" {
		t.Errorf("unexpected query %q", u.RawQuery)
	}

	raw, _ = PageURL("http://127.0.0.1:8080", model.ViewWeek, model.Date{})
	if u, _ := url.Parse(raw); u.Query().Has("date") {
		t.Errorf("zero date should be omitted: %s", raw)
	}
}

func TestHeadersCarryBasicAuth(t *testing.T) {
	if h := (Options{}).headers(); h != nil {
		t.Errorf("expected no headers without credentials, got %v", h)
	}
	h := Options{Username: "clerk", Password: "s3cret"}.headers()
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("clerk:s3cret"))
	if h["Authorization"] != want {
		t.Errorf("Authorization = %v, want %q", h["Authorization"], want)
	}
}
