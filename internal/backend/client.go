// Package backend is the HTTP client for the practice events API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"casecal/internal/cache"
	appLog "casecal/internal/log"
	"casecal/internal/model"
)

var (
	ErrNotFound = errors.New("backend: not found")
	// ErrRejected is returned when the backend answers success=false.
	ErrRejected = errors.New("backend: request rejected")
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the events API. Reads go through a conditional-GET cache so
// that a failing backend still yields the last good payload.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	fetch   *cache.Fetcher
}

// New creates a Client. bc may be nil to disable the last-good cache.
func New(cfg Config, bc cache.BodyCache) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    hc,
		fetch:   cache.NewFetcher(hc, bc, "backend"),
	}
}

// Name identifies the client as an event source.
func (c *Client) Name() string { return "backend" }

// Events loads all resources' events for w.
func (c *Client) Events(ctx context.Context, w model.Window) (model.Batch, error) {
	return c.ListEvents(ctx, w, "")
}

type eventsResponse struct {
	Events []json.RawMessage `json:"events"`
}

// ListEvents calls GET /calendar/events. Malformed records are dropped and
// counted in Batch.Rejected.
func (c *Client) ListEvents(ctx context.Context, w model.Window, resourceID string) (model.Batch, error) {
	q := url.Values{}
	q.Set("range_start", w.Start.String())
	q.Set("range_end", w.End.String())
	if resourceID != "" {
		q.Set("resource_id", resourceID)
	}

	res, err := c.get(ctx, "/calendar/events", q)
	if err != nil {
		return model.Batch{}, fmt.Errorf("list events %s: %w", w, err)
	}

	var payload eventsResponse
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return model.Batch{}, fmt.Errorf("decode events %s: %w", w, err)
	}

	batch := model.Batch{
		Events:    make([]model.CalendarEvent, 0, len(payload.Events)),
		FromCache: res.FromCache,
		Warning:   res.Warning,
	}
	for _, raw := range payload.Events {
		var p model.EventPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			batch.Rejected++
			appLog.Warn("backend event record undecodable", "window", w.Key(), "error", err)
			continue
		}
		ev, err := model.ParseEvent(p)
		if err != nil {
			batch.Rejected++
			appLog.Warn("backend event record rejected", "window", w.Key(), "error", err)
			continue
		}
		batch.Events = append(batch.Events, ev)
	}

	appLog.Debug("backend events loaded", "window", w.Key(), "count", len(batch.Events), "rejected", batch.Rejected, "from_cache", batch.FromCache)
	return batch, nil
}

type createResponse struct {
	EventID json.Number `json:"event_id"`
	Success bool        `json:"success"`
	Error   string      `json:"error"`
}

func (r *createResponse) UnmarshalJSON(b []byte) error {
	var raw struct {
		EventID any    `json:"event_id"`
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.EventID.(type) {
	case string:
		r.EventID = json.Number(v)
	case json.Number:
		r.EventID = v
	}
	r.Success, r.Error = raw.Success, raw.Error
	return nil
}

// CreateEvent posts a validated draft and returns the backend-assigned id.
func (c *Client) CreateEvent(ctx context.Context, d model.Draft) (string, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/calendar/events", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("create event: read response: %w", err)
	}

	var out createResponse
	decodeErr := json.Unmarshal(data, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRejected, out.Error)
		}
		return "", fmt.Errorf("create event: unexpected status %s", resp.Status)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("create event: decode response: %w", decodeErr)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	id := strings.TrimSpace(out.EventID.String())
	if id == "" {
		return "", errors.New("create event: backend returned no event_id")
	}
	appLog.Info("backend event created", "event_id", id, "date", d.Date, "resource", d.ResourceID)
	return id, nil
}

// DeadlineQuery is the server-side part of a deadline search.
type DeadlineQuery struct {
	Days     int
	Type     string
	Priority string
}

// DeadlineList is the decoded GET /deadlines response.
type DeadlineList struct {
	Deadlines []model.Deadline
	Rejected  int
	// Summary is the backend's own summary object, passed through as-is.
	Summary   map[string]any
	FromCache bool
	Warning   error
}

type deadlinesResponse struct {
	Deadlines []json.RawMessage `json:"deadlines"`
	Summary   map[string]any    `json:"summary"`
}

// Deadlines calls GET /deadlines.
func (c *Client) Deadlines(ctx context.Context, dq DeadlineQuery) (DeadlineList, error) {
	q := url.Values{}
	if dq.Days > 0 {
		q.Set("days", strconv.Itoa(dq.Days))
	}
	if dq.Type != "" {
		q.Set("type", dq.Type)
	}
	if dq.Priority != "" {
		q.Set("priority", dq.Priority)
	}

	res, err := c.get(ctx, "/deadlines", q)
	if err != nil {
		return DeadlineList{}, fmt.Errorf("list deadlines: %w", err)
	}
	var payload deadlinesResponse
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return DeadlineList{}, fmt.Errorf("decode deadlines: %w", err)
	}

	out := DeadlineList{
		Deadlines: make([]model.Deadline, 0, len(payload.Deadlines)),
		Summary:   payload.Summary,
		FromCache: res.FromCache,
		Warning:   res.Warning,
	}
	for _, raw := range payload.Deadlines {
		var p model.DeadlinePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			out.Rejected++
			continue
		}
		dl, err := model.ParseDeadline(p)
		if err != nil {
			out.Rejected++
			appLog.Warn("backend deadline record rejected", "error", err)
			continue
		}
		out.Deadlines = append(out.Deadlines, dl)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (cache.Result, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	header := http.Header{}
	header.Set("Accept", "application/json")
	c.authorize(header)

	res, err := c.fetch.Get(ctx, u, header)
	if err != nil {
		var se *cache.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return cache.Result{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return cache.Result{}, err
	}
	return res, nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
}
