package ics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"casecal/internal/cache"
	appLog "casecal/internal/log"
	"casecal/internal/model"
)

// Feed is a configured ICS subscription. Its events are read-only and owned
// by ResourceID.
type Feed struct {
	ID         string
	Name       string
	URL        string
	ResourceID string
	EventType  model.EventType
}

// Feeds merges ICS subscriptions into the calendar. It keeps the last parsed
// copy of every feed and expands it on demand for a window.
type Feeds struct {
	feeds []Feed
	fetch *cache.Fetcher
	loc   *time.Location

	refreshMu sync.Mutex

	mu        sync.RWMutex
	parsed    map[string][]ParsedEvent
	failed    map[string]error
	refreshed time.Time
}

// NewFeeds creates the feed set. Event days are taken in loc.
func NewFeeds(feeds []Feed, fetch *cache.Fetcher, loc *time.Location) *Feeds {
	if loc == nil {
		loc = time.Local
	}
	return &Feeds{
		feeds:  feeds,
		fetch:  fetch,
		loc:    loc,
		parsed: make(map[string][]ParsedEvent),
		failed: make(map[string]error),
	}
}

func (f *Feeds) Name() string { return "ics" }

func (f *Feeds) Len() int { return len(f.feeds) }

// Refresh fetches and parses every feed concurrently. A feed that fails keeps
// its previous parse; the failures are returned joined.
func (f *Feeds) Refresh(ctx context.Context) error {
	f.refreshMu.Lock()
	defer f.refreshMu.Unlock()

	parsed := make([][]ParsedEvent, len(f.feeds))
	errs := make([]error, len(f.feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, feed := range f.feeds {
		i, feed := i, feed
		g.Go(func() error {
			res, err := f.fetch.Get(gctx, feed.URL, nil)
			if err != nil {
				errs[i] = fmt.Errorf("feed %s: %w", feed.ID, err)
				return nil
			}
			events, err := ParseICS(feed, res.Body)
			if err != nil {
				errs[i] = fmt.Errorf("feed %s: %w", feed.ID, err)
				return nil
			}
			parsed[i] = events
			if res.Warning != nil {
				errs[i] = fmt.Errorf("feed %s: %w", feed.ID, res.Warning)
			}
			return nil
		})
	}
	_ = g.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, feed := range f.feeds {
		if parsed[i] != nil {
			f.parsed[feed.ID] = parsed[i]
		}
		if errs[i] != nil {
			f.failed[feed.ID] = errs[i]
			appLog.Error("ics feed refresh failed", errs[i], "feed", feed.ID, "url", cache.RedactURL(feed.URL))
		} else {
			delete(f.failed, feed.ID)
		}
	}
	f.refreshed = time.Now()
	appLog.Info("ics feeds refreshed", "feeds", len(f.feeds), "failed", len(f.failed))
	return errors.Join(errs...)
}

// Events expands every feed for w. Feeds are refreshed first if they never
// were. A failed feed is reported through Batch.Warning.
func (f *Feeds) Events(ctx context.Context, w model.Window) (model.Batch, error) {
	f.mu.RLock()
	never := f.refreshed.IsZero()
	f.mu.RUnlock()
	if never && len(f.feeds) > 0 {
		// Errors are recorded per feed and surface as the warning below.
		_ = f.Refresh(ctx)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var batch model.Batch
	var warnings []error
	for _, feed := range f.feeds {
		if err, ok := f.failed[feed.ID]; ok {
			warnings = append(warnings, err)
		}
		events, err := Expand(feed, f.parsed[feed.ID], w, f.loc)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("feed %s: %w", feed.ID, err))
			continue
		}
		batch.Events = append(batch.Events, events...)
	}
	batch.Warning = errors.Join(warnings...)
	return batch, nil
}
