package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "casecal/internal/log"
)

// ErrServedFromCache marks a Result whose body is a last-good copy because
// the upstream could not be reached or answered with an error.
var ErrServedFromCache = errors.New("upstream unavailable, serving cached copy")

// StatusError is returned for a non-2xx upstream answer with nothing cached.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected upstream status %s", e.Status)
}

// Result is the outcome of a conditional GET.
type Result struct {
	Body      []byte
	FromCache bool
	// Warning is non-nil when Body came from the cache after a failure; it
	// wraps ErrServedFromCache and the underlying cause.
	Warning error
}

// Fetcher performs conditional GETs (ETag / Last-Modified) backed by a
// BodyCache. A nil cache disables conditional requests and fallbacks.
type Fetcher struct {
	client *http.Client
	cache  BodyCache
	source string
}

// NewFetcher creates a Fetcher. source names the caller in logs and cache rows
// ("backend", "ics").
func NewFetcher(client *http.Client, cache BodyCache, source string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cache: cache, source: source}
}

// Key returns the cache key for a URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}

// Get fetches url, honoring cached validators, and falls back to the cached
// body on network errors and non-OK statuses.
func (f *Fetcher) Get(ctx context.Context, url string, header http.Header) (Result, error) {
	if url == "" {
		return Result{}, errors.New("fetch url is empty")
	}
	key := Key(url)

	var cached Entry
	haveCached := false
	if f.cache != nil {
		e, err := f.cache.Get(ctx, key)
		switch {
		case err == nil:
			cached, haveCached = e, len(e.Body) > 0
		case !errors.Is(err, ErrMiss):
			appLog.Error("cache read failed", err, "source", f.source, "url", RedactURL(url))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	// Conditional headers from cache metadata.
	if haveCached {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	appLog.Debug("fetch start", "source", f.source, "url", RedactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		// A cancelled caller gets no fallback; the response is unwanted.
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if haveCached {
			appLog.Error("fetch network error, using cached body", err, "source", f.source, "url", RedactURL(url))
			return stale(cached, err), nil
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			if haveCached {
				return stale(cached, readErr), nil
			}
			return Result{}, readErr
		}
		if f.cache != nil {
			entry := Entry{
				Key:          key,
				Source:       f.source,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				Body:         body,
			}
			if err := f.cache.Put(ctx, entry); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("cache save failed", err, "source", f.source, "url", RedactURL(url))
			}
		}
		appLog.Debug("fetch success", "source", f.source, "url", RedactURL(url), "status", resp.StatusCode, "bytes", len(body))
		return Result{Body: body}, nil

	case resp.StatusCode == http.StatusNotModified:
		if !haveCached {
			return Result{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("fetch not modified; using cache", "source", f.source, "url", RedactURL(url))
		return Result{Body: cached.Body, FromCache: true}, nil

	default:
		statusErr := &StatusError{Code: resp.StatusCode, Status: resp.Status}
		if haveCached && resp.StatusCode != http.StatusNotFound {
			appLog.Error("fetch non-OK, using cached body", statusErr, "source", f.source, "url", RedactURL(url), "status", resp.StatusCode)
			return stale(cached, statusErr), nil
		}
		return Result{}, statusErr
	}
}

func stale(e Entry, cause error) Result {
	return Result{
		Body:      e.Body,
		FromCache: true,
		Warning:   fmt.Errorf("%w (cached %s): %w", ErrServedFromCache, e.UpdatedAt.Format(time.RFC3339), cause),
	}
}

// RedactURL hides path and query of a URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "url://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
