package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "calnotes/internal/log"
	"calnotes/internal/model"
)

// Fetcher retrieves the raw feed bytes of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src model.Source) ([]byte, error)
}

// FetchResult is a fetched feed body and whether it came from the cache.
type FetchResult struct {
	Source    string
	Body      []byte
	FromCache bool
}

// HTTPFetcher downloads ICS feeds over HTTP. Bodies are kept in a disk
// cache and revalidated with ETag / Last-Modified.
type HTTPFetcher struct {
	client *http.Client
	cache  feedCache
}

// NewHTTPFetcher returns a fetcher caching under cacheDir. An empty
// cacheDir disables the cache.
func NewHTTPFetcher(cacheDir string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		cache:  feedCache{dir: cacheDir},
	}
}

// Fetch implements Fetcher. Failures are returned as *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, src model.Source) ([]byte, error) {
	res, err := f.FetchOne(ctx, src)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	return res.Body, nil
}

// FetchOne performs a conditional GET for src. The cached body is served on
// 304, and also on network errors and server errors so that a flaky feed
// does not blank out notes. Auth failures and cancellation are never masked.
func (f *HTTPFetcher) FetchOne(ctx context.Context, src model.Source) (FetchResult, error) {
	if src.Locator == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	logURL := redactURL(src.Locator)

	entry, err := f.cache.load(src.Locator)
	if err != nil {
		return FetchResult{}, err
	}
	cached := func(reason string, cause error) (FetchResult, error) {
		appLog.Warn("ics fetch using cached body", "source", src.Name, "url", logURL, "reason", reason, "error", errString(cause))
		return FetchResult{Source: src.Name, Body: entry.body, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Locator, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if src.Username != "" {
		req.SetBasicAuth(src.Username, src.Password)
	}
	if entry.ok() {
		if entry.meta.ETag != "" {
			req.Header.Set("If-None-Match", entry.meta.ETag)
		}
		if entry.meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", entry.meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "source", src.Name, "url", logURL)
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() == nil && entry.ok() {
			return cached("network error", err)
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, fmt.Errorf("read body: %w", err)
		}
		meta := cacheMeta{
			URL:          src.Locator,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.cache.store(src.Locator, meta, body); err != nil {
			appLog.Error("ics cache save failed", err, "source", src.Name, "url", logURL)
		}
		appLog.Info("ics fetched", "source", src.Name, "url", logURL, "bytes", len(body))
		return FetchResult{Source: src.Name, Body: body}, nil

	case resp.StatusCode == http.StatusNotModified:
		if !entry.ok() {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("ics not modified", "source", src.Name, "url", logURL)
		return FetchResult{Source: src.Name, Body: entry.body, FromCache: true}, nil

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return FetchResult{}, fmt.Errorf("unexpected status %s", resp.Status)

	default:
		if entry.ok() {
			return cached("unexpected status", errors.New(resp.Status))
		}
		return FetchResult{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// cacheMeta is stored next to a cached body as meta.json.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type cacheEntry struct {
	meta cacheMeta
	body []byte
}

func (e cacheEntry) ok() bool { return len(e.body) > 0 }

// feedCache keeps one directory per feed URL, named by a hash of the URL.
type feedCache struct {
	dir string
}

func (c feedCache) path(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8]))
}

// load returns the cached entry for rawURL. A missing or unreadable entry
// is empty, not an error; only failing to create the directory is.
func (c feedCache) load(rawURL string) (cacheEntry, error) {
	if c.dir == "" {
		return cacheEntry{}, nil
	}
	dir := c.path(rawURL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cacheEntry{}, fmt.Errorf("create cache dir: %w", err)
	}

	var e cacheEntry
	if data, err := os.ReadFile(filepath.Join(dir, "meta.json")); err == nil {
		if json.Unmarshal(data, &e.meta) != nil {
			e.meta = cacheMeta{}
		}
	}
	e.body, _ = os.ReadFile(filepath.Join(dir, "body.ics"))
	return e, nil
}

// store writes the body before the metadata so metadata never describes a
// body that is not on disk.
func (c feedCache) store(rawURL string, meta cacheMeta, body []byte) error {
	if c.dir == "" {
		return nil
	}
	dir := c.path(rawURL)
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only the scheme and host of a feed URL, since secret
// feed URLs carry their token in the path or query.
//
//	https://calendar.google.com/calendar/ical/secret/basic.ics
//	-> https://calendar.google.com/...(redacted)
func redactURL(raw string) string {
	const suffix = "/...(redacted)"
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "ics:/" + suffix
	}
	return u.Scheme + "://" + u.Host + suffix
}
