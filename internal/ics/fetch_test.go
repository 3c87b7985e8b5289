package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnotes/internal/model"
)

const sampleFeed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n"

func TestHTTPFetcherUsesETagCache(t *testing.T) {
	var (
		status   atomic.Int32
		requests atomic.Int32
	)
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "me", user)
		assert.Equal(t, "secret", pass)

		if r.Header.Get("If-None-Match") == `"v1"` && status.Load() == http.StatusOK {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		code := int(status.Load())
		if code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(t.TempDir(), 5*time.Second)
	src := model.Source{Name: "work", Locator: srv.URL + "/cal.ics", Username: "me", Password: "secret"}
	ctx := context.Background()

	res, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, sampleFeed, string(res.Body))

	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, sampleFeed, string(res.Body))

	// Transient server failures fall back to the cached body.
	status.Store(http.StatusBadGateway)
	res, err = f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache)

	// Auth failures never do.
	status.Store(http.StatusUnauthorized)
	_, err = f.FetchOne(ctx, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	assert.Equal(t, int32(4), requests.Load())
}

func TestHTTPFetcherWithoutCacheReturnsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("", time.Second)
	_, err := f.Fetch(context.Background(), model.Source{Name: "personal", Locator: srv.URL})
	require.Error(t, err)

	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, "personal", ferr.Source)
}

func TestHTTPFetcherHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewHTTPFetcher(t.TempDir(), 5*time.Second)
	_, err := f.Fetch(ctx, model.Source{Name: "slow", Locator: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPFetcherEmptyLocator(t *testing.T) {
	_, err := NewHTTPFetcher("", time.Second).Fetch(context.Background(), model.Source{Name: "x"})
	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://calendar.google.com/calendar/ical/secret/basic.ics": "https://calendar.google.com/...(redacted)",
		"https://example.com?token=abc":                              "https://example.com/...(redacted)",
		"webcal-without-scheme":                                      "ics://...(redacted)",
	}
	for in, want := range tests {
		assert.Equal(t, want, redactURL(in), in)
	}
}

type stubFetcher struct {
	body []byte
	got  model.Source
}

func (s *stubFetcher) Fetch(_ context.Context, src model.Source) ([]byte, error) {
	s.got = src
	return s.body, nil
}

func TestKindFetcherDispatch(t *testing.T) {
	icsStub := &stubFetcher{body: []byte("ics")}
	davStub := &stubFetcher{body: []byte("dav")}
	k := KindFetcher{model.KindICS: icsStub, model.KindCalDAV: davStub}
	ctx := context.Background()

	body, err := k.Fetch(ctx, model.Source{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, "ics", string(body))

	body, err = k.Fetch(ctx, model.Source{Name: "b", Kind: model.KindCalDAV})
	require.NoError(t, err)
	assert.Equal(t, "dav", string(body))
	assert.Equal(t, "b", davStub.got.Name)

	_, err = k.Fetch(ctx, model.Source{Name: "c", Kind: "exchange"})
	var ferr *FetchError
	require.True(t, errors.As(err, &ferr))
	assert.Contains(t, err.Error(), "unsupported source kind")
}
