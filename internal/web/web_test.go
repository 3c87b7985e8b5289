package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnotes/internal/config"
	"calnotes/internal/model"
	"calnotes/internal/state"
)

type fakeEngine struct {
	agendaCalls atomic.Int32
	syncCalls   atomic.Int32
	started     chan struct{}
	release     chan struct{}
	syncErr     error
}

func (e *fakeEngine) Sync(ctx context.Context) (state.Run, error) {
	e.syncCalls.Add(1)
	if e.started != nil {
		close(e.started)
		<-e.release
	}
	if e.syncErr != nil {
		return state.Run{}, e.syncErr
	}
	return state.Run{ID: "run-1", Sources: 2, Written: 3}, nil
}

func (e *fakeEngine) Agenda(ctx context.Context) (*model.DateGroup, error) {
	e.agendaCalls.Add(1)
	g := model.NewDateGroup()
	d := model.Date{Year: 2024, Month: time.June, Day: 10}
	g.Add(model.FormattedLine{Date: d, Text: "💼 09:00–10:00 Standup", Start: d.In(time.UTC).Add(9 * time.Hour)})
	g.Add(model.FormattedLine{Date: d, Text: "📌 All day Offsite", AllDay: true})
	return g, nil
}

type fakeRuns struct {
	runs []state.Run
	err  error
	last int
}

func (f *fakeRuns) Recent(_ context.Context, limit int) ([]state.Run, error) {
	f.last = limit
	return f.runs, f.err
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(nil, &fakeEngine{}, &fakeRuns{})
	rec := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	auth := &config.BasicAuthConfig{Username: "me", Password: "secret"}
	h := NewServer(auth, &fakeEngine{}, &fakeRuns{}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health").Code)

	rec := do(t, h, http.MethodGet, "/api/runs")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.SetBasicAuth("me", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.SetBasicAuth("me", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	h := NewServer(&config.BasicAuthConfig{Username: "me"}, &fakeEngine{}, &fakeRuns{}).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/runs").Code)
}

func TestRuns(t *testing.T) {
	runs := &fakeRuns{runs: []state.Run{{ID: "a", Written: 2}, {ID: "b"}}}
	h := NewServer(nil, &fakeEngine{}, runs).Handler()

	rec := do(t, h, http.MethodGet, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runs.last)

	var body runsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "a", body.Runs[0].ID)
	assert.Equal(t, 2, body.Runs[0].Written)

	do(t, h, http.MethodGet, "/api/runs?limit=abc")
	assert.Equal(t, 10, runs.last)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/api/runs").Code)
}

func TestRunsEmptyAndError(t *testing.T) {
	h := NewServer(nil, &fakeEngine{}, &fakeRuns{}).Handler()
	rec := do(t, h, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	h = NewServer(nil, &fakeEngine{}, &fakeRuns{err: errors.New("db locked")}).Handler()
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodGet, "/api/runs").Code)
}

func TestAgendaIsCached(t *testing.T) {
	engine := &fakeEngine{}
	s := NewServer(nil, engine, &fakeRuns{})
	now := time.Date(2024, 6, 10, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/agenda")
	require.Equal(t, http.StatusOK, rec.Code)

	var body agendaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Days, 1)
	assert.Equal(t, "2024-06-10", body.Days[0].Date)
	assert.Equal(t, []string{"📌 All day Offsite", "💼 09:00–10:00 Standup"}, body.Days[0].Lines)

	do(t, h, http.MethodGet, "/api/agenda")
	assert.Equal(t, int32(1), engine.agendaCalls.Load())

	now = now.Add(agendaCacheTTL)
	do(t, h, http.MethodGet, "/api/agenda")
	assert.Equal(t, int32(2), engine.agendaCalls.Load())
}

func TestSync(t *testing.T) {
	engine := &fakeEngine{}
	h := NewServer(nil, engine, &fakeRuns{}).Handler()

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/sync").Code)

	rec := do(t, h, http.MethodPost, "/api/sync")
	require.Equal(t, http.StatusOK, rec.Code)
	var run state.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, 3, run.Written)
}

func TestSyncInvalidatesAgendaCache(t *testing.T) {
	engine := &fakeEngine{}
	h := NewServer(nil, engine, &fakeRuns{}).Handler()

	do(t, h, http.MethodGet, "/api/agenda")
	do(t, h, http.MethodPost, "/api/sync")
	do(t, h, http.MethodGet, "/api/agenda")
	assert.Equal(t, int32(2), engine.agendaCalls.Load())
}

func TestSyncConflict(t *testing.T) {
	engine := &fakeEngine{started: make(chan struct{}), release: make(chan struct{})}
	h := NewServer(nil, engine, &fakeRuns{}).Handler()

	done := make(chan int)
	go func() {
		done <- do(t, h, http.MethodPost, "/api/sync").Code
	}()
	<-engine.started

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/sync").Code)

	close(engine.release)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Equal(t, int32(1), engine.syncCalls.Load())
}

func TestSyncError(t *testing.T) {
	h := NewServer(nil, &fakeEngine{syncErr: errors.New("no calendar sources configured")}, &fakeRuns{}).Handler()
	rec := do(t, h, http.MethodPost, "/api/sync")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no calendar sources")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- ListenAndServe(ctx, "127.0.0.1:0", http.NotFoundHandler())
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
