// Package web exposes a small status API for watch mode.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"calnotes/internal/config"
	appLog "calnotes/internal/log"
	"calnotes/internal/model"
	"calnotes/internal/state"
)

// Engine runs syncs on behalf of the API.
type Engine interface {
	// Sync performs a full run and returns its recorded summary.
	Sync(ctx context.Context) (state.Run, error)
	// Agenda collects lines for every date without touching notes.
	Agenda(ctx context.Context) (*model.DateGroup, error)
}

// RunStore lists recorded runs.
type RunStore interface {
	Recent(ctx context.Context, limit int) ([]state.Run, error)
}

const agendaCacheTTL = 30 * time.Second

// Server serves /health, /api/runs, /api/agenda and /api/sync.
type Server struct {
	auth   *config.BasicAuthConfig
	engine Engine
	runs   RunStore
	mux    *http.ServeMux

	// syncMu serializes triggered runs; a second request while one is in
	// flight gets 409.
	syncMu sync.Mutex

	agendaMu    sync.RWMutex
	agendaCache *agendaCache
	now         func() time.Time
}

type agendaCache struct {
	resp      agendaResponse
	updatedAt time.Time
}

// NewServer constructs a Server. auth may be nil.
func NewServer(auth *config.BasicAuthConfig, engine Engine, runs RunStore) *Server {
	s := &Server{
		auth:   auth,
		engine: engine,
		runs:   runs,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, wrapped with basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	return s.auth != nil && s.auth.Username != "" && s.auth.Password != ""
}

// basicAuthMiddleware protects every route except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.auth.Username
	password := s.auth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calnotes", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves h on addr until ctx is canceled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/agenda", s.handleAgenda)
	s.mux.HandleFunc("/api/sync", s.handleSync)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type runsResponse struct {
	Runs []state.Run `json:"runs"`
}

// handleRuns lists recent runs.
//
// GET /api/runs?limit=10
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 10)
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		appLog.Error("api runs: query failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load runs")
		return
	}
	if runs == nil {
		runs = []state.Run{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

type agendaDay struct {
	Date  string   `json:"date"`
	Lines []string `json:"lines"`
}

type agendaResponse struct {
	Days        []agendaDay `json:"days"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// handleAgenda returns the lines a sync would write, grouped by date. The
// result is cached briefly so repeated page loads do not refetch feeds.
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	now := s.now()
	s.agendaMu.RLock()
	ac := s.agendaCache
	s.agendaMu.RUnlock()
	if ac != nil && now.Sub(ac.updatedAt) < agendaCacheTTL {
		writeJSON(w, http.StatusOK, ac.resp)
		return
	}

	group, err := s.engine.Agenda(r.Context())
	if err != nil {
		appLog.Error("api agenda: collect failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := agendaResponse{Days: []agendaDay{}, GeneratedAt: now}
	for _, d := range group.Dates() {
		resp.Days = append(resp.Days, agendaDay{Date: d.String(), Lines: group.Texts(d)})
	}

	s.agendaMu.Lock()
	s.agendaCache = &agendaCache{resp: resp, updatedAt: now}
	s.agendaMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleSync triggers an immediate run.
//
// POST /api/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.syncMu.TryLock() {
		writeError(w, http.StatusConflict, "a sync is already running")
		return
	}
	defer s.syncMu.Unlock()

	run, err := s.engine.Sync(r.Context())
	if err != nil {
		appLog.Error("api sync failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.agendaMu.Lock()
	s.agendaCache = nil
	s.agendaMu.Unlock()

	writeJSON(w, http.StatusOK, run)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
