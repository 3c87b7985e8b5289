// Package state keeps a SQLite ledger of sync runs and their failures.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"calnotes/internal/syncer"
)

// Failure kinds.
const (
	KindSource  = "source"
	KindWrite   = "write"
	KindWarning = "warning"
)

// Failure is one problem recorded for a run.
type Failure struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Run is the stored summary of one sync run.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Sources       int `json:"sources"`
	FailedSources int `json:"failed_sources"`
	Warnings      int `json:"warnings"`
	Occurrences   int `json:"occurrences"`
	Lines         int `json:"lines"`
	Written       int `json:"written"`
	Unchanged     int `json:"unchanged"`
	Skipped       int `json:"skipped"`
	WriteErrors   int `json:"write_errors"`

	Failures []Failure `json:"failures,omitempty"`
}

// OK reports whether the run had no source or write failures.
func (r Run) OK() bool {
	return r.FailedSources == 0 && r.WriteErrors == 0
}

// FromReport converts a sync report into a Run. Warnings are kept as
// failures of kind KindWarning.
func FromReport(rep syncer.Report) Run {
	run := Run{
		StartedAt:     rep.Started,
		FinishedAt:    rep.Finished,
		Sources:       rep.Sources,
		FailedSources: len(rep.Failures),
		Warnings:      len(rep.Warnings),
		Occurrences:   rep.Occurrences,
		Lines:         rep.Lines,
		Written:       len(rep.Written),
		Unchanged:     len(rep.Unchanged),
		Skipped:       len(rep.Skipped),
		WriteErrors:   len(rep.WriteErrors),
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	for _, f := range rep.Failures {
		run.Failures = append(run.Failures, Failure{Kind: KindSource, Subject: f.Source, Message: f.Err.Error()})
	}
	for _, w := range rep.WriteErrors {
		run.Failures = append(run.Failures, Failure{Kind: KindWrite, Subject: w.Date.String(), Message: w.Err.Error()})
	}
	for _, w := range rep.Warnings {
		run.Failures = append(run.Failures, Failure{Kind: KindWarning, Subject: w.Source, Message: w.Error()})
	}
	return run
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	started_at     TEXT NOT NULL,
	finished_at    TEXT NOT NULL,
	sources        INTEGER NOT NULL,
	failed_sources INTEGER NOT NULL,
	warnings       INTEGER NOT NULL,
	occurrences    INTEGER NOT NULL,
	lines          INTEGER NOT NULL,
	written        INTEGER NOT NULL,
	unchanged      INTEGER NOT NULL,
	skipped        INTEGER NOT NULL,
	write_errors   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
CREATE TABLE IF NOT EXISTS failures (
	run_id  TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq     INTEGER NOT NULL,
	kind    TEXT NOT NULL,
	subject TEXT NOT NULL,
	message TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// Ledger stores runs in a SQLite database.
type Ledger struct {
	path string
	db   *sql.DB
}

// Open opens (creating if needed) the ledger at path.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("state database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; watch mode and the API share the handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate state database: %w", err)
	}
	return &Ledger{path: path, db: db}, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string { return l.path }

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Record stores run and returns its ID, generating one when empty.
func (l *Ledger) Record(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, finished_at, sources, failed_sources, warnings,
			occurrences, lines, written, unchanged, skipped, write_errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Sources, run.FailedSources, run.Warnings,
		run.Occurrences, run.Lines, run.Written, run.Unchanged, run.Skipped, run.WriteErrors,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	for i, f := range run.Failures {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO failures (run_id, seq, kind, subject, message) VALUES (?, ?, ?, ?, ?)`,
			run.ID, i, f.Kind, f.Subject, f.Message,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return run.ID, nil
}

// Recent returns up to limit runs, newest first, with their failures.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, sources, failed_sources, warnings,
			occurrences, lines, written, unchanged, skipped, write_errors
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(
			&r.ID, &started, &finished, &r.Sources, &r.FailedSources, &r.Warnings,
			&r.Occurrences, &r.Lines, &r.Written, &r.Unchanged, &r.Skipped, &r.WriteErrors,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		failures, err := l.failures(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Failures = failures
	}
	return runs, nil
}

func (l *Ledger) failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT kind, subject, message FROM failures WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.Kind, &f.Subject, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep runs and returns how many were
// removed.
func (l *Ledger) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM failures WHERE run_id NOT IN (SELECT id FROM runs)`); err != nil {
		return 0, fmt.Errorf("failed to prune failures: %w", err)
	}
	return res.RowsAffected()
}

// timeLayout is fixed-width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}
