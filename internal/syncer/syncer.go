// Package syncer runs the calendar-to-notes pipeline: fetch, parse and
// expand every source, spread occurrences over the dates they cover, format
// them, and merge the resulting lines into each date's note.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"calnotes/internal/agenda"
	"calnotes/internal/ics"
	appLog "calnotes/internal/log"
	"calnotes/internal/model"
	"calnotes/internal/section"
	"calnotes/internal/span"
	"calnotes/internal/vault"
)

// Fatal configuration errors. They are returned before any fetch happens.
var (
	ErrNoSources  = errors.New("no calendar sources configured")
	ErrNoLocation = errors.New("target timezone is not set")
)

// WriteError reports a note that could not be read or written.
type WriteError struct {
	Date model.Date
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write note %s: %v", e.Date, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Options are the run-wide settings threaded through every stage.
type Options struct {
	// Location is the display timezone. Required.
	Location *time.Location
	// DefaultEmoji is used when neither rules nor the source supply one.
	DefaultEmoji string
	// Rules is the keyword table for keyword-sensitive sources.
	Rules agenda.Rules
	// Markers delimit the managed section; zero means section.DefaultMarkers.
	Markers section.Markers
	// Placement of a section inserted into a note without one.
	Placement section.Placement
	// FetchTimeout bounds each source's fetch; zero means no extra bound.
	FetchTimeout time.Duration
	// CreateMissing allows creating notes that do not exist yet.
	CreateMissing bool
	// ClearStale empties the section of existing notes in the window that
	// no longer have events. Skipped when any source failed.
	ClearStale bool
	// Parser parses feeds; its Floating zone defaults to Location.
	Parser ics.Parser
}

// Syncer is safe for sequential reuse across runs.
type Syncer struct {
	fetcher ics.Fetcher
	store   vault.Store
	opts    Options
	format  agenda.Formatter
}

// New validates opts and returns a Syncer.
func New(fetcher ics.Fetcher, store vault.Store, opts Options) (*Syncer, error) {
	if opts.Location == nil {
		return nil, ErrNoLocation
	}
	if opts.Markers == (section.Markers{}) {
		opts.Markers = section.DefaultMarkers()
	}
	if err := opts.Markers.Validate(); err != nil {
		return nil, err
	}
	if opts.Placement == "" {
		opts.Placement = section.Append
	}
	if opts.Parser.Floating == nil {
		opts.Parser.Floating = opts.Location
	}
	return &Syncer{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		format:  agenda.Formatter{DefaultEmoji: opts.DefaultEmoji, Rules: opts.Rules},
	}, nil
}

// sourceResult is what one source pipeline hands back to the run.
type sourceResult struct {
	lines       []model.FormattedLine
	occurrences int
	warnings    []ics.Warning
	err         error
	first, last model.Date
}

// Collect runs every source pipeline and groups the produced lines by date.
// It never touches the store. Sources are processed concurrently; lines are
// added to the group in source priority order so the result is
// deterministic.
func (s *Syncer) Collect(ctx context.Context, sources []model.Source) (*model.DateGroup, Report, error) {
	report := Report{Started: time.Now()}
	if len(sources) == 0 {
		return nil, report, ErrNoSources
	}

	ordered := make([]model.Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	report.Sources = len(ordered)

	results := make([]sourceResult, len(ordered))
	var wg sync.WaitGroup
	for i, src := range ordered {
		wg.Add(1)
		go func(i int, src model.Source) {
			defer wg.Done()
			results[i] = s.runSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	group := model.NewDateGroup()
	for i, res := range results {
		src := ordered[i]
		report.Warnings = append(report.Warnings, res.warnings...)
		if res.err != nil {
			report.Failures = append(report.Failures, SourceFailure{Source: src.Name, Err: res.err})
			appLog.Error("source skipped", res.err, "source", src.Name)
			continue
		}
		report.Occurrences += res.occurrences
		for _, l := range res.lines {
			if group.Add(l) {
				report.Lines++
			}
		}
		report.extendRange(res.first, res.last)
	}
	return group, report, nil
}

func (s *Syncer) runSource(ctx context.Context, src model.Source) sourceResult {
	var res sourceResult
	res.first, res.last = span.WindowDates(src.Window, s.opts.Location)
	if src.Unresolved != nil {
		res.err = &ics.FetchError{Source: src.Name, Err: src.Unresolved}
		return res
	}

	fetchCtx := ctx
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}

	body, err := s.fetcher.Fetch(fetchCtx, src)
	if err != nil {
		var ferr *ics.FetchError
		if !errors.As(err, &ferr) {
			err = &ics.FetchError{Source: src.Name, Err: err}
		}
		res.err = err
		return res
	}

	parsed, err := s.opts.Parser.Parse(src, body)
	if err != nil {
		res.err = err
		return res
	}
	res.warnings = parsed.Warnings
	res.occurrences = len(parsed.Occurrences)

	for _, occ := range parsed.Occurrences {
		for _, seg := range span.Within(occ, s.opts.Location, res.first, res.last) {
			res.lines = append(res.lines, s.format.Line(occ, src, seg))
		}
	}

	appLog.Info("source processed",
		"source", src.Name,
		"occurrences", res.occurrences,
		"lines", len(res.lines),
		"warnings", len(res.warnings),
	)
	return res
}

// Run performs a full sync pass and reports what happened. The returned
// error is non-nil only for fatal configuration problems; per-source and
// per-date failures are listed in the report.
func (s *Syncer) Run(ctx context.Context, sources []model.Source) (Report, error) {
	group, report, err := s.Collect(ctx, sources)
	if err != nil {
		return report, err
	}

	if s.opts.ClearStale {
		s.addStaleDates(ctx, group, &report)
	}

	for _, d := range group.Dates() {
		s.writeDate(ctx, d, group.Texts(d), &report)
	}

	report.Finished = time.Now()
	appLog.Info("sync finished",
		"sources", report.Sources,
		"failed_sources", len(report.Failures),
		"warnings", len(report.Warnings),
		"notes_written", len(report.Written),
		"notes_unchanged", len(report.Unchanged),
		"notes_skipped", len(report.Skipped),
		"write_errors", len(report.WriteErrors),
		"duration", report.Finished.Sub(report.Started).Round(time.Millisecond),
	)
	return report, nil
}

// addStaleDates registers existing notes inside the synced range that have
// no events, so their sections get emptied.
func (s *Syncer) addStaleDates(ctx context.Context, group *model.DateGroup, report *Report) {
	if len(report.Failures) > 0 {
		appLog.Warn("stale clearing skipped: a source failed", "failed_sources", len(report.Failures))
		return
	}
	lister, ok := s.store.(vault.Lister)
	if !ok || report.RangeFirst == (model.Date{}) {
		return
	}
	dates, err := lister.Dates(ctx)
	if err != nil {
		appLog.Error("stale clearing skipped: listing notes failed", err)
		return
	}
	for _, d := range dates {
		if d.Before(report.RangeFirst) || report.RangeLast.Before(d) {
			continue
		}
		if !group.Has(d) {
			group.Ensure(d)
		}
	}
}

func (s *Syncer) writeDate(ctx context.Context, d model.Date, lines []string, report *Report) {
	fail := func(err error) {
		werr := &WriteError{Date: d, Err: err}
		report.WriteErrors = append(report.WriteErrors, werr)
		appLog.Error("note update failed", err, "date", d.String())
	}

	if !s.opts.CreateMissing {
		exists, err := s.store.Exists(ctx, d)
		if err != nil {
			fail(err)
			return
		}
		if !exists {
			report.Skipped = append(report.Skipped, d)
			appLog.Debug("note missing, not created", "date", d.String())
			return
		}
	}

	current, err := s.store.Read(ctx, d)
	if err != nil {
		fail(err)
		return
	}

	updated := section.Merge(current, lines, s.opts.Markers, s.opts.Placement)
	if updated == current {
		report.Unchanged = append(report.Unchanged, d)
		return
	}

	if err := s.store.Write(ctx, d, updated); err != nil {
		fail(err)
		return
	}
	report.Written = append(report.Written, d)
	appLog.Debug("note updated", "date", d.String(), "lines", len(lines))
}
