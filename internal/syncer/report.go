package syncer

import (
	"time"

	"calnotes/internal/ics"
	"calnotes/internal/model"
)

// SourceFailure records a source that was skipped for the run.
type SourceFailure struct {
	Source string
	Err    error
}

// Report summarizes one run.
type Report struct {
	Started  time.Time
	Finished time.Time

	Sources     int
	Failures    []SourceFailure
	Warnings    []ics.Warning
	Occurrences int
	Lines       int

	// RangeFirst and RangeLast span the windows of the sources that
	// succeeded.
	RangeFirst model.Date
	RangeLast  model.Date

	Written     []model.Date
	Unchanged   []model.Date
	Skipped     []model.Date
	WriteErrors []*WriteError
}

// OK reports whether every source and every note update succeeded.
func (r Report) OK() bool {
	return len(r.Failures) == 0 && len(r.WriteErrors) == 0
}

func (r *Report) extendRange(first, last model.Date) {
	if r.RangeFirst == (model.Date{}) || first.Before(r.RangeFirst) {
		r.RangeFirst = first
	}
	if r.RangeLast == (model.Date{}) || r.RangeLast.Before(last) {
		r.RangeLast = last
	}
}
