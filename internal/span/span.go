// Package span maps occurrences onto the calendar dates they cover in the
// display timezone.
package span

import (
	"time"

	"calnotes/internal/model"
)

// Spans returns one segment per calendar date the occurrence covers in loc,
// in ascending date order. A nil loc means time.Local.
//
// All-day occurrences keep their nominal dates regardless of loc. Timed
// occurrences are converted to loc and clipped to each day; a zero-duration
// occurrence covers only its start date.
func Spans(occ model.Occurrence, loc *time.Location) []model.Segment {
	return Within(occ, loc, model.Date{}, model.Date{})
}

// Within is Spans restricted to the dates [from, through]. A zero bound is
// open.
func Within(occ model.Occurrence, loc *time.Location, from, through model.Date) []model.Segment {
	if loc == nil {
		loc = time.Local
	}

	var (
		first, last model.Date
		start, end  time.Time
	)
	if occ.AllDay {
		first = model.DateOf(occ.Start)
		last = first
		if occ.End.After(occ.Start) {
			last = model.DateOf(occ.End.Add(-time.Nanosecond))
		}
	} else {
		start = occ.Start.In(loc)
		end = occ.End.In(loc)
		if end.Before(start) {
			end = start
		}
		first = model.DateOf(start)
		last = first
		if end.After(start) {
			last = model.DateOf(end.Add(-time.Nanosecond))
		}
	}

	if from != (model.Date{}) && first.Before(from) {
		first = from
	}
	if through != (model.Date{}) && through.Before(last) {
		last = through
	}

	var out []model.Segment
	for d := first; !last.Before(d); d = d.AddDays(1) {
		dayStart := d.In(loc)
		nextMidnight := d.AddDays(1).In(loc)

		if occ.AllDay {
			out = append(out, model.Segment{
				Date:           d,
				Start:          dayStart,
				End:            nextMidnight,
				FullDay:        true,
				EndsAtMidnight: true,
			})
			continue
		}

		seg := model.Segment{Date: d, Start: start, End: end}
		if dayStart.After(seg.Start) {
			seg.Start = dayStart
		}
		if nextMidnight.Before(seg.End) {
			seg.End = nextMidnight
		}
		seg.EndsAtMidnight = seg.End.Equal(nextMidnight)
		seg.FullDay = seg.Start.Equal(dayStart) && seg.EndsAtMidnight
		out = append(out, seg)
	}
	return out
}

// WindowDates returns the first and last calendar dates of w in loc. The
// window end is exclusive.
func WindowDates(w model.Window, loc *time.Location) (model.Date, model.Date) {
	if loc == nil {
		loc = time.Local
	}
	first := model.DateOf(w.Start.In(loc))
	last := first
	if w.End.After(w.Start) {
		last = model.DateOf(w.End.In(loc).Add(-time.Nanosecond))
	}
	return first, last
}
