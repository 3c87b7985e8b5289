package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calnotes/internal/log"
	"calnotes/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// Instance is one generated start/end pair of a recurring master event.
type Instance struct {
	Start time.Time
	End   time.Time
}

// Expander produces the concrete instances of a recurring master event
// whose start falls within the window. Implementations must be pure: the
// same (master, window) always yields the same instances. Overrides and
// cancellations are applied by ExpandAll, not by the Expander.
type Expander interface {
	Expand(master ParsedEvent, w model.Window) ([]Instance, error)
}

// RRuleExpander expands RRULE/RDATE/EXDATE with teambition/rrule-go.
type RRuleExpander struct{}

// Expand implements Expander.
func (RRuleExpander) Expand(ev ParsedEvent, w model.Window) ([]Instance, error) {
	if ev.AllDay {
		w = nominalWindow(w)
	}

	var set rrule.Set
	if ev.RawRRule != "" {
		opt, err := rrule.StrToROption(ev.RawRRule)
		if err != nil {
			return nil, fmt.Errorf("parse RRULE %q: %w", ev.RawRRule, err)
		}
		// Ensure Dtstart is the event's DTSTART so BYxxx defaults derive from it.
		opt.Dtstart = ev.Start
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, fmt.Errorf("build RRULE %q: %w", ev.RawRRule, err)
		}
		set.RRule(r)
	}
	for _, rd := range ev.RDates {
		set.RDate(rd)
	}
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Adjust range into the event's original location for Between().
	rangeStart := w.Start.In(ev.Start.Location())
	rangeEnd := w.End.In(ev.Start.Location())
	starts := set.Between(rangeStart, rangeEnd, true)

	// DTSTART is always the first instance, even when the rule itself
	// would not generate it.
	if w.Contains(ev.Start) && !containsTime(starts, ev.Start) && !containsTime(ev.ExDates, ev.Start) {
		starts = append(starts, ev.Start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	dur := ev.End.Sub(ev.Start)
	out := make([]Instance, 0, len(starts))
	for _, s := range starts {
		if !w.Contains(s) {
			continue
		}
		out = append(out, Instance{Start: s, End: s.Add(dur)})
	}
	return out, nil
}

func containsTime(ts []time.Time, t time.Time) bool {
	for _, x := range ts {
		if x.Equal(t) {
			return true
		}
	}
	return false
}

// nominalWindow maps a window into the UTC-midnight frame used for all-day
// events: [date(start), ceil-date(end)) as UTC midnights.
func nominalWindow(w model.Window) model.Window {
	startDate := model.DateOf(w.Start)
	endDate := model.DateOf(w.End)
	if !w.End.Equal(endDate.In(w.End.Location())) {
		endDate = endDate.AddDays(1)
	}
	return model.Window{Start: startDate.In(time.UTC), End: endDate.In(time.UTC)}
}

// ExpandAll takes the parsed events of one source and expands them into
// concrete occurrences within w. It handles:
//
//   - Single non-recurring events (kept when they overlap the window)
//   - RRULE/RDATE recurrence via exp (instances whose start is in the window)
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides, including moved and cancelled instances
//   - All-day semantics
//
// Occurrences keep the feed's own timezone; timezone normalization happens
// later. The result is sorted by start time then UID.
func ExpandAll(source string, events []ParsedEvent, w model.Window, exp Expander, maxPerEvent int) ([]model.Occurrence, []Warning) {
	if maxPerEvent <= 0 {
		maxPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID, preserving feed order.
	var order []string
	seen := make(map[string]bool)
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
		if !seen[ev.UID] {
			seen[ev.UID] = true
			order = append(order, ev.UID)
		}
	}

	var (
		out      []model.Occurrence
		warnings []Warning
	)

	for _, uid := range order {
		overrides := latestRevisions(overridesByUID[uid])
		used := make([]bool, len(overrides))

		for _, ev := range baseByUID[uid] {
			if ev.Cancelled {
				continue
			}
			instances, err := instancesFor(ev, w, exp)
			if err != nil {
				warnings = append(warnings, Warning{Source: source, UID: uid, Err: err})
				appLog.Error("expand: skipping event", err, "source", source, "uid", uid)
				continue
			}
			if len(instances) > maxPerEvent {
				instances = instances[:maxPerEvent]
				warnings = append(warnings, Warning{
					Source: source,
					UID:    uid,
					Err:    fmt.Errorf("truncated to %d occurrences", maxPerEvent),
				})
				appLog.Error("expand: truncated occurrences for UID due to cap",
					errors.New("max occurrences reached"),
					"uid", uid,
					"cap", maxPerEvent,
				)
			}

			for _, inst := range instances {
				// Apply override if any.
				if i, ok := findOverrideForStart(overrides, inst.Start); ok {
					used[i] = true
					if overrides[i].Cancelled {
						continue
					}
					out = append(out, makeOccurrence(source, overrides[i], overrides[i].Start, overrides[i].End))
					continue
				}
				out = append(out, makeOccurrence(source, ev, inst.Start, inst.End))
			}
		}

		// Overrides that moved an instance into the window from outside it,
		// or whose master is absent from the feed.
		for i, ov := range overrides {
			if used[i] || ov.Cancelled {
				continue
			}
			if overlaps(ov, w) {
				out = append(out, makeOccurrence(source, ov, ov.Start, ov.End))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].UID < out[j].UID
	})
	return out, warnings
}

func instancesFor(ev ParsedEvent, w model.Window, exp Expander) ([]Instance, error) {
	if ev.RawRRule == "" && len(ev.RDates) == 0 {
		if !overlaps(ev, w) {
			return nil, nil
		}
		return []Instance{{Start: ev.Start, End: ev.End}}, nil
	}
	return exp.Expand(ev, w)
}

func overlaps(ev ParsedEvent, w model.Window) bool {
	if ev.AllDay {
		w = nominalWindow(w)
	}
	return w.Overlaps(ev.Start, ev.End)
}

// latestRevisions keeps one override per RECURRENCE-ID: the one with the
// highest SEQUENCE, or the last one in the feed on a tie.
func latestRevisions(overrides []ParsedEvent) []ParsedEvent {
	out := make([]ParsedEvent, 0, len(overrides))
	for _, ov := range overrides {
		replaced := false
		for i := range out {
			if out[i].Recurrence.Equal(*ov.Recurrence) {
				if ov.Seq >= out[i].Seq {
					out[i] = ov
				}
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, ov)
		}
	}
	return out
}

// findOverrideForStart finds an override whose RECURRENCE-ID matches the
// given instance start with exact time equality.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

// makeOccurrence converts a (possibly overridden) ParsedEvent plus a
// specific start/end into a model.Occurrence.
func makeOccurrence(source string, ev ParsedEvent, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		SourceName:  source,
		UID:         ev.UID,
		Title:       ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		URL:         ev.URL,
		AllDay:      ev.AllDay,
		Start:       start,
		End:         end,
	}
}
