package model

import (
	"fmt"
	"sort"
	"time"

	// Feeds reference arbitrary IANA zones; do not depend on host zoneinfo.
	_ "time/tzdata"
)

// Source kinds understood by the fetchers.
const (
	KindICS    = "ics"
	KindCalDAV = "caldav"
)

// Window is the half-open time range [Start, End) within which events are
// expanded into concrete occurrences.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps reports whether [start, end] intersects the window. A
// zero-duration range is treated as the single instant start.
func (w Window) Overlaps(start, end time.Time) bool {
	if end.Before(start) {
		end = start
	}
	if !start.Before(w.End) {
		return false
	}
	if end.Equal(start) {
		return !start.Before(w.Start)
	}
	return end.After(w.Start)
}

// Source describes one configured calendar. It is built once from config
// and never mutated.
type Source struct {
	// Name identifies the calendar in logs, reports and the ledger.
	Name string
	// Kind selects the fetcher ("ics" or "caldav").
	Kind string
	// Locator is the resolved feed location (ICS URL or CalDAV endpoint).
	Locator string

	// CalendarPath, Username and Password are only used by CalDAV sources.
	CalendarPath string
	Username     string
	Password     string

	// Emoji is the default presentation hint; empty means "use the global default".
	Emoji string
	// Label is an optional suffix rendered after each line.
	Label string
	// KeywordSensitive enables title keyword classification.
	KeywordSensitive bool

	// Priority orders sources for tie-breaking; lower sorts first.
	Priority int

	Window Window

	// Unresolved is set when the locator could not be resolved from the
	// environment or keyring. Such a source fails without being fetched.
	Unresolved error
}

// Occurrence is a single event instance after recurrence expansion.
// Start/End are in the feed's own timezone; AllDay occurrences carry their
// nominal dates at UTC midnight.
type Occurrence struct {
	SourceName string
	UID        string

	Title       string
	Location    string
	Description string
	URL         string

	AllDay bool
	Start  time.Time
	End    time.Time
}

// Date is a calendar date with no time-of-day or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in its own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses an ISO "2006-01-02" date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// In returns midnight of the date in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n days later (or earlier when n < 0).
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	return d.Compare(o) < 0
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Day, o.Day)
	}
}

// Format renders the date with a Go time layout.
func (d Date) Format(layout string) string {
	return d.In(time.UTC).Format(layout)
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Segment is the part of an occurrence that falls on one calendar date in
// the target timezone. Start/End are clipped to that day; FullDay is set
// when the segment covers the whole day (or the event is all-day).
type Segment struct {
	Date    Date
	Start   time.Time
	End     time.Time
	FullDay bool
	// EndsAtMidnight marks segments clipped at the following midnight.
	EndsAtMidnight bool
}

// FormattedLine is one rendered line destined for a note.
type FormattedLine struct {
	Date     Date
	Text     string
	AllDay   bool
	Start    time.Time
	Priority int
	Source   string
}

// Less orders lines: all-day first, then by start, then source priority,
// then text for determinism.
func (l FormattedLine) Less(o FormattedLine) bool {
	if l.AllDay != o.AllDay {
		return l.AllDay
	}
	if !l.AllDay && !l.Start.Equal(o.Start) {
		return l.Start.Before(o.Start)
	}
	if l.Priority != o.Priority {
		return l.Priority < o.Priority
	}
	return l.Text < o.Text
}

// DateGroup collects lines per date. It is built per run and not persisted.
type DateGroup struct {
	lines map[Date][]FormattedLine
	seen  map[string]struct{}
}

// NewDateGroup returns an empty group.
func NewDateGroup() *DateGroup {
	return &DateGroup{
		lines: make(map[Date][]FormattedLine),
		seen:  make(map[string]struct{}),
	}
}

// Add inserts a line unless an identical (date, source, text) line exists.
// It reports whether the line was added.
func (g *DateGroup) Add(l FormattedLine) bool {
	key := l.Date.String() + "\x00" + l.Source + "\x00" + l.Text
	if _, dup := g.seen[key]; dup {
		return false
	}
	g.seen[key] = struct{}{}
	g.lines[l.Date] = append(g.lines[l.Date], l)
	return true
}

// Ensure registers a date with no lines, so that it is merged as an empty
// section.
func (g *DateGroup) Ensure(d Date) {
	if _, ok := g.lines[d]; !ok {
		g.lines[d] = nil
	}
}

// Has reports whether d is present in the group.
func (g *DateGroup) Has(d Date) bool {
	_, ok := g.lines[d]
	return ok
}

// Dates returns all dates in ascending order.
func (g *DateGroup) Dates() []Date {
	out := make([]Date, 0, len(g.lines))
	for d := range g.lines {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Lines returns the ordered lines for d.
func (g *DateGroup) Lines(d Date) []FormattedLine {
	src := g.lines[d]
	out := make([]FormattedLine, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Texts returns the ordered display texts for d.
func (g *DateGroup) Texts(d Date) []string {
	lines := g.Lines(d)
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Text)
	}
	return out
}

// Len returns the number of dates.
func (g *DateGroup) Len() int {
	return len(g.lines)
}
