package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calnotes/internal/log"
	"calnotes/internal/model"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
//
// All-day events carry their nominal dates as UTC midnights; End is the
// exclusive end date.
type ParsedEvent struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	URL         string
	Cancelled   bool

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	RDates     []time.Time
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT overrides one recurring instance
}

// Result is the outcome of parsing one feed.
type Result struct {
	Occurrences []model.Occurrence
	Warnings    []Warning
}

// Parser turns raw feed bytes into occurrences within a source window.
type Parser struct {
	// Floating is the zone used for date-times without TZID or UTC marker.
	// If nil, time.Local is used.
	Floating *time.Location
	// Expander expands recurring events; nil means RRuleExpander.
	Expander Expander
	// MaxOccurrencesPerEvent caps expansion; zero means the default cap.
	MaxOccurrencesPerEvent int
}

// Parse parses body and expands it within src.Window.
//
// A malformed top-level feed yields a *FeedParseError. A malformed single
// VEVENT is skipped and reported as a Warning; the rest of the feed is
// still processed.
func (p Parser) Parse(src model.Source, body []byte) (Result, error) {
	events, warnings, err := p.ParseEvents(src.Name, body)
	if err != nil {
		return Result{}, err
	}

	exp := p.Expander
	if exp == nil {
		exp = RRuleExpander{}
	}
	occs, expWarnings := ExpandAll(src.Name, events, src.Window, exp, p.MaxOccurrencesPerEvent)

	res := Result{
		Occurrences: occs,
		Warnings:    append(warnings, expWarnings...),
	}
	appLog.Debug("ics feed expanded",
		"source", src.Name,
		"events", len(events),
		"occurrences", len(res.Occurrences),
		"warnings", len(res.Warnings),
	)
	return res, nil
}

// ParseEvents parses a single ICS payload into a list of ParsedEvent.
//
//   - It relies on the underlying library's TZID handling for DTSTART/DTEND.
//   - It detects all-day events by inspecting the DTSTART value format.
//   - It records RRULE/RDATE/EXDATE/RECURRENCE-ID but does not expand
//     recurrences; expansion is done in expand.go.
func (p Parser) ParseEvents(source string, body []byte) ([]ParsedEvent, []Warning, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, nil, &FeedParseError{Source: source, Err: errors.New("empty ICS body")}
	}
	if !bytes.HasPrefix(bytes.ToUpper(firstLine(trimmed)), []byte("BEGIN:VCALENDAR")) {
		return nil, nil, &FeedParseError{Source: source, Err: errors.New("missing BEGIN:VCALENDAR")}
	}

	var (
		comps    []*ical.VEvent
		warnings []Warning
	)
	cal, err := ical.ParseCalendar(bytes.NewReader(trimmed))
	if err == nil {
		comps = cal.Events()
	} else {
		var ok bool
		comps, warnings, ok = parseEventsOneByOne(source, trimmed)
		if !ok {
			return nil, nil, &FeedParseError{Source: source, Err: err}
		}
		appLog.Warn("ics feed parsed per event", "source", source, "reason", err.Error(), "skipped", len(warnings))
	}

	floating := p.Floating
	if floating == nil {
		floating = time.Local
	}

	events := make([]ParsedEvent, 0)

	for i, comp := range comps {
		ev, perr := parseVEvent(comp, floating)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			w := Warning{Source: source, UID: ev.UID, Err: fmt.Errorf("vevent #%d: %w", i+1, perr)}
			appLog.Warn("ics vevent skipped", "source", source, "uid", ev.UID, "reason", perr.Error())
			warnings = append(warnings, w)
			continue
		}
		if ev.UID == "" {
			ev.UID = fmt.Sprintf("%s-anon-%d", source, i+1)
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "source", source, "event_count", len(events), "skipped", len(warnings))
	return events, warnings, nil
}

// block is a top-level component of a feed, as raw content lines.
type block struct {
	name  string
	lines []string
}

// splitComponents splits a VCALENDAR body into its top-level components.
// It reports false when the envelope itself is broken: no END:VCALENDAR,
// or a component that is never closed.
func splitComponents(body []byte) ([]block, bool) {
	var (
		blocks []block
		cur    *block
		closed bool
	)
	for _, raw := range strings.Split(string(body), "\n") {
		line := strings.TrimRight(raw, "\r")
		upper := strings.ToUpper(strings.TrimSpace(line))
		if cur == nil {
			switch {
			case upper == "" || upper == "BEGIN:VCALENDAR":
			case upper == "END:VCALENDAR":
				closed = true
			case strings.HasPrefix(upper, "BEGIN:"):
				cur = &block{name: strings.TrimPrefix(upper, "BEGIN:"), lines: []string{line}}
			}
			continue
		}
		cur.lines = append(cur.lines, line)
		if upper == "END:"+cur.name {
			blocks = append(blocks, *cur)
			cur = nil
		}
	}
	return blocks, closed && cur == nil
}

func wrapCalendar(components ...[]string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calnotes//EN\r\n")
	for _, lines := range components {
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

// blockUID returns the UID line of a raw VEVENT, if any.
func blockUID(lines []string) string {
	for _, l := range lines {
		if len(l) > 4 && strings.EqualFold(l[:4], "UID:") {
			return strings.TrimSpace(l[4:])
		}
	}
	return ""
}

// parseEventsOneByOne parses each VEVENT of a feed in its own calendar,
// together with the feed's well-formed VTIMEZONEs, so one broken event
// does not take the rest of the feed down. Broken events become warnings.
func parseEventsOneByOne(source string, body []byte) ([]*ical.VEvent, []Warning, bool) {
	blocks, ok := splitComponents(body)
	if !ok {
		return nil, nil, false
	}

	var (
		zones  [][]string
		events []block
	)
	for _, b := range blocks {
		switch b.name {
		case "VTIMEZONE":
			if _, err := ical.ParseCalendar(strings.NewReader(wrapCalendar(b.lines))); err != nil {
				appLog.Warn("ics vtimezone skipped", "source", source, "reason", err.Error())
				continue
			}
			zones = append(zones, b.lines)
		case "VEVENT":
			events = append(events, b)
		}
	}
	if len(events) == 0 {
		return nil, nil, false
	}

	var (
		out      []*ical.VEvent
		warnings []Warning
	)
	for i, ev := range events {
		parts := append(zones[:len(zones):len(zones)], ev.lines)
		cal, err := ical.ParseCalendar(strings.NewReader(wrapCalendar(parts...)))
		if err == nil && len(cal.Events()) != 1 {
			err = fmt.Errorf("expected one event, got %d", len(cal.Events()))
		}
		if err != nil {
			uid := blockUID(ev.lines)
			appLog.Warn("ics vevent skipped", "source", source, "uid", uid, "reason", err.Error())
			warnings = append(warnings, Warning{Source: source, UID: uid, Err: fmt.Errorf("vevent #%d: %w", i+1, err)})
			continue
		}
		out = append(out, cal.Events()[0])
	}
	return out, warnings, true
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		return b[:i]
	}
	return b
}

var textUnescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, "\n", `\N`, "\n", `\\`, `\`)

func textProp(ve *ical.VEvent, name ical.ComponentProperty) string {
	p := ve.GetProperty(name)
	if p == nil {
		return ""
	}
	return textUnescaper.Replace(p.Value)
}

func parseVEvent(ve *ical.VEvent, floating *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	if uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId); uidProp != nil {
		out.UID = strings.TrimSpace(uidProp.Value)
	}

	// SEQUENCE picks the newest of repeated overrides.
	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	out.Summary = strings.TrimSpace(textProp(ve, ical.ComponentPropertySummary))
	out.Description = textProp(ve, ical.ComponentPropertyDescription)
	out.Location = strings.TrimSpace(textProp(ve, ical.ComponentPropertyLocation))
	out.URL = strings.TrimSpace(textProp(ve, "URL"))

	if st := ve.GetProperty(ical.ComponentPropertyStatus); st != nil {
		out.Cancelled = strings.EqualFold(strings.TrimSpace(st.Value), "CANCELLED")
	}

	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || strings.TrimSpace(dtStartProp.Value) == "" {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStartProp)

	if out.AllDay {
		start, err := parseDate(dtStartProp.Value)
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = start
		out.End = start.AddDate(0, 0, 1)
		if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
			end, err := parseDate(endProp.Value)
			if err != nil {
				return out, fmt.Errorf("DTEND: %w", err)
			}
			if end.After(start) {
				out.End = end
			}
		} else if dur, ok, err := durationProp(ve); err != nil {
			return out, err
		} else if ok && dur >= 24*time.Hour {
			out.End = start.Add(dur.Truncate(24 * time.Hour))
		}
	} else {
		// DTSTART / DTEND. We use the library's helpers for timezone logic.
		start, err := ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = floatIfNeeded(dtStartProp, start, floating)
		// Open-ended events are point events at their start.
		out.End = out.Start

		if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil {
			if isDateValue(endProp) {
				end, err := parseDate(endProp.Value)
				if err != nil {
					return out, fmt.Errorf("DTEND: %w", err)
				}
				out.End = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, out.Start.Location())
			} else {
				end, err := ve.GetEndAt()
				if err != nil {
					return out, fmt.Errorf("DTEND: %w", err)
				}
				out.End = floatIfNeeded(endProp, end, floating)
			}
		} else if dur, ok, err := durationProp(ve); err != nil {
			return out, err
		} else if ok {
			out.End = out.Start.Add(dur)
		}
		if out.End.Before(out.Start) {
			out.End = out.Start
		}
	}

	// RRULE (we only keep raw string here; expansion happens in expand.go).
	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = strings.TrimPrefix(strings.TrimSpace(rruleProp.Value), "RRULE:")
	}

	for _, prop := range ve.GetProperties("RDATE") {
		times, err := parseTimeList(prop, out.AllDay, floating)
		if err != nil {
			return out, fmt.Errorf("RDATE: %w", err)
		}
		out.RDates = append(out.RDates, times...)
	}

	// EXDATE (can appear multiple times, each with a comma separated list).
	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		times, err := parseTimeList(prop, out.AllDay, floating)
		if err != nil {
			return out, fmt.Errorf("EXDATE: %w", err)
		}
		out.ExDates = append(out.ExDates, times...)
	}

	// RECURRENCE-ID (overridden instance)
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		times, err := parseTimeList(ridProp, out.AllDay, floating)
		if err != nil || len(times) != 1 {
			return out, fmt.Errorf("RECURRENCE-ID: invalid value %q", ridProp.Value)
		}
		out.Recurrence = &times[0]
		out.IsOverride = true
	}

	return out, nil
}

// isDateValue reports whether a date/date-time property holds a DATE value:
// VALUE=DATE or no 'T' in the value.
func isDateValue(p *ical.IANAProperty) bool {
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

func tzidParam(p *ical.IANAProperty) string {
	if params := p.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			return strings.Trim(tzs[0], `"`)
		}
	}
	return ""
}

// floatIfNeeded re-anchors floating date-times (no TZID, no trailing Z),
// which the library resolves in time.Local, into the configured zone.
func floatIfNeeded(p *ical.IANAProperty, t time.Time, floating *time.Location) time.Time {
	if tzidParam(p) != "" || strings.HasSuffix(strings.TrimSpace(p.Value), "Z") {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, floating)
}

// parseDate parses an ICS DATE (YYYYMMDD) into UTC midnight.
func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if len(v) > 8 {
		v = v[:8]
	}
	return time.Parse("20060102", v)
}

// parseTimeList parses a comma separated DATE / DATE-TIME list honoring the
// property's VALUE and TZID parameters. Date-only values of all-day events
// become UTC midnights, matching ParsedEvent.Start.
func parseTimeList(p *ical.IANAProperty, allDay bool, floating *time.Location) ([]time.Time, error) {
	loc := floating
	if tz := tzidParam(p); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, err
		}
		loc = l
	}

	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var (
			t   time.Time
			err error
		)
		switch {
		case !strings.Contains(part, "T"):
			t, err = parseDate(part)
			if err == nil && !allDay {
				t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
			}
		case strings.HasSuffix(part, "Z"):
			t, err = time.Parse("20060102T150405Z", part)
		default:
			t, err = time.ParseInLocation("20060102T150405", part, loc)
		}
		if err != nil {
			return nil, err
		}
		if allDay {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		out = append(out, t)
	}
	return out, nil
}

func durationProp(ve *ical.VEvent) (time.Duration, bool, error) {
	p := ve.GetProperty("DURATION")
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return 0, false, nil
	}
	d, err := parseDuration(p.Value)
	if err != nil {
		return 0, false, fmt.Errorf("DURATION: %w", err)
	}
	return d, true, nil
}

// parseDuration parses an RFC 5545 dur-value such as P1D, PT1H30M or P2W.
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n, _ := strconv.Atoi(num)
		num = ""
		unit := time.Duration(n)
		switch {
		case r == 'W' && !inTime:
			total += unit * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += unit * 24 * time.Hour
		case r == 'H' && inTime:
			total += unit * time.Hour
		case r == 'M' && inTime:
			total += unit * time.Minute
		case r == 'S' && inTime:
			total += unit * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if neg {
		total = -total
	}
	return total, nil
}
