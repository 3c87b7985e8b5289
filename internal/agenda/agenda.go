// Package agenda classifies occurrences and renders them as single note
// lines.
package agenda

import (
	"net/url"
	"regexp"
	"strings"

	"calnotes/internal/model"
)

const (
	// DefaultEmoji is used when neither a rule nor the source provides one.
	DefaultEmoji = "📅"
	// UntitledPlaceholder replaces empty event titles.
	UntitledPlaceholder = "(untitled event)"
	// AllDayLabel replaces the time range for full-day segments.
	AllDayLabel = "All day"

	clockLayout = "15:04"
)

// Hosts whose links in an event description are treated as the meeting link.
var meetingHosts = []string{"zoom.us", "meet.google.com", "teams.microsoft.com"}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"()]+`)

// Formatter turns (occurrence, source, segment) triples into lines. The
// zero value uses DefaultEmoji and no keyword rules.
type Formatter struct {
	DefaultEmoji string
	Rules        Rules
}

// Emoji classifies occ. Keyword rules only apply to keyword-sensitive
// sources; otherwise the source emoji, then the global default, is used.
func (f Formatter) Emoji(occ model.Occurrence, src model.Source) string {
	if src.KeywordSensitive {
		if e, ok := f.Rules.Classify(occ.Title); ok {
			return e
		}
	}
	if src.Emoji != "" {
		return src.Emoji
	}
	if f.DefaultEmoji != "" {
		return f.DefaultEmoji
	}
	return DefaultEmoji
}

// Line renders one segment of occ as a FormattedLine:
//
//	<emoji> <HH:MM–HH:MM | All day> <title>[ (link)][ `label`]
func (f Formatter) Line(occ model.Occurrence, src model.Source, seg model.Segment) model.FormattedLine {
	parts := []string{f.Emoji(occ, src), TimeRange(occ, seg), Title(occ.Title)}
	if link := Link(occ); link != "" {
		parts = append(parts, "("+link+")")
	}
	if label := singleLine(src.Label); label != "" {
		parts = append(parts, "`"+label+"`")
	}

	return model.FormattedLine{
		Date:     seg.Date,
		Text:     strings.Join(parts, " "),
		AllDay:   seg.FullDay,
		Start:    seg.Start,
		Priority: src.Priority,
		Source:   src.Name,
	}
}

// TimeRange renders the segment's clock range in its own location. A
// zero-duration occurrence renders just its start time.
func TimeRange(occ model.Occurrence, seg model.Segment) string {
	if occ.AllDay || seg.FullDay {
		return AllDayLabel
	}
	start := seg.Start.Format(clockLayout)
	if !occ.End.After(occ.Start) {
		return start
	}
	end := seg.End.Format(clockLayout)
	if seg.EndsAtMidnight {
		end = "24:00"
	}
	return start + "–" + end
}

// Title returns a single-line title, or the placeholder when empty.
func Title(title string) string {
	if t := singleLine(title); t != "" {
		return t
	}
	return UntitledPlaceholder
}

// Link picks the link shown after the title: a URL in the location, then a
// meeting link in the description, then the event URL property.
func Link(occ model.Occurrence) string {
	if u := firstURL(occ.Location, nil); u != "" {
		return u
	}
	if u := firstURL(occ.Description, meetingHosts); u != "" {
		return u
	}
	return firstURL(occ.URL, nil)
}

// firstURL returns the first well-formed http(s) URL in s. With hosts set,
// only URLs on one of those hosts (or their subdomains) qualify.
func firstURL(s string, hosts []string) string {
	for _, cand := range urlPattern.FindAllString(s, -1) {
		cand = strings.TrimRight(cand, ".,;:!?'")
		u, err := url.Parse(cand)
		if err != nil || u.Host == "" {
			continue
		}
		if hosts == nil || hostMatches(u.Hostname(), hosts) {
			return cand
		}
	}
	return ""
}

func hostMatches(host string, hosts []string) bool {
	host = strings.ToLower(host)
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
