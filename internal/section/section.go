// Package section patches the marker-delimited calendar section of a note.
//
// A note is treated as opaque text split into three regions: everything
// before the begin marker line, the managed section (begin through end
// marker line), and everything after. Only the managed section is ever
// rewritten.
package section

import (
	"errors"
	"fmt"
	"strings"
)

// Default marker lines.
const (
	DefaultBegin = "<!-- calendar:begin -->"
	DefaultEnd   = "<!-- calendar:end -->"
)

// Placement controls where a section is inserted into a note without one.
type Placement string

const (
	Append  Placement = "append"
	Prepend Placement = "prepend"
)

// ParsePlacement maps a config value to a Placement. Empty means Append.
func ParsePlacement(s string) (Placement, error) {
	switch p := Placement(strings.ToLower(strings.TrimSpace(s))); p {
	case "", Append:
		return Append, nil
	case Prepend:
		return Prepend, nil
	default:
		return "", fmt.Errorf("unknown section placement %q", s)
	}
}

// ErrInvalidMarkers is returned by Markers.Validate.
var ErrInvalidMarkers = errors.New("invalid section markers")

// Markers are the literal begin/end sentinel lines.
type Markers struct {
	Begin string
	End   string
}

// DefaultMarkers returns the default marker pair.
func DefaultMarkers() Markers {
	return Markers{Begin: DefaultBegin, End: DefaultEnd}
}

// Validate checks that both markers are non-empty, single-line and
// distinct.
func (m Markers) Validate() error {
	b, e := strings.TrimSpace(m.Begin), strings.TrimSpace(m.End)
	switch {
	case b == "" || e == "":
		return fmt.Errorf("%w: begin and end must be set", ErrInvalidMarkers)
	case strings.ContainsAny(m.Begin+m.End, "\r\n"):
		return fmt.Errorf("%w: markers must be single lines", ErrInvalidMarkers)
	case b == e:
		return fmt.Errorf("%w: begin and end must differ", ErrInvalidMarkers)
	}
	return nil
}

// Render returns the managed section for lines, without a trailing line
// break.
func Render(lines []string, m Markers, newline string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(m.Begin))
	b.WriteString(newline)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString(newline)
	}
	b.WriteString(strings.TrimSpace(m.End))
	return b.String()
}

// Bounds locates the managed section in content: the last begin marker line
// preceding the first end marker line that follows a begin marker. start
// is the offset of the begin line, end the offset just past the end marker
// text, before its line break.
func Bounds(content string, m Markers) (start, end int, ok bool) {
	begin, stop := strings.TrimSpace(m.Begin), strings.TrimSpace(m.End)
	beginAt := -1

	off := 0
	for off <= len(content) {
		lineEnd := len(content)
		if i := strings.IndexByte(content[off:], '\n'); i >= 0 {
			lineEnd = off + i
		}
		raw := strings.TrimSuffix(content[off:lineEnd], "\r")

		switch strings.TrimSpace(raw) {
		case begin:
			beginAt = off
		case stop:
			if beginAt >= 0 {
				return beginAt, off + len(raw), true
			}
		}

		if lineEnd == len(content) {
			break
		}
		off = lineEnd + 1
	}
	return 0, 0, false
}

// Merge returns content with its managed section replaced by lines. When
// content has no section one is inserted according to placement. Content
// outside the section is preserved byte for byte, and an empty lines slice
// still yields the marker pair.
//
// Merge is idempotent: merging the same lines into its own output returns
// the output unchanged.
func Merge(content string, lines []string, m Markers, placement Placement) string {
	newline := "\n"
	if strings.Contains(content, "\r\n") {
		newline = "\r\n"
	}
	block := Render(lines, m, newline)

	if start, end, ok := Bounds(content, m); ok {
		return content[:start] + block + content[end:]
	}

	if content == "" {
		return block + newline
	}

	if placement == Prepend {
		head, rest := splitFrontMatter(content)
		if rest == "" {
			return head + block + newline
		}
		return head + block + newline + newline + rest
	}

	out := content
	if !strings.HasSuffix(out, "\n") {
		out += newline
	}
	return out + newline + block + newline
}

// splitFrontMatter separates a leading YAML front matter block ("---" lines)
// so prepended sections land after it.
func splitFrontMatter(content string) (head, rest string) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return "", content
	}
	first := strings.IndexByte(content, '\n') + 1
	off := first
	for off < len(content) {
		lineEnd := len(content)
		next := len(content)
		if i := strings.IndexByte(content[off:], '\n'); i >= 0 {
			lineEnd = off + i
			next = lineEnd + 1
		}
		if strings.TrimSpace(content[off:lineEnd]) == "---" {
			head = content[:next]
			if next == len(content) && !strings.HasSuffix(head, "\n") {
				head += "\n"
			}
			return head, content[next:]
		}
		off = next
	}
	return "", content
}
