package section

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMarkers = DefaultMarkers()
	someLines   = []string{"📅 09:00–09:30 Standup", "🦷 14:00–15:00 Dentist"}
)

func TestMergeAppendsToNoteWithoutSection(t *testing.T) {
	doc := "# Monday\n\nSome notes."
	got := Merge(doc, someLines, testMarkers, Append)

	want := "# Monday\n\nSome notes.\n\n" +
		"<!-- calendar:begin -->\n" +
		"📅 09:00–09:30 Standup\n" +
		"🦷 14:00–15:00 Dentist\n" +
		"<!-- calendar:end -->\n"
	assert.Equal(t, want, got)
}

func TestMergeIntoEmptyDocument(t *testing.T) {
	got := Merge("", nil, testMarkers, Append)
	assert.Equal(t, "<!-- calendar:begin -->\n<!-- calendar:end -->\n", got)
}

func TestMergeReplacesExistingSection(t *testing.T) {
	doc := "before\n<!-- calendar:begin -->\nold line\n<!-- calendar:end -->\nafter\n"
	got := Merge(doc, []string{"new line"}, testMarkers, Append)
	assert.Equal(t, "before\n<!-- calendar:begin -->\nnew line\n<!-- calendar:end -->\nafter\n", got)
}

func TestMergeEmptyLinesKeepsMarkers(t *testing.T) {
	doc := "x\n<!-- calendar:begin -->\nold\n<!-- calendar:end -->\ny"
	got := Merge(doc, nil, testMarkers, Append)
	assert.Equal(t, "x\n<!-- calendar:begin -->\n<!-- calendar:end -->\ny", got)
}

func TestMergeIsIdempotent(t *testing.T) {
	docs := map[string]string{
		"empty":        "",
		"no section":   "# Title\nbody",
		"has section":  "a\n<!-- calendar:begin -->\nstale\n<!-- calendar:end -->\nb\n",
		"crlf":         "a\r\nb\r\n",
		"front matter": "---\ntags: [daily]\n---\n# Day\n",
	}

	for name, doc := range docs {
		for _, p := range []Placement{Append, Prepend} {
			t.Run(name+"/"+string(p), func(t *testing.T) {
				once := Merge(doc, someLines, testMarkers, p)
				twice := Merge(once, someLines, testMarkers, p)
				assert.Equal(t, once, twice)

				empty := Merge(once, nil, testMarkers, p)
				assert.Equal(t, empty, Merge(empty, nil, testMarkers, p))
			})
		}
	}
}

func TestMergePreservesOutsideContent(t *testing.T) {
	before := "# Journal\n\n- [ ] task\n  indented\ttab  \n"
	after := "\n## Notes\nTrailing text without newline"
	doc := before + "<!-- calendar:begin -->\nold\n<!-- calendar:end -->" + after

	got := Merge(doc, someLines, testMarkers, Append)
	start, end, ok := Bounds(got, testMarkers)
	require.True(t, ok)
	assert.Equal(t, before, got[:start])
	assert.Equal(t, after, got[end:])
}

func TestMergeUsesLastBeginBeforeFirstEnd(t *testing.T) {
	doc := "<!-- calendar:begin -->\nuser text\n<!-- calendar:begin -->\nold\n<!-- calendar:end -->\n"
	got := Merge(doc, []string{"new"}, testMarkers, Append)
	assert.Equal(t, "<!-- calendar:begin -->\nuser text\n<!-- calendar:begin -->\nnew\n<!-- calendar:end -->\n", got)
}

func TestMergeIgnoresOrphanEndMarker(t *testing.T) {
	doc := "<!-- calendar:end -->\nbody\n"
	got := Merge(doc, []string{"x"}, testMarkers, Append)
	assert.True(t, strings.HasPrefix(got, doc))
	assert.True(t, strings.HasSuffix(got, "<!-- calendar:begin -->\nx\n<!-- calendar:end -->\n"))
}

func TestMergeKeepsCRLF(t *testing.T) {
	doc := "line one\r\nline two\r\n"
	got := Merge(doc, []string{"a"}, testMarkers, Append)
	assert.Equal(t, "line one\r\nline two\r\n\r\n<!-- calendar:begin -->\r\na\r\n<!-- calendar:end -->\r\n", got)

	// Replacing keeps the end marker's own line break intact.
	again := Merge(got, []string{"b"}, testMarkers, Append)
	assert.Equal(t, strings.Replace(got, "\r\na\r\n", "\r\nb\r\n", 1), again)
}

func TestMergePrepend(t *testing.T) {
	got := Merge("# Day\n", []string{"x"}, testMarkers, Prepend)
	assert.Equal(t, "<!-- calendar:begin -->\nx\n<!-- calendar:end -->\n\n# Day\n", got)

	got = Merge("---\ntags: [daily]\n---\n# Day\n", []string{"x"}, testMarkers, Prepend)
	assert.Equal(t, "---\ntags: [daily]\n---\n<!-- calendar:begin -->\nx\n<!-- calendar:end -->\n\n# Day\n", got)
}

func TestMarkersValidate(t *testing.T) {
	assert.NoError(t, DefaultMarkers().Validate())

	for _, m := range []Markers{
		{Begin: "", End: "end"},
		{Begin: "same", End: "same"},
		{Begin: "two\nlines", End: "end"},
	} {
		assert.ErrorIs(t, m.Validate(), ErrInvalidMarkers)
	}
}

func TestParsePlacement(t *testing.T) {
	p, err := ParsePlacement("")
	require.NoError(t, err)
	assert.Equal(t, Append, p)

	p, err = ParsePlacement("Prepend")
	require.NoError(t, err)
	assert.Equal(t, Prepend, p)

	_, err = ParsePlacement("middle")
	assert.Error(t, err)
}
