package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calnotes/internal/model"
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func weeklyMaster() ParsedEvent {
	return ParsedEvent{
		UID:      "weekly",
		Summary:  "Standup",
		Location: "Room 1",
		Start:    utc(2024, 6, 3, 9, 0),
		End:      utc(2024, 6, 3, 9, 30),
		RawRRule: "FREQ=WEEKLY;COUNT=6",
		ExDates:  []time.Time{utc(2024, 6, 17, 9, 0)},
	}
}

func override(rid, start time.Time, summary string) ParsedEvent {
	return ParsedEvent{
		UID:        "weekly",
		Summary:    summary,
		Start:      start,
		End:        start.Add(30 * time.Minute),
		Recurrence: &rid,
		IsOverride: true,
	}
}

func starts(occs []model.Occurrence) []time.Time {
	out := make([]time.Time, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.Start.UTC())
	}
	return out
}

func TestExpandAllWeeklyWithExdateAndOverride(t *testing.T) {
	events := []ParsedEvent{
		weeklyMaster(),
		override(utc(2024, 6, 10, 9, 0), utc(2024, 6, 10, 11, 0), "Standup (moved)"),
	}

	occs, warnings := ExpandAll("work", events, utcWindow("2024-06-01", "2024-07-01"), RRuleExpander{}, 0)
	require.Empty(t, warnings)

	assert.Equal(t, []time.Time{
		utc(2024, 6, 3, 9, 0),
		utc(2024, 6, 10, 11, 0),
		utc(2024, 6, 24, 9, 0),
	}, starts(occs))

	// Non-time fields come from the master, except for the override.
	assert.Equal(t, "Standup", occs[0].Title)
	assert.Equal(t, "Room 1", occs[0].Location)
	assert.Equal(t, "Standup (moved)", occs[1].Title)
	assert.Equal(t, 30*time.Minute, occs[2].End.Sub(occs[2].Start))
}

func TestExpandAllCancelledOverride(t *testing.T) {
	cancelled := override(utc(2024, 6, 24, 9, 0), utc(2024, 6, 24, 9, 0), "Standup")
	cancelled.Cancelled = true

	occs, _ := ExpandAll("work", []ParsedEvent{weeklyMaster(), cancelled}, utcWindow("2024-06-01", "2024-07-01"), RRuleExpander{}, 0)
	assert.Equal(t, []time.Time{
		utc(2024, 6, 3, 9, 0),
		utc(2024, 6, 10, 9, 0),
	}, starts(occs))
}

func TestExpandAllHighestSequenceOverrideWins(t *testing.T) {
	newer := override(utc(2024, 6, 10, 9, 0), utc(2024, 6, 10, 11, 0), "Standup (v2)")
	newer.Seq = 2
	older := override(utc(2024, 6, 10, 9, 0), utc(2024, 6, 10, 10, 0), "Standup (v1)")
	older.Seq = 1

	occs, _ := ExpandAll("work", []ParsedEvent{weeklyMaster(), newer, older}, utcWindow("2024-06-05", "2024-06-15"), RRuleExpander{}, 0)
	require.Len(t, occs, 1)
	assert.Equal(t, "Standup (v2)", occs[0].Title)
	assert.Equal(t, utc(2024, 6, 10, 11, 0), occs[0].Start.UTC())
}

func TestExpandAllOverrideMovedIntoWindow(t *testing.T) {
	moved := override(utc(2024, 6, 24, 9, 0), utc(2024, 6, 12, 15, 0), "Standup (early)")

	occs, _ := ExpandAll("work", []ParsedEvent{weeklyMaster(), moved}, utcWindow("2024-06-05", "2024-06-20"), RRuleExpander{}, 0)
	assert.Equal(t, []time.Time{
		utc(2024, 6, 10, 9, 0),
		utc(2024, 6, 12, 15, 0),
	}, starts(occs))
}

func TestExpandAllWindowIsHalfOpen(t *testing.T) {
	master := ParsedEvent{
		UID:      "daily",
		Start:    utc(2024, 6, 1, 0, 0),
		End:      utc(2024, 6, 1, 1, 0),
		RawRRule: "FREQ=DAILY",
	}

	occs, _ := ExpandAll("s", []ParsedEvent{master}, utcWindow("2024-06-05", "2024-06-08"), RRuleExpander{}, 0)
	assert.Equal(t, []time.Time{
		utc(2024, 6, 5, 0, 0),
		utc(2024, 6, 6, 0, 0),
		utc(2024, 6, 7, 0, 0),
	}, starts(occs))
}

func TestExpandAllAllDayRecurring(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	master := ParsedEvent{
		UID:      "trash",
		Summary:  "Trash day",
		AllDay:   true,
		Start:    utc(2024, 6, 1, 0, 0),
		End:      utc(2024, 6, 2, 0, 0),
		RawRRule: "FREQ=DAILY;COUNT=3",
	}
	w := model.Window{
		Start: time.Date(2024, 6, 1, 0, 0, 0, 0, ny),
		End:   time.Date(2024, 6, 10, 0, 0, 0, 0, ny),
	}

	occs, _ := ExpandAll("home", []ParsedEvent{master}, w, RRuleExpander{}, 0)
	require.Len(t, occs, 3)
	for i, occ := range occs {
		assert.True(t, occ.AllDay)
		assert.Equal(t, utc(2024, 6, 1+i, 0, 0), occ.Start)
	}
}

func TestExpandAllSingleEventsUseOverlap(t *testing.T) {
	events := []ParsedEvent{
		{UID: "inside", Start: utc(2024, 6, 5, 9, 0), End: utc(2024, 6, 5, 10, 0)},
		{UID: "before", Start: utc(2024, 5, 1, 9, 0), End: utc(2024, 5, 1, 10, 0)},
		{UID: "spanning-in", AllDay: true, Start: utc(2024, 5, 30, 0, 0), End: utc(2024, 6, 3, 0, 0)},
		{UID: "cancelled", Cancelled: true, Start: utc(2024, 6, 6, 9, 0), End: utc(2024, 6, 6, 10, 0)},
		{UID: "point-at-end", Start: utc(2024, 6, 10, 0, 0), End: utc(2024, 6, 10, 0, 0)},
	}

	occs, _ := ExpandAll("s", events, utcWindow("2024-06-01", "2024-06-10"), RRuleExpander{}, 0)
	var uids []string
	for _, o := range occs {
		uids = append(uids, o.UID)
	}
	assert.Equal(t, []string{"spanning-in", "inside"}, uids)
}

func TestExpandAllCapsOccurrences(t *testing.T) {
	master := ParsedEvent{
		UID:      "noisy",
		Start:    utc(2024, 6, 1, 8, 0),
		End:      utc(2024, 6, 1, 8, 0),
		RawRRule: "FREQ=HOURLY",
	}

	occs, warnings := ExpandAll("s", []ParsedEvent{master}, utcWindow("2024-06-01", "2024-06-02"), RRuleExpander{}, 5)
	assert.Len(t, occs, 5)
	require.Len(t, warnings, 1)
	assert.Equal(t, "noisy", warnings[0].UID)
}

func TestExpandAllInvalidRRuleWarns(t *testing.T) {
	master := ParsedEvent{
		UID:      "bad-rule",
		Start:    utc(2024, 6, 1, 8, 0),
		End:      utc(2024, 6, 1, 9, 0),
		RawRRule: "FREQ=SOMETIMES",
	}
	ok := ParsedEvent{UID: "ok", Start: utc(2024, 6, 2, 8, 0), End: utc(2024, 6, 2, 9, 0)}

	occs, warnings := ExpandAll("s", []ParsedEvent{master, ok}, utcWindow("2024-06-01", "2024-06-10"), RRuleExpander{}, 0)
	require.Len(t, occs, 1)
	assert.Equal(t, "ok", occs[0].UID)
	require.Len(t, warnings, 1)
	assert.Equal(t, "bad-rule", warnings[0].UID)
}

func TestRRuleExpanderIncludesDTStartAndRDates(t *testing.T) {
	// DTSTART is a Monday, the rule only generates Wednesdays.
	master := ParsedEvent{
		UID:      "odd-start",
		Start:    utc(2024, 6, 3, 9, 0),
		End:      utc(2024, 6, 3, 10, 0),
		RawRRule: "FREQ=WEEKLY;BYDAY=WE;COUNT=2",
		RDates:   []time.Time{utc(2024, 6, 8, 9, 0)},
	}

	instances, err := RRuleExpander{}.Expand(master, utcWindow("2024-06-01", "2024-06-30"))
	require.NoError(t, err)

	var got []time.Time
	for _, in := range instances {
		got = append(got, in.Start.UTC())
		assert.Equal(t, time.Hour, in.End.Sub(in.Start))
	}
	assert.Equal(t, []time.Time{
		utc(2024, 6, 3, 9, 0),
		utc(2024, 6, 5, 9, 0),
		utc(2024, 6, 8, 9, 0),
		utc(2024, 6, 12, 9, 0),
	}, got)
}

type fixedExpander struct {
	calls int
}

func (f *fixedExpander) Expand(master ParsedEvent, _ model.Window) ([]Instance, error) {
	f.calls++
	return []Instance{{Start: master.Start.Add(time.Hour), End: master.Start.Add(2 * time.Hour)}}, nil
}

func TestExpandAllUsesInjectedExpander(t *testing.T) {
	exp := &fixedExpander{}
	master := ParsedEvent{UID: "r", Start: utc(2024, 6, 3, 9, 0), End: utc(2024, 6, 3, 10, 0), RawRRule: "FREQ=DAILY"}
	single := ParsedEvent{UID: "s", Start: utc(2024, 6, 4, 9, 0), End: utc(2024, 6, 4, 10, 0)}

	occs, _ := ExpandAll("s", []ParsedEvent{master, single}, utcWindow("2024-06-01", "2024-06-30"), exp, 0)
	assert.Equal(t, 1, exp.calls)
	assert.Equal(t, []time.Time{utc(2024, 6, 3, 10, 0), utc(2024, 6, 4, 9, 0)}, starts(occs))
}
