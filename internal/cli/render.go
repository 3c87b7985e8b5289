package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"calnotes/internal/model"
	"calnotes/internal/state"
	"calnotes/internal/syncer"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Width(10)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dangerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	dateStyle = lipgloss.NewStyle().Bold(true)
)

func row(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label), value)
}

// renderReport prints the outcome of a sync run.
func renderReport(w io.Writer, rep syncer.Report) {
	took := rep.Finished.Sub(rep.Started).Round(time.Millisecond)
	if rep.Finished.IsZero() {
		took = 0
	}
	status := okStyle.Render("✓ Sync finished")
	if !rep.OK() {
		status = warningStyle.Render("⚠ Sync finished with failures")
	}
	fmt.Fprintf(w, "%s %s\n", status, dimStyle.Render("in "+took.String()))

	sources := fmt.Sprintf("%d", rep.Sources)
	if n := len(rep.Failures); n > 0 {
		sources += dangerStyle.Render(fmt.Sprintf(" (%d failed)", n))
	}
	row(w, "sources", sources)

	lines := fmt.Sprintf("%d from %d occurrences", rep.Lines, rep.Occurrences)
	if rep.RangeFirst != (model.Date{}) {
		lines += fmt.Sprintf(", %s to %s", rep.RangeFirst, rep.RangeLast)
	}
	row(w, "lines", lines)
	row(w, "notes", fmt.Sprintf("%d written, %d unchanged, %d skipped",
		len(rep.Written), len(rep.Unchanged), len(rep.Skipped)))

	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  %s %v\n", dangerStyle.Render("✗"), f.Err)
	}
	for _, we := range rep.WriteErrors {
		fmt.Fprintf(w, "  %s %v\n", dangerStyle.Render("✗"), we)
	}
	for _, warn := range rep.Warnings {
		fmt.Fprintf(w, "  %s %v\n", warningStyle.Render("⚠"), warn)
	}
}

// renderRuns prints recorded runs, newest first.
func renderRuns(w io.Writer, runs []state.Run, loc *time.Location) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Recent runs"))
	for _, r := range runs {
		mark := okStyle.Render("✓")
		if !r.OK() {
			mark = dangerStyle.Render("✗")
		}
		took := r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)
		fmt.Fprintf(w, "%s %s  %d sources, %d failed  %d written, %d unchanged, %d skipped  (%s)\n",
			mark,
			r.StartedAt.In(loc).Format("2006-01-02 15:04"),
			r.Sources, r.FailedSources,
			r.Written, r.Unchanged, r.Skipped,
			took,
		)
		for _, f := range r.Failures {
			style := dangerStyle
			if f.Kind == state.KindWarning {
				style = warningStyle
			}
			fmt.Fprintf(w, "    %s %s: %s\n", style.Render(f.Kind), f.Subject, f.Message)
		}
	}
}

// renderDates prints a DateGroup the way it would land in notes.
func renderDates(w io.Writer, group *model.DateGroup) {
	dates := group.Dates()
	if len(dates) == 0 {
		fmt.Fprintln(w, "No events in the window.")
		return
	}
	for i, d := range dates {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, dateStyle.Render(d.String()+" "+d.In(time.UTC).Weekday().String()[:3]))
		texts := group.Texts(d)
		if len(texts) == 0 {
			fmt.Fprintln(w, "  (empty)")
			continue
		}
		fmt.Fprintln(w, "  "+strings.Join(texts, "\n  "))
	}
}
