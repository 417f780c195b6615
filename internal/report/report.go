// Package report renders run results for the terminal.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/maloquacious/schemactl/internal/pgexec"
	"github.com/maloquacious/schemactl/internal/plan"
	"github.com/maloquacious/schemactl/internal/postgrest"
	"github.com/maloquacious/schemactl/internal/runner"
	"github.com/maloquacious/schemactl/internal/store"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// Summary prints one row per step followed by the tally.
func Summary(w io.Writer, rep *runner.Report) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("plan %s (%s)", rep.Plan, rep.Mode))
	t.AppendHeader(table.Row{"#", "Step", "Status", "Took", "Error"})
	for _, r := range rep.Results {
		var msg string
		if r.Err != nil {
			msg = oneLine(r.Err.Error(), 80)
		}
		t.AppendRow(table.Row{fmt.Sprintf("%04d", r.Seq), r.Description, string(r.Status), r.Duration.Round(time.Millisecond), msg})
	}
	t.Render()

	switch {
	case rep.DryRun:
		fmt.Fprintf(w, "dry run: %d steps planned, nothing executed\n", len(rep.Results))
	default:
		fmt.Fprintf(w, "succeeded: %d  failed: %d\n", rep.Succeeded(), rep.Failed())
		if rep.OK() {
			fmt.Fprintln(w, "schema updated")
		} else if rep.Succeeded() > 0 {
			fmt.Fprintln(w, "partially applied; check the errors above")
		} else {
			fmt.Fprintln(w, "nothing applied; check connectivity and credentials")
		}
	}
}

// Columns prints the columns of table, flagging expected ones that are missing.
func Columns(w io.Writer, tableName string, cols []pgexec.Column, missing []string) {
	t := newTable(w)
	t.SetTitle("columns of " + tableName)
	t.AppendHeader(table.Row{"Column", "Type", "Nullable", "Default"})
	for _, c := range cols {
		def := ""
		if c.Default.Valid {
			def = c.Default.String
		}
		t.AppendRow(table.Row{c.Name, c.DataType, c.IsNullable, def})
	}
	t.Render()
	if len(missing) > 0 {
		fmt.Fprintf(w, "missing columns: %s\n", strings.Join(missing, ", "))
	}
}

// Seeds prints the outcome of a seed run.
func Seeds(w io.Writer, results []postgrest.SeedResult) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Table", "Row", "Result"})
	for _, r := range results {
		res := "inserted"
		if r.Err != nil {
			res = oneLine(r.Err.Error(), 80)
		}
		t.AppendRow(table.Row{r.Table, r.Label, res})
	}
	t.Render()
	failed := postgrest.SeedFailures(results)
	fmt.Fprintf(w, "inserted: %d  failed: %d\n", len(results)-failed, failed)
}

// Findings prints lint findings, or a clean bill of health.
func Findings(w io.Writer, planName string, findings []plan.Finding) {
	if len(findings) == 0 {
		fmt.Fprintf(w, "plan %s: no findings\n", planName)
		return
	}
	t := newTable(w)
	t.SetTitle("plan " + planName)
	t.AppendHeader(table.Row{"#", "Step", "Rule", "Message"})
	for _, f := range findings {
		t.AppendRow(table.Row{fmt.Sprintf("%04d", f.Seq), f.Step, f.Rule, f.Message})
	}
	t.Render()
}

// Steps prints the steps of a plan with their descriptions.
func Steps(w io.Writer, p *plan.Plan, withSQL bool) {
	fmt.Fprintf(w, "%s: %s\n", p.Name, p.Description)
	for _, st := range p.Steps {
		fmt.Fprintf(w, "  %04d  %s\n", st.Seq, st.Description)
		if withSQL {
			for _, line := range strings.Split(st.SQL, "\n") {
				fmt.Fprintf(w, "        %s\n", line)
			}
		}
	}
}

// History prints journal runs with times relative to now.
func History(w io.Writer, runs []store.Run, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Plan", "Mode", "Transport", "When", "Took", "OK", "Failed"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			shortID(r.ID), r.Plan, r.Mode, r.Transport,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Succeeded, r.Failed,
		})
	}
	t.Render()
}

// RunSteps prints the recorded steps of one run.
func RunSteps(w io.Writer, run store.Run, steps []store.StepRecord) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("run %s: plan %s (%s)", shortID(run.ID), run.Plan, run.Mode))
	t.AppendHeader(table.Row{"#", "Step", "Status", "Took", "Error"})
	for _, st := range steps {
		t.AppendRow(table.Row{fmt.Sprintf("%04d", st.Seq), st.Name, st.Status, time.Duration(st.DurationMS) * time.Millisecond, oneLine(st.Error, 80)})
	}
	t.Render()
	fmt.Fprintf(w, "succeeded: %d  failed: %d\n", run.Succeeded, run.Failed)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > max {
		return text.Trim(s, max-3) + "..."
	}
	return s
}
