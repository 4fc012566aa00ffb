package validate

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

const nullValue = "null"

// Render writes the report as plain tables.
func (r *Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"check", "result"})
	rows := []table.Row{
		{"file", r.Path},
		{"estimated rows", humanize.Comma(r.Estimate.Rows)},
		{"chunks sampled", fmt.Sprintf("%d of %d", len(r.Sampled), r.TotalChunks)},
		{"rows sampled", humanize.Comma(r.RowsSampled)},
		{"malformed lines", humanize.Comma(r.Malformed)},
		{"timestamp_issues", humanize.Comma(r.TimestampIssues)},
		{"schema gaps", listOrNone(r.Gaps)},
		{"unmapped columns", len(r.Unmapped)},
		{"verdict", strings.ToUpper(string(r.Verdict))},
	}
	for _, row := range rows {
		t.AppendRow(row)
	}
	t.Render()

	if len(r.BadTimestamps) > 0 {
		fmt.Fprintf(w, "\nUnparsable timestamps (first %d): %s\n", len(r.BadTimestamps), strings.Join(r.BadTimestamps, ", "))
	}

	if len(r.TopMissing) > 0 {
		fmt.Fprintln(w)
		mt := table.NewWriter()
		mt.SetOutputMirror(w)
		mt.Style().Format.Header = text.FormatDefault
		mt.AppendHeader(table.Row{"column", "missing", "missing %"})
		for _, c := range r.TopMissing {
			mt.AppendRow(table.Row{c.Column, humanize.Comma(c.Missing), percent(c.Missing, r.RowsSampled)})
		}
		mt.Render()
	}

	if len(r.Profiles) > 0 {
		fmt.Fprintln(w)
		pt := table.NewWriter()
		pt.SetOutputMirror(w)
		pt.Style().Format.Header = text.FormatDefault
		pt.AppendHeader(table.Row{"column", "count", "missing", "non-numeric", "min", "max", "mean"})
		for _, p := range r.Profiles {
			pt.AppendRow(table.Row{p.Column, p.Count, p.Missing, p.NonNumeric, number(p.Min), number(p.Max), number(p.Mean)})
		}
		pt.Render()
	}
}

func listOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}

func percent(n, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/float64(total)*100)
}

// number formats a nullable statistic; go-pretty does not expect nil values.
func number(v *float64) string {
	if v == nil {
		return nullValue
	}
	return fmt.Sprintf("%.4g", *v)
}
