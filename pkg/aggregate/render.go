package aggregate

import (
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// Render writes the run summary, followed by one row per failed hour.
func (r *Result) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"metric", "value"})
	t.AppendRow(table.Row{"range", describeRange(r.Range)})
	t.AppendRow(table.Row{"readings", humanize.Comma(r.Readings)})
	t.AppendRow(table.Row{"hours", r.Hours})
	t.AppendRow(table.Row{"written", r.Written})
	t.AppendRow(table.Row{"pruned", r.Pruned})
	t.AppendRow(table.Row{"failed", len(r.Failed)})
	t.AppendRow(table.Row{"duration", r.Duration.Round(time.Millisecond)})
	t.Render()

	if len(r.Failed) == 0 {
		return
	}
	f := table.NewWriter()
	f.SetOutputMirror(w)
	f.Style().Format.Header = text.FormatDefault
	f.AppendHeader(table.Row{"failed hour", "attempts", "error"})
	for _, he := range r.Failed {
		f.AppendRow(table.Row{he.Hour.Format(time.RFC3339), he.Attempts, he.Err})
	}
	f.Render()
}
