package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

// Render writes the run summary and the per-column missing counts.
func (r *Report) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Format.Header = text.FormatDefault
	t.AppendHeader(table.Row{"metric", "value"})

	t.AppendRow(table.Row{"file", r.Path})
	t.AppendRow(table.Row{"chunks", r.Chunks})
	t.AppendRow(table.Row{"rows read", humanize.Comma(r.RowsRead)})
	t.AppendRow(table.Row{"rows committed", humanize.Comma(r.RowsCommitted)})
	t.AppendRow(table.Row{"rows dropped", humanize.Comma(r.RowsDropped())})
	t.AppendRow(table.Row{"timestamp failures", humanize.Comma(r.Quality.TimestampFailures)})
	t.AppendRow(table.Row{"invalid values", humanize.Comma(r.Quality.InvalidTotal())})
	t.AppendRow(table.Row{"schema gaps", len(r.Gaps)})
	if len(r.UnavailableMetrics) > 0 {
		names := make([]string, len(r.UnavailableMetrics))
		for i, m := range r.UnavailableMetrics {
			names[i] = string(m)
		}
		t.AppendRow(table.Row{"metrics always null", strings.Join(names, ", ")})
	}
	if !r.Range.Start.IsZero() {
		t.AppendRow(table.Row{"time range", fmt.Sprintf("%s .. %s",
			r.Range.Start.Format(time.RFC3339), r.Range.End.Add(-time.Nanosecond).Format(time.RFC3339))})
	}
	if r.MirrorFailures > 0 {
		t.AppendRow(table.Row{"mirror failures", r.MirrorFailures})
	}
	if a := r.Aggregation; a != nil {
		t.AppendRow(table.Row{"hours aggregated", fmt.Sprintf("%d of %d", a.Written, a.Hours)})
		if len(a.Failed) > 0 {
			hours := make([]string, len(a.Failed))
			for i, he := range a.Failed {
				hours[i] = he.Hour.Format(time.RFC3339)
			}
			t.AppendRow(table.Row{"failed hours", strings.Join(hours, ", ")})
		}
	}
	t.AppendRow(table.Row{"duration", r.Duration.Round(time.Millisecond)})
	t.AppendRow(table.Row{"rows/s", humanize.Comma(int64(r.RowsPerSecond()))})
	t.Render()

	if len(r.Quality.Missing) == 0 {
		return
	}

	cols := make([]string, 0, len(r.Quality.Missing))
	for c, n := range r.Quality.Missing {
		if n > 0 {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return
	}
	sort.Slice(cols, func(i, j int) bool {
		a, b := r.Quality.Missing[cols[i]], r.Quality.Missing[cols[j]]
		if a != b {
			return a > b
		}
		return cols[i] < cols[j]
	})

	fmt.Fprintln(w)
	mt := table.NewWriter()
	mt.SetOutputMirror(w)
	mt.Style().Format.Header = text.FormatDefault
	mt.AppendHeader(table.Row{"field", "missing", "invalid"})
	for _, c := range cols {
		mt.AppendRow(table.Row{c, humanize.Comma(r.Quality.Missing[c]), humanize.Comma(r.Quality.Invalid[c])})
	}
	mt.Render()
}
