// Package validate samples a sensor file and reports its data quality
// without writing anything to storage.
package validate

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/schema"
	"github.com/nicktill/biogas-etl/pkg/source"
	"github.com/nicktill/biogas-etl/pkg/transform"
)

// Verdict is the overall outcome of a validation run.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
)

// Options controls sampling.
type Options struct {
	ChunkSize    int
	SampleChunks int
	TopN         int
	// Profile enables the per-column numeric profile.
	Profile bool
}

func (o *Options) defaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = config.DefaultChunkSize
	}
	if o.SampleChunks <= 0 {
		o.SampleChunks = config.DefaultSampleChunks
	}
	if o.TopN <= 0 {
		o.TopN = config.DefaultTopMissing
	}
}

// ColumnCount is a header column and its missing-value count.
type ColumnCount struct {
	Column  string
	Missing int64
}

// ColumnProfile describes the values of one column in the sample. Min, Max
// and Mean are nil when no value parsed as a finite number.
type ColumnProfile struct {
	Column     string
	Count      int64
	Missing    int64
	NonNumeric int64
	Min        *float64
	Max        *float64
	Mean       *float64

	sum, min, max float64
	n             int64
}

func (p *ColumnProfile) observe(s string) {
	p.Count++
	if source.IsMissing(s) {
		p.Missing++
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		p.NonNumeric++
		return
	}
	if p.n == 0 || v < p.min {
		p.min = v
	}
	if p.n == 0 || v > p.max {
		p.max = v
	}
	p.sum += v
	p.n++
}

func (p *ColumnProfile) finish() {
	if p.n == 0 {
		return
	}
	lo, hi, mean := p.min, p.max, p.sum/float64(p.n)
	p.Min, p.Max, p.Mean = &lo, &hi, &mean
}

// Report is the result of validating one file.
type Report struct {
	Path        string
	Estimate    source.Estimate
	TotalChunks int
	Sampled     []int

	RowsSampled     int64
	Malformed       int64
	TimestampIssues int64
	BadTimestamps   []string
	Invalid         map[string]int64

	// Missing counts missing values per header column over the sample.
	Missing    map[string]int64
	TopMissing []ColumnCount

	Gaps               []string
	Unmapped           []string
	UnavailableMetrics []schema.Metric

	Profiles []ColumnProfile

	Verdict  Verdict
	Duration time.Duration
}

// SampleIndexes returns up to n chunk indexes evenly spaced over total
// chunks, always starting at 0.
func SampleIndexes(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	if n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i * total / n
	}
	return out
}

// Validate estimates the file's size, reads only the sampled chunks and
// reports what it found. Only a missing input or an unreadable header is an
// error; data problems are reported.
func Validate(ctx context.Context, path string, opts Options) (*Report, error) {
	opts.defaults()
	start := time.Now()

	est, err := source.EstimateRows(path, config.DefaultEstimateLines)
	if err != nil {
		return nil, err
	}

	rd, err := source.Open(path, opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	header := rd.Header()
	rd.Close()

	desc, err := schema.Resolve(header)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Path:               path,
		Estimate:           est,
		TotalChunks:        est.Chunks(opts.ChunkSize),
		Invalid:            make(map[string]int64),
		Missing:            make(map[string]int64, len(header)),
		Gaps:               desc.Gaps,
		Unmapped:           desc.Unmapped,
		UnavailableMetrics: desc.UnavailableMetrics(),
	}
	rep.Sampled = SampleIndexes(rep.TotalChunks, opts.SampleChunks)

	log.Printf("🚀 Validating %s (~%s rows, %s), sampling %d of %d chunks",
		path, humanize.Comma(est.Rows), humanize.Bytes(uint64(est.FileSize)), len(rep.Sampled), rep.TotalChunks)

	var profiles []ColumnProfile
	if opts.Profile {
		profiles = make([]ColumnProfile, len(header))
		for i, h := range header {
			profiles[i].Column = h
		}
	}

	tr := transform.New(desc)
	stats := transform.NewStats()

	for _, idx := range rep.Sampled {
		chunk, err := source.ReadChunkAt(ctx, path, est.Offset(idx, opts.ChunkSize), idx, opts.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", idx, err)
		}

		rep.RowsSampled += int64(chunk.Len())
		rep.Malformed += int64(chunk.Malformed)

		for _, row := range chunk.Rows {
			for i, col := range header {
				v := source.Field(row, i)
				if source.IsMissing(v) {
					rep.Missing[col]++
				}
				if profiles != nil && i != desc.TimestampIndex {
					profiles[i].observe(v)
				}
			}
		}

		_, s := tr.Transform(chunk.Rows)
		stats.Merge(s)
	}

	rep.TimestampIssues = stats.TimestampFailures
	rep.BadTimestamps = stats.BadTimestamps
	rep.Invalid = stats.Invalid
	rep.TopMissing = topMissing(rep.Missing, opts.TopN)

	for i := range profiles {
		if i == desc.TimestampIndex {
			continue
		}
		profiles[i].finish()
		rep.Profiles = append(rep.Profiles, profiles[i])
	}

	rep.Verdict = VerdictPass
	if rep.TimestampIssues > 0 {
		rep.Verdict = VerdictWarn
	}
	rep.Duration = time.Since(start)

	if rep.Verdict == VerdictWarn {
		log.Printf("⚠️  %s timestamp issues in %s sampled rows", humanize.Comma(rep.TimestampIssues), humanize.Comma(rep.RowsSampled))
	} else {
		log.Printf("✅ Sampled %s rows, no timestamp issues", humanize.Comma(rep.RowsSampled))
	}
	return rep, nil
}

// topMissing returns the n columns with the most missing values, ties
// broken by column name. Columns with no missing values are left out.
func topMissing(missing map[string]int64, n int) []ColumnCount {
	out := make([]ColumnCount, 0, len(missing))
	for col, c := range missing {
		if c > 0 {
			out = append(out, ColumnCount{Column: col, Missing: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Missing != out[j].Missing {
			return out[i].Missing > out[j].Missing
		}
		return out[i].Column < out[j].Column
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
