// Package transform turns raw CSV rows into enriched readings: UTC
// timestamps, time features, typed sensor values and the five derived
// engineering metrics. It has no side effects beyond its return values.
package transform

import (
	"math"
	"strconv"
	"strings"

	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/schema"
	"github.com/nicktill/biogas-etl/pkg/source"
)

// maxBadSamples caps how many unparsable timestamps are kept for reporting.
const maxBadSamples = 5

// Stats counts the data-quality findings for the rows seen by a transformer.
// Nothing here is an error: dropped rows and invalid values are only counted.
type Stats struct {
	RowsIn  int64
	RowsOut int64

	// TimestampFailures is the number of rows dropped because their
	// timestamp could not be parsed.
	TimestampFailures int64
	BadTimestamps     []string

	// Missing counts missing values per canonical field, for fields whose
	// column exists in the file.
	Missing map[string]int64

	// Invalid counts values that were present but could not be read as the
	// field's kind. They are stored as null.
	Invalid map[string]int64
}

// NewStats returns an empty Stats.
func NewStats() Stats {
	return Stats{
		Missing: make(map[string]int64),
		Invalid: make(map[string]int64),
	}
}

// Dropped is the number of input rows that produced no reading.
func (s Stats) Dropped() int64 {
	return s.RowsIn - s.RowsOut
}

// InvalidTotal sums Invalid over all fields.
func (s Stats) InvalidTotal() int64 {
	var n int64
	for _, v := range s.Invalid {
		n += v
	}
	return n
}

// Merge adds o into s.
func (s *Stats) Merge(o Stats) {
	if s.Missing == nil {
		s.Missing = make(map[string]int64)
	}
	if s.Invalid == nil {
		s.Invalid = make(map[string]int64)
	}
	s.RowsIn += o.RowsIn
	s.RowsOut += o.RowsOut
	s.TimestampFailures += o.TimestampFailures
	for _, b := range o.BadTimestamps {
		if len(s.BadTimestamps) >= maxBadSamples {
			break
		}
		s.BadTimestamps = append(s.BadTimestamps, b)
	}
	for k, v := range o.Missing {
		s.Missing[k] += v
	}
	for k, v := range o.Invalid {
		s.Invalid[k] += v
	}
}

// Transformer converts rows of one file. It is built from the file's
// resolved Descriptor so column lookups happen once, not per row.
type Transformer struct {
	desc     *schema.Descriptor
	numeric  []schema.Binding
	flags    []schema.Binding
	computes map[schema.Metric]bool
}

// New creates a transformer for files with the given header layout.
func New(desc *schema.Descriptor) *Transformer {
	t := &Transformer{
		desc:     desc,
		computes: make(map[schema.Metric]bool, len(schema.Metrics)),
	}
	for _, b := range desc.Bindings {
		if b.Kind == schema.Flag {
			t.flags = append(t.flags, b)
		} else {
			t.numeric = append(t.numeric, b)
		}
	}
	for _, m := range schema.Metrics {
		t.computes[m] = desc.CanCompute(m)
	}
	return t
}

// Descriptor returns the header layout the transformer was built for.
func (t *Transformer) Descriptor() *schema.Descriptor {
	return t.desc
}

// Transform converts a chunk of raw rows. Rows whose timestamp does not
// parse are dropped; every other row yields exactly one reading.
func (t *Transformer) Transform(rows [][]string) ([]reading.Reading, Stats) {
	stats := NewStats()
	out := make([]reading.Reading, 0, len(rows))

	for _, row := range rows {
		stats.RowsIn++

		raw := source.Field(row, t.desc.TimestampIndex)
		ts, err := ParseTimestamp(raw)
		if err != nil {
			stats.TimestampFailures++
			if len(stats.BadTimestamps) < maxBadSamples {
				stats.BadTimestamps = append(stats.BadTimestamps, raw)
			}
			continue
		}

		r := reading.Reading{
			Timestamp:  ts,
			Hour:       ts.Hour(),
			DayOfWeek:  dayOfWeek(ts),
			DayOfMonth: ts.Day(),
		}
		t.readFields(row, &r, &stats)
		t.derive(&r, &stats)

		out = append(out, r)
		stats.RowsOut++
	}

	return out, stats
}

func (t *Transformer) readFields(row []string, r *reading.Reading, stats *Stats) {
	for _, b := range t.numeric {
		s := source.Field(row, b.Index)
		if source.IsMissing(s) {
			stats.Missing[b.Canonical]++
			continue
		}
		v, ok := parseNumber(s)
		if !ok {
			stats.Invalid[b.Canonical]++
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			stats.Missing[b.Canonical]++
			continue
		}
		if r.Values == nil {
			r.Values = make(map[string]float64, len(t.numeric))
		}
		r.Values[b.Canonical] = v
	}

	for _, b := range t.flags {
		s := source.Field(row, b.Index)
		if source.IsMissing(s) {
			stats.Missing[b.Canonical]++
			continue
		}
		v, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			stats.Invalid[b.Canonical]++
			continue
		}
		if r.Flags == nil {
			r.Flags = make(map[string]bool, len(t.flags))
		}
		r.Flags[b.Canonical] = v
	}
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (t *Transformer) derive(r *reading.Reading, stats *Stats) {
	if t.computes[schema.GasQualityScore] {
		ch4, ok1 := r.Value(schema.CH4Percent)
		co2, ok2 := r.Value(schema.CO2Percent)
		if ok1 && ok2 {
			r.GasQualityScore = finite(stats, schema.GasQualityScore, GasQuality(ch4, co2))
		}
	}

	if t.computes[schema.CompressorEfficiency] {
		p, ok1 := r.Value(schema.CompDischargePressure)
		amps, ok2 := r.Value(schema.CompMotorAmps)
		if ok1 && ok2 {
			r.CompressorEfficiency = finite(stats, schema.CompressorEfficiency, CompressorEfficiency(p, amps))
		}
	}

	if t.computes[schema.TempDifferential] {
		d, ok1 := r.Value(schema.CompDischargeTemp)
		s, ok2 := r.Value(schema.CompSuctionTemp)
		if ok1 && ok2 {
			r.TempDifferential = finite(stats, schema.TempDifferential, TempDifferential(d, s))
		}
	}

	if t.computes[schema.PressureRatio] {
		d, ok1 := r.Value(schema.CompDischargePressure)
		s, ok2 := r.Value(schema.CompSuctionPressure)
		if ok1 && ok2 {
			r.PressureRatio = finite(stats, schema.PressureRatio, PressureRatio(d, s))
		}
	}

	if t.computes[schema.SystemHealthScore] {
		if h := healthFor(r); h != nil {
			r.SystemHealthScore = finite(stats, schema.SystemHealthScore, *h)
		}
	}
}

// finite returns v, or nil when v is NaN or infinite. A denominator of zero
// (suction at -0.1 psi, motor amps at -1) lands here; the metric is stored
// as null and counted as invalid.
func finite(stats *Stats, m schema.Metric, v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		stats.Invalid[string(m)]++
		return nil
	}
	return reading.Float(v)
}

// healthFor gathers the health-score inputs present in r.
func healthFor(r *reading.Reading) *float64 {
	var faults *int
	for _, name := range schema.FaultFields {
		v, ok := r.Flag(name)
		if !ok {
			continue
		}
		if faults == nil {
			faults = new(int)
		}
		if v {
			*faults++
		}
	}

	var amps *float64
	if v, ok := r.Value(schema.CompMotorAmps); ok {
		amps = &v
	}

	score, ok := HealthScore(faults, amps)
	if !ok {
		return nil
	}
	return reading.Float(score)
}
