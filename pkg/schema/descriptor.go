package schema

import (
	"fmt"
	"strings"
)

// Metric names a derived engineering metric.
type Metric string

const (
	GasQualityScore      Metric = "gas_quality_score"
	CompressorEfficiency Metric = "compressor_efficiency"
	TempDifferential     Metric = "temp_differential"
	PressureRatio        Metric = "pressure_ratio"
	SystemHealthScore    Metric = "system_health_score"
)

// Metrics lists the derived metrics in storage order.
var Metrics = []Metric{
	GasQualityScore,
	CompressorEfficiency,
	TempDifferential,
	PressureRatio,
	SystemHealthScore,
}

// Requirements maps each derived metric to the canonical inputs it needs.
// All inputs must resolve, except for the health score which needs any one.
var Requirements = map[Metric][]string{
	GasQualityScore:      {CH4Percent, CO2Percent},
	CompressorEfficiency: {CompDischargePressure, CompMotorAmps},
	TempDifferential:     {CompDischargeTemp, CompSuctionTemp},
	PressureRatio:        {CompDischargePressure, CompSuctionPressure},
	SystemHealthScore:    {CompFault, BlowerFault, CompMotorAmps},
}

// Binding ties a canonical field to a column position in the input file.
type Binding struct {
	Field
	Index int
}

// Descriptor is the column map resolved against one file header. It is built
// once per file; the transformer never re-checks column presence per row.
type Descriptor struct {
	Header         []string
	TimestampIndex int
	Bindings       []Binding
	// Gaps lists canonical fields whose source column is absent.
	Gaps []string
	// Unmapped lists header columns that are neither the timestamp nor in the column map.
	Unmapped []string

	present map[string]int
	metrics map[Metric]bool
}

// Resolve builds a Descriptor for the given header. It fails only when the
// timestamp column is missing, since no row could then be kept.
func Resolve(header []string) (*Descriptor, error) {
	d := &Descriptor{
		Header:         header,
		TimestampIndex: -1,
		present:        make(map[string]int, len(Fields)),
		metrics:        make(map[Metric]bool, len(Metrics)),
	}

	for i, col := range header {
		name := strings.TrimSpace(col)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if name == TimestampColumn {
			if d.TimestampIndex < 0 {
				d.TimestampIndex = i
			}
			continue
		}
		f, ok := LookupSource(name)
		if !ok {
			d.Unmapped = append(d.Unmapped, name)
			continue
		}
		if _, dup := d.present[f.Canonical]; dup {
			continue
		}
		d.present[f.Canonical] = i
	}

	if d.TimestampIndex < 0 {
		return nil, fmt.Errorf("header has no %q column", TimestampColumn)
	}

	for _, f := range Fields {
		idx, ok := d.present[f.Canonical]
		if !ok {
			d.Gaps = append(d.Gaps, f.Canonical)
			continue
		}
		d.Bindings = append(d.Bindings, Binding{Field: f, Index: idx})
	}

	for _, m := range Metrics {
		inputs := Requirements[m]
		if m == SystemHealthScore {
			d.metrics[m] = d.HasAny(inputs...)
			continue
		}
		d.metrics[m] = d.HasAll(inputs...)
	}

	return d, nil
}

// Has reports whether the canonical field resolved to a column.
func (d *Descriptor) Has(canonical string) bool {
	_, ok := d.present[canonical]
	return ok
}

// Index returns the column index of a canonical field, or -1.
func (d *Descriptor) Index(canonical string) int {
	if idx, ok := d.present[canonical]; ok {
		return idx
	}
	return -1
}

// HasAll reports whether every listed field resolved.
func (d *Descriptor) HasAll(canonical ...string) bool {
	for _, c := range canonical {
		if !d.Has(c) {
			return false
		}
	}
	return true
}

// HasAny reports whether at least one listed field resolved.
func (d *Descriptor) HasAny(canonical ...string) bool {
	for _, c := range canonical {
		if d.Has(c) {
			return true
		}
	}
	return false
}

// CanCompute reports whether a derived metric can ever be non-null for this file.
func (d *Descriptor) CanCompute(m Metric) bool {
	return d.metrics[m]
}

// UnavailableMetrics lists derived metrics that will be null for every row.
func (d *Descriptor) UnavailableMetrics() []Metric {
	var out []Metric
	for _, m := range Metrics {
		if !d.metrics[m] {
			out = append(out, m)
		}
	}
	return out
}

// FaultIndexes returns the column indexes of the fault flags present in the file.
func (d *Descriptor) FaultIndexes() []int {
	var out []int
	for _, f := range FaultFields {
		if idx, ok := d.present[f]; ok {
			out = append(out, idx)
		}
	}
	return out
}
