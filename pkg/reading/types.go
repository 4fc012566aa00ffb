package reading

import (
	"time"
)

// Reading is one normalized, enriched sensor row as persisted to the
// sensor-reading store. Only Timestamp is required; every other field is
// optional because instrumentation is sparse.
type Reading struct {
	Timestamp  time.Time `json:"timestamp"`
	Hour       int       `json:"hour"`
	DayOfWeek  int       `json:"day_of_week"`
	DayOfMonth int       `json:"day_of_month"`

	// Values holds numeric canonical fields that were present in the row.
	Values map[string]float64 `json:"values,omitempty"`

	// Flags holds boolean canonical fields that were present in the row.
	Flags map[string]bool `json:"flags,omitempty"`

	// Derived metrics, nil when their inputs were missing.
	GasQualityScore      *float64 `json:"gas_quality_score,omitempty"`
	CompressorEfficiency *float64 `json:"compressor_efficiency,omitempty"`
	TempDifferential     *float64 `json:"temp_differential,omitempty"`
	PressureRatio        *float64 `json:"pressure_ratio,omitempty"`
	SystemHealthScore    *float64 `json:"system_health_score,omitempty"`
}

// Value returns a numeric field and whether it was present.
func (r *Reading) Value(name string) (float64, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Flag returns a boolean field and whether it was present.
func (r *Reading) Flag(name string) (bool, bool) {
	v, ok := r.Flags[name]
	return v, ok
}

// IsSet reports whether the flag is present and true.
func (r *Reading) IsSet(name string) bool {
	v, ok := r.Flags[name]
	return ok && v
}

// HourlyAggregate is the rollup of all readings whose timestamp falls in the
// hour starting at Timestamp. Timestamp is unique across the aggregate store.
type HourlyAggregate struct {
	Timestamp time.Time `json:"timestamp"`

	// Gas production
	AvgCH4      *float64 `json:"avg_ch4"`
	AvgCO2      *float64 `json:"avg_co2"`
	AvgFlow     *float64 `json:"avg_flow"`
	TotalEnergy *float64 `json:"total_energy"`

	// Equipment performance
	AvgCompAmps *float64 `json:"avg_comp_amps"`
	MaxCompAmps *float64 `json:"max_comp_amps"`
	AvgCompTemp *float64 `json:"avg_comp_temp"`
	MaxCompTemp *float64 `json:"max_comp_temp"`

	// System health
	AvgHealthScore   *float64 `json:"avg_health_score"`
	MinHealthScore   *float64 `json:"min_health_score"`
	FaultCount       int      `json:"fault_count"`
	UptimePercentage float64  `json:"uptime_percentage"`

	// Data quality
	ReadingCount int `json:"reading_count"`
	NullCount    int `json:"null_count"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Deref returns *p, or 0 when p is nil.
func Deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// TruncateHour returns the start of the UTC hour containing t.
func TruncateHour(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(
		t.Year(), t.Month(), t.Day(),
		t.Hour(), 0, 0, 0,
		time.UTC,
	)
}
