package transform

import (
	"fmt"
	"testing"
	"time"

	"github.com/nicktill/biogas-etl/pkg/schema"
	"github.com/stretchr/testify/require"
)

func sourceName(t *testing.T, canonical string) string {
	t.Helper()
	f, ok := schema.Lookup(canonical)
	require.True(t, ok, canonical)
	return f.Source
}

func newTransformer(t *testing.T, canonical ...string) *Transformer {
	t.Helper()
	header := []string{schema.TimestampColumn}
	for _, c := range canonical {
		header = append(header, sourceName(t, c))
	}
	desc, err := schema.Resolve(header)
	require.NoError(t, err)
	return New(desc)
}

func TestGasQuality_Exact(t *testing.T) {
	ch4, co2 := 70.0, 20.0
	require.Equal(t, 73.0, GasQuality(ch4, co2))
}

func TestCompressorEfficiency_Exact(t *testing.T) {
	p, amps := 100.0, 50.0
	require.Equal(t, 100.0/51.0, CompressorEfficiency(p, amps))
	require.InDelta(t, 1.9608, CompressorEfficiency(p, amps), 1e-4)
}

func TestPressureRatio_ZeroSuction(t *testing.T) {
	d, s := 100.0, 0.0
	require.Equal(t, 1000.0, PressureRatio(d, s))
}

func TestTempDifferential(t *testing.T) {
	require.Equal(t, 45.5, TempDifferential(120.5, 75))
}

func TestHealthScore(t *testing.T) {
	ptrInt := func(v int) *int { return &v }
	ptrF := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		faults *int
		amps   *float64
		want   float64
		ok     bool
	}{
		{"no inputs", nil, nil, 0, false},
		{"faults only", ptrInt(2), nil, 80, true},
		{"amps only", nil, ptrF(50), 90, true},
		{"both", ptrInt(1), ptrF(100), 85, true},
		{"extreme inputs clip low", ptrInt(50), ptrF(10000), 0, true},
		{"negative amps clip high", nil, ptrF(-10000), 100, true},
		{"many faults alone", ptrInt(50), nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := HealthScore(tt.faults, tt.amps)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
			require.GreaterOrEqual(t, got, 0.0)
			require.LessOrEqual(t, got, 100.0)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 11, 4, 30, 0, 0, time.UTC)

	for _, raw := range []string{
		"2024-03-11 04:30:00",
		"2024-03-11T04:30:00Z",
		"2024-03-10T23:30:00-05:00",
		"2024-03-10 23:30:00-05:00",
		"2024-03-11 04:30:00+0000",
		" 2024-03-11 04:30 ",
		"3/11/2024 04:30:00",
	} {
		got, err := ParseTimestamp(raw)
		require.NoError(t, err, raw)
		require.True(t, want.Equal(got), "%q parsed as %v", raw, got)
		require.Equal(t, time.UTC, got.Location())
	}

	got, err := ParseTimestamp("2024-03-11 04:30:00.250")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, got.Sub(want))

	for _, raw := range []string{"", "not a date", "2024-13-45 99:00:00"} {
		_, err := ParseTimestamp(raw)
		require.Error(t, err, raw)
	}
}

func TestTransform_DropsUnparsableTimestamps(t *testing.T) {
	tr := newTransformer(t, schema.CH4Percent)

	rows := make([][]string, 0, 10)
	for i := 0; i < 10; i++ {
		ts := fmt.Sprintf("2024-01-01 00:%02d:00", i)
		if i == 3 || i == 7 {
			ts = "garbage"
		}
		rows = append(rows, []string{ts, "65.5"})
	}

	out, stats := tr.Transform(rows)
	require.Len(t, out, 8)
	require.Equal(t, int64(10), stats.RowsIn)
	require.Equal(t, int64(8), stats.RowsOut)
	require.Equal(t, int64(2), stats.TimestampFailures)
	require.Equal(t, int64(2), stats.Dropped())
	require.Equal(t, []string{"garbage", "garbage"}, stats.BadTimestamps)
}

func TestTransform_TimeFeatures(t *testing.T) {
	tr := newTransformer(t)

	out, _ := tr.Transform([][]string{
		{"2024-03-10T23:30:00-05:00"}, // Monday 04:30 UTC
		{"2024-03-17 12:00:00"},       // Sunday
	})
	require.Len(t, out, 2)

	require.Equal(t, 4, out[0].Hour)
	require.Equal(t, 0, out[0].DayOfWeek)
	require.Equal(t, 11, out[0].DayOfMonth)

	require.Equal(t, 12, out[1].Hour)
	require.Equal(t, 6, out[1].DayOfWeek)
	require.Equal(t, 17, out[1].DayOfMonth)
}

func TestTransform_Flags(t *testing.T) {
	tr := newTransformer(t, schema.CompRunning, schema.CompFault)

	out, stats := tr.Transform([][]string{
		{"2024-01-01 00:00:00", "t", "F"},
		{"2024-01-01 00:01:00", "T", "f"},
		{"2024-01-01 00:02:00", "", "maybe"},
	})
	require.Len(t, out, 3)

	require.Equal(t, map[string]bool{schema.CompRunning: true, schema.CompFault: false}, out[0].Flags)
	require.Equal(t, map[string]bool{schema.CompRunning: true, schema.CompFault: false}, out[1].Flags)
	require.Nil(t, out[2].Flags)

	require.Equal(t, int64(1), stats.Missing[schema.CompRunning])
	require.Equal(t, int64(1), stats.Invalid[schema.CompFault])
}

func TestTransform_Numerics(t *testing.T) {
	tr := newTransformer(t, schema.CH4Percent, schema.GasFlow)

	out, stats := tr.Transform([][]string{
		{"2024-01-01 00:00:00", "65.25", "NaN"},
		{"2024-01-01 00:01:00", "abc", " 12 "},
		{"2024-01-01 00:02:00", "Inf"},
	})
	require.Len(t, out, 3)

	require.Equal(t, map[string]float64{schema.CH4Percent: 65.25}, out[0].Values)
	require.Equal(t, map[string]float64{schema.GasFlow: 12}, out[1].Values)
	require.Nil(t, out[2].Values)

	require.Equal(t, int64(1), stats.Invalid[schema.CH4Percent])
	require.Equal(t, int64(1), stats.Missing[schema.CH4Percent])
	require.Equal(t, int64(2), stats.Missing[schema.GasFlow])
	require.Equal(t, int64(1), stats.InvalidTotal())
}

func TestTransform_DerivedMetrics(t *testing.T) {
	tr := newTransformer(t,
		schema.CH4Percent, schema.CO2Percent,
		schema.CompDischargePressure, schema.CompMotorAmps, schema.CompSuctionPressure,
		schema.CompFault, schema.BlowerFault,
	)

	out, _ := tr.Transform([][]string{
		{"2024-01-01 00:00:00", "70", "20", "100", "50", "0", "t", "f"},
		{"2024-01-01 00:01:00", "70", "", "", "", "", "", ""},
	})
	require.Len(t, out, 2)

	full := out[0]
	require.Equal(t, 73.0, *full.GasQualityScore)
	require.Equal(t, 100.0/51.0, *full.CompressorEfficiency)
	require.Equal(t, 1000.0, *full.PressureRatio)
	require.Nil(t, full.TempDifferential)
	// fault factor 90, current factor 90
	require.Equal(t, 90.0, *full.SystemHealthScore)

	sparse := out[1]
	require.Nil(t, sparse.GasQualityScore)
	require.Nil(t, sparse.CompressorEfficiency)
	require.Nil(t, sparse.PressureRatio)
	require.Nil(t, sparse.SystemHealthScore)
}

func TestTransform_ZeroDenominatorLeavesMetricNull(t *testing.T) {
	tr := newTransformer(t,
		schema.CompDischargePressure, schema.CompMotorAmps, schema.CompSuctionPressure,
	)

	out, stats := tr.Transform([][]string{
		{"2024-01-01 00:00:00", "100", "-1", "-0.1"},
		{"2024-01-01 00:01:00", "0", "-1", "-0.1"},
		{"2024-01-01 00:02:00", "100", "50", "10"},
	})
	require.Len(t, out, 3)

	for _, r := range out[:2] {
		require.Nil(t, r.CompressorEfficiency)
		require.Nil(t, r.PressureRatio)
		require.NotNil(t, r.SystemHealthScore)
	}
	require.Equal(t, int64(2), stats.Invalid[string(schema.CompressorEfficiency)])
	require.Equal(t, int64(2), stats.Invalid[string(schema.PressureRatio)])

	require.Equal(t, 100.0/51.0, *out[2].CompressorEfficiency)
	require.InDelta(t, 100.0/10.1, *out[2].PressureRatio, 1e-9)
}

func TestTransform_HealthFromSingleFaultFlag(t *testing.T) {
	tr := newTransformer(t, schema.CompFault)

	out, _ := tr.Transform([][]string{
		{"2024-01-01 00:00:00", "t"},
		{"2024-01-01 00:01:00", ""},
	})
	require.Equal(t, 90.0, *out[0].SystemHealthScore)
	require.Nil(t, out[1].SystemHealthScore)
}

func TestTransform_SchemaGapLeavesMetricNull(t *testing.T) {
	tr := newTransformer(t, schema.CH4Percent)
	require.False(t, tr.Descriptor().CanCompute(schema.GasQualityScore))

	out, _ := tr.Transform([][]string{{"2024-01-01 00:00:00", "70"}})
	require.Nil(t, out[0].GasQualityScore)
	require.Nil(t, out[0].SystemHealthScore)
}

func TestTransform_ShortRow(t *testing.T) {
	tr := newTransformer(t, schema.CH4Percent, schema.CO2Percent)

	out, stats := tr.Transform([][]string{{"2024-01-01 00:00:00", "70"}})
	require.Len(t, out, 1)
	require.Equal(t, int64(1), stats.Missing[schema.CO2Percent])
}

func TestStats_Merge(t *testing.T) {
	var total Stats
	a := NewStats()
	a.RowsIn, a.RowsOut, a.TimestampFailures = 10, 8, 2
	a.Missing["x"] = 3
	b := NewStats()
	b.RowsIn, b.RowsOut = 5, 5
	b.Missing["x"] = 1
	b.Invalid["y"] = 4

	total.Merge(a)
	total.Merge(b)
	require.Equal(t, int64(15), total.RowsIn)
	require.Equal(t, int64(2), total.Dropped())
	require.Equal(t, int64(4), total.Missing["x"])
	require.Equal(t, int64(4), total.InvalidTotal())
}
