package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nicktill/biogas-etl/pkg/aggregate"
	"github.com/nicktill/biogas-etl/pkg/loader"
	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/schema"
	"github.com/nicktill/biogas-etl/pkg/source"
	"github.com/nicktill/biogas-etl/pkg/storage"
	"github.com/nicktill/biogas-etl/pkg/storage/badger"
	"github.com/nicktill/biogas-etl/pkg/storage/memory"
	"github.com/nicktill/biogas-etl/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const header = "timestamp,bop_plc_abb_gc_outletstream_ch4,bop_plc_abb_gc_outletstream_co2," +
	"bop_plc_vl_comp_runstatus,bop_plc_vl_comp_faultstatus,bop_plc_vl_comp_mainmotor_amps\n"

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func writeCSV(t *testing.T, n int, bad ...int) string {
	t.Helper()
	skip := make(map[int]bool, len(bad))
	for _, b := range bad {
		skip[b] = true
	}

	var sb strings.Builder
	sb.WriteString(header)
	for i := 0; i < n; i++ {
		ts := t0.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		if skip[i] {
			ts = "garbage"
		}
		fmt.Fprintf(&sb, "%s,%d,%d,%t,False,%d\n", ts, 60+i%10, 30+i%5, i%4 != 0, 40+i%20)
	}

	path := filepath.Join(t.TempDir(), "sensors.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

var fastRetry = aggregate.WithRetry(aggregate.RetryPolicy{MaxRetries: 1})

func TestRun_ChunkSizeDoesNotChangeResult(t *testing.T) {
	path := writeCSV(t, 250, 17, 120)
	ctx := context.Background()

	var want []reading.HourlyAggregate
	for _, size := range []int{1000, 50000, 7} {
		store := memory.New()
		rep, err := Run(ctx, store, path, Options{ChunkSize: size, BatchSize: 3, Aggregate: []aggregate.Option{fastRetry}})
		require.NoError(t, err, "chunk size %d", size)
		require.Equal(t, int64(248), rep.RowsCommitted, "chunk size %d", size)
		require.Equal(t, int64(250), rep.RowsRead)
		require.Equal(t, int64(2), rep.RowsDropped())

		aggs, err := store.QueryAggregates(ctx, storage.TimeRange{})
		require.NoError(t, err)
		require.Len(t, aggs, 5)
		if want == nil {
			want = aggs
			continue
		}
		require.Equal(t, want, aggs, "chunk size %d", size)
	}
}

func TestRun_DropsUnparsableTimestamps(t *testing.T) {
	path := writeCSV(t, 10, 2, 6)
	store := memory.New()

	rep, err := Run(context.Background(), store, path, Options{SkipAggregates: true})
	require.NoError(t, err)
	require.Equal(t, int64(8), rep.RowsCommitted)
	require.Equal(t, int64(2), rep.Quality.TimestampFailures)
	require.Equal(t, []string{"garbage", "garbage"}, rep.Quality.BadTimestamps)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(8), stats.Readings)
}

func TestRun_TestModeReadsFirstChunkOnly(t *testing.T) {
	path := writeCSV(t, 100)
	store := memory.New()

	rep, err := Run(context.Background(), store, path, Options{ChunkSize: 10, TestMode: true, SkipAggregates: true})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Chunks)
	require.Equal(t, int64(10), rep.RowsCommitted)
}

func TestRun_AggregatesCommittedRange(t *testing.T) {
	path := writeCSV(t, 90)
	store := memory.New()

	rep, err := Run(context.Background(), store, path, Options{ChunkSize: 25, Aggregate: []aggregate.Option{fastRetry}})
	require.NoError(t, err)
	require.True(t, t0.Equal(rep.Range.Start))
	require.True(t, t0.Add(89*time.Minute+time.Nanosecond).Equal(rep.Range.End))
	require.NotNil(t, rep.Aggregation)
	require.Equal(t, 2, rep.Aggregation.Written)

	aggs, err := store.QueryAggregates(context.Background(), storage.TimeRange{})
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	require.Equal(t, 60, aggs[0].ReadingCount)
	require.Equal(t, 30, aggs[1].ReadingCount)
	require.Equal(t, 75.0, aggs[0].UptimePercentage)
}

func TestRun_SkipAggregates(t *testing.T) {
	path := writeCSV(t, 30)
	store := memory.New()

	rep, err := Run(context.Background(), store, path, Options{SkipAggregates: true})
	require.NoError(t, err)
	require.Nil(t, rep.Aggregation)

	aggs, err := store.QueryAggregates(context.Background(), storage.TimeRange{})
	require.NoError(t, err)
	require.Empty(t, aggs)
}

func TestRun_ReingestAppends(t *testing.T) {
	path := writeCSV(t, 20)
	store := memory.New()
	ctx := context.Background()

	_, err := Run(ctx, store, path, Options{SkipAggregates: true})
	require.NoError(t, err)
	_, err = Run(ctx, store, path, Options{SkipAggregates: true})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(40), stats.Readings)
}

// failingStore rejects every append after the first n.
type failingStore struct {
	*memory.Storage
	n int
}

func (f *failingStore) AppendReadings(ctx context.Context, b storage.Batch) error {
	if f.n == 0 {
		return errors.New("disk full")
	}
	f.n--
	return f.Storage.AppendReadings(ctx, b)
}

func TestRun_WriteFailureReportsCommitted(t *testing.T) {
	path := writeCSV(t, 50)
	store := &failingStore{Storage: memory.New(), n: 3}

	rep, err := Run(context.Background(), store, path, Options{ChunkSize: 10, BatchSize: 5})
	require.Error(t, err)

	committed, ok := loader.Committed(err)
	require.True(t, ok)
	// The failing chunk committed one batch before the rejected one.
	require.Equal(t, 5, committed)
	require.Equal(t, int64(15), rep.RowsCommitted)
	require.Equal(t, 1, rep.Chunks)
	require.Nil(t, rep.Aggregation)
}

func TestRun_MissingInput(t *testing.T) {
	_, err := Run(context.Background(), memory.New(), filepath.Join(t.TempDir(), "absent.csv"), Options{})
	require.ErrorIs(t, err, source.ErrInputNotFound)
}

func TestRun_Cancelled(t *testing.T) {
	path := writeCSV(t, 20)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := Run(ctx, memory.New(), path, Options{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, rep.RowsCommitted)
}

func TestOptions_Validate(t *testing.T) {
	o := Options{}
	require.NoError(t, o.Validate())
	require.Equal(t, 100000, o.ChunkSize)
	require.Equal(t, 10000, o.BatchSize)

	require.Error(t, (&Options{ChunkSize: -1}).Validate())
	require.Error(t, (&Options{BatchSize: 1 << 30}).Validate())
}

func TestReport_Render(t *testing.T) {
	path := writeCSV(t, 10, 3)
	rep, err := Run(context.Background(), memory.New(), path, Options{Aggregate: []aggregate.Option{fastRetry}})
	require.NoError(t, err)

	var sb strings.Builder
	rep.Render(&sb)
	out := sb.String()
	require.Contains(t, out, "rows committed")
	require.Contains(t, out, "hours aggregated")
	require.Contains(t, out, "1 of 1")
}

func TestRun_RecordsTelemetry(t *testing.T) {
	path := writeCSV(t, 30, 4, 9, 11)

	read := testutil.ToFloat64(telemetry.CounterRowsRead)
	committed := testutil.ToFloat64(telemetry.CounterRowsCommitted)
	dropped := testutil.ToFloat64(telemetry.CounterRowsDropped.WithLabelValues("timestamp"))

	_, err := Run(context.Background(), memory.New(), path, Options{ChunkSize: 8, SkipAggregates: true})
	require.NoError(t, err)

	require.Equal(t, 30.0, testutil.ToFloat64(telemetry.CounterRowsRead)-read)
	require.Equal(t, 27.0, testutil.ToFloat64(telemetry.CounterRowsCommitted)-committed)
	require.Equal(t, 3.0, testutil.ToFloat64(telemetry.CounterRowsDropped.WithLabelValues("timestamp"))-dropped)
}

func TestRun_ZeroDenominatorsDoNotAbort(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("timestamp,bop_plc_vl_comp_discharge_pressure,bop_plc_vl_comp_suction_pressure,bop_plc_vl_comp_mainmotor_amps\n")
	rows := []string{"100,10,50", "100,-0.1,50", "100,10,-1", "0,-0.1,-1"}
	for i, row := range rows {
		fmt.Fprintf(&sb, "%s,%s\n", t0.Add(time.Duration(i)*time.Minute).Format(time.RFC3339), row)
	}
	path := filepath.Join(t.TempDir(), "vacuum.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	store, err := badger.New(badger.Config{Path: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rep, err := Run(ctx, store, path, Options{Aggregate: []aggregate.Option{fastRetry}})
	require.NoError(t, err)
	require.Equal(t, int64(4), rep.RowsCommitted)
	require.Equal(t, int64(2), rep.Quality.Invalid[string(schema.PressureRatio)])
	require.Equal(t, int64(2), rep.Quality.Invalid[string(schema.CompressorEfficiency)])

	got, err := store.QueryReadings(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.NotNil(t, got[0].PressureRatio)
	require.Nil(t, got[1].PressureRatio)
	require.NotNil(t, got[1].CompressorEfficiency)
	require.Nil(t, got[2].CompressorEfficiency)
	require.Nil(t, got[3].PressureRatio)
	require.Nil(t, got[3].CompressorEfficiency)

	aggs, err := store.QueryAggregates(ctx, storage.TimeRange{})
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	require.Equal(t, 4, aggs[0].ReadingCount)
}

func TestRun_StrayQuoteDropsOnlyItsRow(t *testing.T) {
	path := writeCSV(t, 1000)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(string(data), "\n")
	// lines[0] is the header; corrupt the CH4 value of row 10.
	fields := strings.Split(lines[11], ",")
	fields[1] = `"61`
	lines[11] = strings.Join(fields, ",")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644))

	store := memory.New()
	rep, err := Run(context.Background(), store, path, Options{ChunkSize: 100, SkipAggregates: true})
	require.NoError(t, err)
	require.Equal(t, int64(1000), rep.RowsRead)
	require.Equal(t, int64(999), rep.RowsCommitted)
	require.Equal(t, int64(1), rep.Malformed)
	require.Equal(t, int64(1), rep.RowsDropped())

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(999), stats.Readings)
}
