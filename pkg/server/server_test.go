package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/storage"
	"github.com/nicktill/biogas-etl/pkg/storage/memory"
)

func newTestServer(t *testing.T, store storage.Storage) *Server {
	t.Helper()
	return New(store, Config{DataDir: t.TempDir()})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func appendReadings(t *testing.T, store storage.Storage, readings ...reading.Reading) {
	t.Helper()
	err := store.AppendReadings(context.Background(), storage.Batch{Run: "test", Readings: readings})
	require.NoError(t, err)
}

func TestHealth_DegradedUntilAggregationSucceeds(t *testing.T) {
	store := memory.New()
	s := newTestServer(t, store)
	h := s.Router()

	rec := get(t, h, "/api/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.True(t, resp.Database.Connected)
	require.Nil(t, resp.Database.DateRange.Start)

	s.aggregationMonitor.RecordSuccess(0)
	rec = get(t, h, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_ReportsCountsAndDateRange(t *testing.T) {
	store := memory.New()
	first := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	appendReadings(t, store,
		reading.Reading{Timestamp: first, Values: map[string]float64{"ch4_percent": 60}},
		reading.Reading{Timestamp: first.Add(2 * time.Hour), Values: map[string]float64{"ch4_percent": 61}},
	)
	require.NoError(t, store.UpsertAggregate(context.Background(), reading.HourlyAggregate{Timestamp: first, ReadingCount: 1}))

	s := newTestServer(t, store)
	s.aggregationMonitor.RecordSuccess(1)

	rec := get(t, s.Router(), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, uint64(2), resp.Database.SensorReadings)
	require.Equal(t, uint64(1), resp.Database.HourlyAggregates)
	require.NotNil(t, resp.Database.DateRange.Start)
	require.True(t, first.Equal(*resp.Database.DateRange.Start))
	require.True(t, first.Add(2*time.Hour).Equal(*resp.Database.DateRange.End))
	require.Equal(t, 1, resp.Aggregation.HoursWritten)
}

func TestTrends(t *testing.T) {
	store := memory.New()
	hour := reading.TruncateHour(time.Now())
	recent := hour.Add(-time.Hour)
	older := hour.Add(-30 * time.Hour)

	for _, agg := range []reading.HourlyAggregate{
		{Timestamp: recent, AvgCH4: reading.Float(61.234), UptimePercentage: 66.6667, ReadingCount: 3},
		{Timestamp: older, AvgCH4: reading.Float(59), ReadingCount: 1},
	} {
		require.NoError(t, store.UpsertAggregate(context.Background(), agg))
	}
	h := newTestServer(t, store).Router()

	tests := []struct {
		name  string
		query string
		want  []time.Time
	}{
		{"default window", "", []time.Time{recent}},
		{"wider window", "?hours=48", []time.Time{older, recent}},
		{"malformed falls back", "?hours=abc", []time.Time{recent}},
		{"out of range falls back", "?hours=9000", []time.Time{recent}},
		{"too small falls back", "?hours=0", []time.Time{recent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, "/api/system/trends"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp struct {
				Data []TrendPoint `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Len(t, resp.Data, len(tt.want))
			for i, ts := range tt.want {
				require.True(t, ts.Equal(resp.Data[i].Timestamp), "point %d at %v, want %v", i, resp.Data[i].Timestamp, ts)
			}
		})
	}
}

func TestTrends_RoundsAndKeepsNulls(t *testing.T) {
	p := toTrendPoint(reading.HourlyAggregate{
		Timestamp:        time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		AvgCH4:           reading.Float(61.236),
		AvgHealthScore:   reading.Float(87.25),
		UptimePercentage: 66.66667,
	})
	require.Equal(t, 61.24, *p.CH4Percent)
	require.Equal(t, 87.3, *p.HealthScore)
	require.Equal(t, 66.67, p.UptimePct)
	require.Nil(t, p.FlowRate)
	require.Nil(t, p.Energy)
}

func TestLatestReadings(t *testing.T) {
	store := memory.New()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var readings []reading.Reading
	for i := 0; i < 5; i++ {
		readings = append(readings, reading.Reading{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Values:    map[string]float64{"gas_flow": float64(i)},
		})
	}
	appendReadings(t, store, readings...)
	h := newTestServer(t, store).Router()

	rec := get(t, h, "/api/readings/latest?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []reading.Reading `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.True(t, base.Add(4*time.Minute).Equal(resp.Data[0].Timestamp))
	require.True(t, base.Add(3*time.Minute).Equal(resp.Data[1].Timestamp))

	rec = get(t, h, "/api/readings/latest")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 5)

	rec = get(t, h, "/api/readings/latest?limit=0")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"error"`)
}

func TestLatestReadings_EmptyStore(t *testing.T) {
	rec := get(t, newTestServer(t, memory.New()).Router(), "/api/readings/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestStorageUsage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001.vlog"), []byte(strings.Repeat("reading ", 2048)), 0644))

	s := New(memory.New(), Config{DataDir: dir, MaxStorageGB: 1})
	rec := get(t, s.Router(), "/api/storage")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			UsedBytes int64 `json:"used_bytes"`
			MaxBytes  int64 `json:"max_bytes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Greater(t, resp.Data.UsedBytes, int64(0))
	require.Equal(t, int64(1024*1024*1024), resp.Data.MaxBytes)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t, memory.New()).Router(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "biogas_aggregate_hours_aggregated_total")
}

func TestExportRoute(t *testing.T) {
	rec := get(t, newTestServer(t, memory.New()).Router(), "/api/export?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
}

func TestCORS(t *testing.T) {
	h := New(memory.New(), Config{DataDir: t.TempDir(), AllowedOrigins: []string{"http://dashboard.local"}}).Router()

	req := httptest.NewRequest(http.MethodGet, "/api/readings/latest", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/readings/latest", nil)
	req.Header.Set("Origin", "http://elsewhere.local")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(t, memory.New())
	go s.hub.Run(ctx)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, s.hub.HasClients, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.hub.Broadcast(AggregateUpdate{Type: "aggregate_update", Timestamp: 42}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got AggregateUpdate
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "aggregate_update", got.Type)
	require.Equal(t, int64(42), got.Timestamp)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub([]string{"http://dashboard.local"})
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://elsewhere.local"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLatestAggregate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	agg, err := latestAggregate(ctx, store)
	require.NoError(t, err)
	require.Nil(t, agg)

	ts := time.Date(2024, 3, 1, 8, 45, 0, 0, time.UTC)
	appendReadings(t, store, reading.Reading{Timestamp: ts, Values: map[string]float64{"gas_flow": 1}})
	require.NoError(t, store.UpsertAggregate(ctx, reading.HourlyAggregate{Timestamp: ts.Add(-2 * time.Hour).Truncate(time.Hour), ReadingCount: 9}))

	agg, err = latestAggregate(ctx, store)
	require.NoError(t, err)
	require.Nil(t, agg, "newest reading's hour has not been aggregated yet")

	require.NoError(t, store.UpsertAggregate(ctx, reading.HourlyAggregate{Timestamp: reading.TruncateHour(ts), ReadingCount: 1}))
	agg, err = latestAggregate(ctx, store)
	require.NoError(t, err)
	require.NotNil(t, agg)
	require.Equal(t, 1, agg.ReadingCount)
}

type fakeGC struct {
	calls int32
}

func (g *fakeGC) RunGC(float64) error {
	atomic.AddInt32(&g.calls, 1)
	return nil
}

func TestRunBadgerGC(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gc := &fakeGC{}
	done := make(chan struct{})
	go func() {
		RunBadgerGC(ctx, gc, 5*time.Millisecond, 0.5)
		close(done)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&gc.calls) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRunAggregation_InitialRunWritesRecentHours(t *testing.T) {
	store := memory.New()
	ts := time.Now().UTC().Add(-90 * time.Minute)
	appendReadings(t, store,
		reading.Reading{Timestamp: ts, Flags: map[string]bool{"comp_running": true}},
		reading.Reading{Timestamp: ts.Add(time.Minute), Flags: map[string]bool{"comp_running": false}},
	)

	s := newTestServer(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunAggregation(ctx, s.aggregator, time.Hour, 6*time.Hour)
		close(done)
	}()

	require.Eventually(t, s.aggregationMonitor.IsHealthy, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	aggs, err := store.QueryAggregates(context.Background(), storage.TimeRange{})
	require.NoError(t, err)
	require.NotEmpty(t, aggs)

	var readings int
	for _, a := range aggs {
		readings += a.ReadingCount
	}
	require.Equal(t, 2, readings)
}
