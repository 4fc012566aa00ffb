package server

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/server/monitor"
	"github.com/nicktill/biogas-etl/pkg/storage"
)

// Version is reported by /api/health.
const Version = "1.0.0"

var startTime = time.Now()

// DateRange is the span of stored readings; both ends are empty when the
// store holds none.
type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// DatabaseStatus is the storage section of the health response.
type DatabaseStatus struct {
	Connected        bool      `json:"connected"`
	SensorReadings   uint64    `json:"sensor_readings"`
	HourlyAggregates uint64    `json:"hourly_aggregates"`
	SizeBytes        uint64    `json:"size_bytes"`
	DateRange        DateRange `json:"date_range"`
	Error            string    `json:"error,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string                    `json:"status"`
	Version     string                    `json:"version"`
	Uptime      string                    `json:"uptime"`
	Database    DatabaseStatus            `json:"database"`
	Aggregation monitor.AggregationStatus `json:"aggregation"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// handleHealth reports store counts and aggregation health. It answers 503
// when the store cannot be read or aggregation is unhealthy.
func handleHealth(store storage.Storage, aggMonitor *monitor.AggregationMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		resp := HealthResponse{
			Status:      "healthy",
			Version:     Version,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Aggregation: aggMonitor.Status(),
			Timestamp:   time.Now().UTC(),
		}
		status := http.StatusOK

		stats, err := store.Stats(ctx)
		if err != nil {
			resp.Status = "unhealthy"
			resp.Database.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}

		resp.Database = DatabaseStatus{
			Connected:        true,
			SensorReadings:   stats.Readings,
			HourlyAggregates: stats.Aggregates,
			SizeBytes:        stats.SizeBytes,
		}
		if !stats.OldestReading.IsZero() {
			oldest, newest := stats.OldestReading.UTC(), stats.NewestReading.UTC()
			resp.Database.DateRange = DateRange{Start: &oldest, End: &newest}
		}

		if !resp.Aggregation.Healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, resp)
	}
}

// TrendPoint is one hour of /api/system/trends. Values are rounded for
// display; null means the hour had no reading of that field.
type TrendPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	CH4Percent  *float64  `json:"ch4_percent"`
	CO2Percent  *float64  `json:"co2_percent"`
	FlowRate    *float64  `json:"flow_rate"`
	Energy      *float64  `json:"energy"`
	HealthScore *float64  `json:"health_score"`
	UptimePct   float64   `json:"uptime_pct"`
	CompAmps    *float64  `json:"comp_amps"`
	FaultCount  int       `json:"fault_count"`
	Readings    int       `json:"reading_count"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	return reading.Float(round(*v, places))
}

func toTrendPoint(a reading.HourlyAggregate) TrendPoint {
	return TrendPoint{
		Timestamp:   a.Timestamp.UTC(),
		CH4Percent:  roundPtr(a.AvgCH4, 2),
		CO2Percent:  roundPtr(a.AvgCO2, 2),
		FlowRate:    roundPtr(a.AvgFlow, 2),
		Energy:      roundPtr(a.TotalEnergy, 2),
		HealthScore: roundPtr(a.AvgHealthScore, 1),
		UptimePct:   round(a.UptimePercentage, 2),
		CompAmps:    roundPtr(a.AvgCompAmps, 2),
		FaultCount:  a.FaultCount,
		Readings:    a.ReadingCount,
	}
}

// trendHours reads the hours parameter. Missing, malformed or out of range
// values fall back to the default window.
func trendHours(r *http.Request) int {
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil || hours < 1 || hours > config.MaxTrendHours {
		return config.DefaultTrendHours
	}
	return hours
}

// handleTrends returns the hourly aggregates of the last N hours, ascending.
func handleTrends(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		end := time.Now().UTC()
		start := end.Add(-time.Duration(trendHours(r)) * time.Hour)

		aggs, err := store.QueryAggregates(ctx, storage.TimeRange{Start: start, End: end})
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to load trends: "+err.Error())
			return
		}

		points := make([]TrendPoint, 0, len(aggs))
		for _, a := range aggs {
			points = append(points, toTrendPoint(a))
		}
		respondData(w, points)
	}
}

// handleLatestReadings returns the most recent readings, newest first.
// Query params:
//   - limit: 1..100 (default: 100)
func handleLatestReadings(store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		limit := config.LatestReadingsLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				respondError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			if n < limit {
				limit = n
			}
		}

		readings, err := store.QueryReadings(ctx, storage.QueryRequest{Limit: limit, Newest: true})
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to load readings: "+err.Error())
			return
		}
		if readings == nil {
			readings = []reading.Reading{}
		}
		respondData(w, readings)
	}
}

// handleStorageUsage returns disk usage of the data directory.
func handleStorageUsage(storageMonitor *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := storageMonitor.Usage()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to calculate storage: "+err.Error())
			return
		}
		respondData(w, usage)
	}
}
