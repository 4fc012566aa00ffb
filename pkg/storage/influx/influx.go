// Package influx mirrors committed sensor readings to InfluxDB so plant
// dashboards can chart them. It is write-only; the Badger store remains the
// system of record.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/reading"
)

// writePrecision keeps readings logged within the same second as separate
// points.
const writePrecision = time.Millisecond

// Config holds the InfluxDB connection settings.
type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string

	// Site is written as the "site" tag on every point when set.
	Site string
}

// Mirror writes readings to one InfluxDB bucket.
type Mirror struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	tags        map[string]string
}

// New connects a mirror. It does not contact the server until the first write.
func New(cfg Config) (*Mirror, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx URL is required")
	}
	if cfg.Org == "" {
		return nil, fmt.Errorf("influx org is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = config.DefaultInfluxBucket
	}
	if cfg.Measurement == "" {
		cfg.Measurement = config.DefaultInfluxMeasurement
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetPrecision(writePrecision).
			SetHTTPRequestTimeout(uint(config.InfluxWriteTimeout.Seconds())))

	tags := map[string]string{}
	if cfg.Site != "" {
		tags["site"] = cfg.Site
	}

	return &Mirror{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		tags:        tags,
	}, nil
}

// MirrorReadings writes one point per reading in a single request.
func (m *Mirror) MirrorReadings(ctx context.Context, readings []reading.Reading) error {
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		if p := ToPoint(m.measurement, m.tags, r); p != nil {
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil
	}

	if err := m.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("error writing to InfluxDB: %w", err)
	}
	return nil
}

// Close releases the client's connections.
func (m *Mirror) Close() {
	m.client.Close()
}

// ToPoint converts a reading to a point. Numeric values, flags and derived
// metrics become fields. It returns nil for a reading with no fields, which
// line protocol cannot express.
func ToPoint(measurement string, tags map[string]string, r reading.Reading) *write.Point {
	fields := make(map[string]interface{}, len(r.Values)+len(r.Flags)+5)
	for k, v := range r.Values {
		fields[k] = v
	}
	for k, v := range r.Flags {
		fields[k] = v
	}

	derived := map[string]*float64{
		"gas_quality_score":     r.GasQualityScore,
		"compressor_efficiency": r.CompressorEfficiency,
		"temp_differential":     r.TempDifferential,
		"pressure_ratio":        r.PressureRatio,
		"system_health_score":   r.SystemHealthScore,
	}
	for k, v := range derived {
		if v != nil {
			fields[k] = *v
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return influxdb2.NewPoint(measurement, tags, fields, r.Timestamp)
}
