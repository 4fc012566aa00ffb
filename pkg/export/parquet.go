package export

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/nicktill/biogas-etl/pkg/reading"
)

// parquetWriters is the number of goroutines the Parquet writer uses to
// encode pages.
const parquetWriters = 4

// parquetRow is one hourly aggregate in the Parquet file. Nullable
// statistics are OPTIONAL columns.
type parquetRow struct {
	Hour             int64    `parquet:"name=hour, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	AvgCH4           *float64 `parquet:"name=avg_ch4, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvgCO2           *float64 `parquet:"name=avg_co2, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvgFlow          *float64 `parquet:"name=avg_flow, type=DOUBLE, repetitiontype=OPTIONAL"`
	TotalEnergy      *float64 `parquet:"name=total_energy, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvgCompAmps      *float64 `parquet:"name=avg_comp_amps, type=DOUBLE, repetitiontype=OPTIONAL"`
	MaxCompAmps      *float64 `parquet:"name=max_comp_amps, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvgCompTemp      *float64 `parquet:"name=avg_comp_temp, type=DOUBLE, repetitiontype=OPTIONAL"`
	MaxCompTemp      *float64 `parquet:"name=max_comp_temp, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvgHealthScore   *float64 `parquet:"name=avg_health_score, type=DOUBLE, repetitiontype=OPTIONAL"`
	MinHealthScore   *float64 `parquet:"name=min_health_score, type=DOUBLE, repetitiontype=OPTIONAL"`
	FaultCount       int32    `parquet:"name=fault_count, type=INT32"`
	UptimePercentage float64  `parquet:"name=uptime_percentage, type=DOUBLE"`
	ReadingCount     int32    `parquet:"name=reading_count, type=INT32"`
	NullCount        int32    `parquet:"name=null_count, type=INT32"`
}

func toParquet(a reading.HourlyAggregate) parquetRow {
	return parquetRow{
		Hour:             a.Timestamp.UnixMilli(),
		AvgCH4:           a.AvgCH4,
		AvgCO2:           a.AvgCO2,
		AvgFlow:          a.AvgFlow,
		TotalEnergy:      a.TotalEnergy,
		AvgCompAmps:      a.AvgCompAmps,
		MaxCompAmps:      a.MaxCompAmps,
		AvgCompTemp:      a.AvgCompTemp,
		MaxCompTemp:      a.MaxCompTemp,
		AvgHealthScore:   a.AvgHealthScore,
		MinHealthScore:   a.MinHealthScore,
		FaultCount:       int32(a.FaultCount),
		UptimePercentage: a.UptimePercentage,
		ReadingCount:     int32(a.ReadingCount),
		NullCount:        int32(a.NullCount),
	}
}

// ExportToParquet writes aggregates to a Snappy-compressed Parquet file at
// path. A failed export leaves no file behind.
func (e *Exporter) ExportToParquet(ctx context.Context, path string, opts Options) (*Result, error) {
	aggs, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create local file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(parquetRow), parquetWriters)
	if err != nil {
		fw.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, a := range aggs {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				fw.Close()
				os.Remove(path)
				return nil, err
			}
		}
		if err := pw.Write(toParquet(a)); err != nil {
			fw.Close()
			os.Remove(path)
			return nil, fmt.Errorf("failed to write hour %s: %w", a.Timestamp, err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		fw.Close()
		os.Remove(path)
		return nil, fmt.Errorf("error in WriteStop: %w", err)
	}
	if err := fw.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("error closing file writer: %w", err)
	}

	log.Printf("✅ Wrote %d hours to %s", len(aggs), path)

	res := newResult(FormatParquet, opts, len(aggs))
	res.Path = path
	return res, nil
}
