package aggregate

import (
	"math"
	"time"

	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/schema"
)

// stat accumulates sum, count, min and max for one field. Nulls are not
// added, so averages ignore them.
type stat struct {
	Sum   float64
	Count uint64
	Min   float64
	Max   float64
}

func (s *stat) add(v float64) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	s.Sum += v
	s.Count++
}

func (s *stat) addValue(r *reading.Reading, field string) {
	if v, ok := r.Value(field); ok {
		s.add(v)
	}
}

func (s *stat) addPtr(v *float64) {
	if v != nil {
		s.add(*v)
	}
}

// Average calculates the mean value, nil when nothing was added.
func (s *stat) Average() *float64 {
	if s.Count == 0 {
		return nil
	}
	return finite(s.Sum / float64(s.Count))
}

// Total is the sum of the added values. A sum that overflowed is null.
func (s *stat) Total() *float64 {
	if s.Count == 0 {
		return nil
	}
	return finite(s.Sum)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return reading.Float(v)
}

func (s *stat) Minimum() *float64 {
	if s.Count == 0 {
		return nil
	}
	return reading.Float(s.Min)
}

func (s *stat) Maximum() *float64 {
	if s.Count == 0 {
		return nil
	}
	return reading.Float(s.Max)
}

// bucket folds the readings of one UTC hour.
type bucket struct {
	hour time.Time

	ch4, co2, flow, energy stat
	amps, compTemp, health stat

	faults   int
	running  int
	readings int
	nullCH4  int
}

func newBucket(hour time.Time) *bucket {
	return &bucket{hour: hour}
}

func (b *bucket) add(r *reading.Reading) {
	b.readings++

	if _, ok := r.Value(schema.CH4Percent); !ok {
		b.nullCH4++
	}
	b.ch4.addValue(r, schema.CH4Percent)
	b.co2.addValue(r, schema.CO2Percent)
	b.flow.addValue(r, schema.GasFlow)
	b.energy.addValue(r, schema.DailyEnergy)
	b.amps.addValue(r, schema.CompMotorAmps)
	b.compTemp.addValue(r, schema.CompDischargeTemp)
	b.health.addPtr(r.SystemHealthScore)

	if r.IsSet(schema.CompFault) || r.IsSet(schema.BlowerFault) {
		b.faults++
	}
	if r.IsSet(schema.CompRunning) {
		b.running++
	}
}

func (b *bucket) finalize() reading.HourlyAggregate {
	return reading.HourlyAggregate{
		Timestamp:        b.hour,
		AvgCH4:           b.ch4.Average(),
		AvgCO2:           b.co2.Average(),
		AvgFlow:          b.flow.Average(),
		TotalEnergy:      b.energy.Total(),
		AvgCompAmps:      b.amps.Average(),
		MaxCompAmps:      b.amps.Maximum(),
		AvgCompTemp:      b.compTemp.Average(),
		MaxCompTemp:      b.compTemp.Maximum(),
		AvgHealthScore:   b.health.Average(),
		MinHealthScore:   b.health.Minimum(),
		FaultCount:       b.faults,
		UptimePercentage: Uptime(b.running, b.readings),
		ReadingCount:     b.readings,
		NullCount:        b.nullCH4,
	}
}

// Uptime is the percentage of readings with the compressor running. An
// empty hour has 0 uptime.
func Uptime(running, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(100*float64(running)) / float64(total)
}
