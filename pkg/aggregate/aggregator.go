package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nicktill/biogas-etl/pkg/config"
	"github.com/nicktill/biogas-etl/pkg/reading"
	"github.com/nicktill/biogas-etl/pkg/storage"
	"github.com/nicktill/biogas-etl/pkg/telemetry"
)

// ErrHoursFailed is returned by Run when at least one hour could not be
// written. Result.Failed lists them; every other hour was written.
var ErrHoursFailed = errors.New("hourly aggregation failed")

// HourError reports one hour whose aggregate could not be upserted.
type HourError struct {
	Hour     time.Time
	Attempts int
	Err      error
}

func (e *HourError) Error() string {
	return fmt.Sprintf("hour %s: failed after %d attempts: %v", e.Hour.Format(time.RFC3339), e.Attempts, e.Err)
}

func (e *HourError) Unwrap() error {
	return e.Err
}

// RetryPolicy controls per-hour retries with exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns the configured per-hour retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: config.AggregateMaxRetries,
		BaseDelay:  config.AggregateRetryDelay,
		MaxDelay:   config.AggregateMaxDelay,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<(attempt-1))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Recorder receives the outcome of each run, e.g. a health monitor.
type Recorder interface {
	RecordSuccess(hours int)
	RecordFailure(err error, failedHours int)
}

// Result summarizes one aggregation run.
type Result struct {
	Range    storage.TimeRange
	Readings int64
	Hours    int
	Written  int
	// Pruned counts stored aggregates removed because their hour no longer
	// has any readings.
	Pruned   int
	Failed   []*HourError
	Duration time.Duration
}

// Aggregator computes hourly rollups from stored readings.
type Aggregator struct {
	store    storage.Storage
	retry    RetryPolicy
	recorder Recorder
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithRetry overrides the per-hour retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(a *Aggregator) { a.retry = p }
}

// WithRecorder reports run outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) { a.recorder = r }
}

// New creates a new aggregator
func New(store storage.Storage, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: store,
		retry: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AlignRange widens r to whole hours so no hour is aggregated from a
// partial set of its readings.
func AlignRange(r storage.TimeRange) storage.TimeRange {
	if !r.Start.IsZero() {
		r.Start = reading.TruncateHour(r.Start)
	}
	if !r.End.IsZero() {
		end := reading.TruncateHour(r.End)
		if end.Before(r.End) {
			end = end.Add(time.Hour)
		}
		r.End = end
	}
	return r
}

// Run recomputes every hour in r (aligned to whole hours) and upserts one
// aggregate per hour. Re-running over unchanged readings writes identical
// rows. A failed hour is retried, then reported in Result.Failed; it never
// affects hours already written.
func (a *Aggregator) Run(ctx context.Context, r storage.TimeRange) (*Result, error) {
	r = AlignRange(r)
	res := &Result{Range: r}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		telemetry.HistogramAggregateSeconds.Observe(res.Duration.Seconds())
	}()

	log.Printf("📊 Aggregating readings %s", describeRange(r))

	hours, err := a.collect(ctx, r, res)
	if err != nil {
		err = fmt.Errorf("failed to scan readings: %w", err)
		a.recordFailure(err, 0)
		return res, err
	}
	res.Hours = len(hours)

	present := make(map[int64]bool, len(hours))
	for _, agg := range hours {
		present[agg.Timestamp.UnixNano()] = true

		if err := a.upsert(ctx, agg); err != nil {
			var he *HourError
			if !errors.As(err, &he) {
				// Cancelled: the remaining hours were not attempted.
				a.recordFailure(err, len(res.Failed))
				return res, err
			}
			res.Failed = append(res.Failed, he)
			telemetry.CounterHourFailures.Inc()
			continue
		}
		res.Written++
		telemetry.CounterHoursAggregated.Inc()
	}

	pruned, err := a.prune(ctx, r, present)
	res.Pruned = pruned
	if err != nil {
		log.Printf("⚠️  Failed to prune stale aggregates: %v", err)
	}

	if len(res.Failed) > 0 {
		err := fmt.Errorf("%w: %d of %d hours", ErrHoursFailed, len(res.Failed), res.Hours)
		a.recordFailure(err, len(res.Failed))
		log.Printf("❌ Aggregated %d of %d hours; failed hours can be re-run with aggregate --start/--end", res.Written, res.Hours)
		return res, err
	}

	if a.recorder != nil {
		a.recorder.RecordSuccess(res.Written)
	}
	log.Printf("✅ Aggregated %s hours from %s readings in %v",
		humanize.Comma(int64(res.Written)), humanize.Comma(res.Readings), time.Since(start).Round(time.Millisecond))
	return res, nil
}

// collect streams readings in timestamp order and folds them into hour
// buckets. Only one bucket is open at a time.
func (a *Aggregator) collect(ctx context.Context, r storage.TimeRange, res *Result) ([]reading.HourlyAggregate, error) {
	var hours []reading.HourlyAggregate
	var cur *bucket

	err := a.store.ScanReadings(ctx, r, func(rd reading.Reading) error {
		hour := reading.TruncateHour(rd.Timestamp)
		if cur == nil || !hour.Equal(cur.hour) {
			if cur != nil {
				hours = append(hours, cur.finalize())
			}
			cur = newBucket(hour)
		}
		cur.add(&rd)
		res.Readings++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cur != nil {
		hours = append(hours, cur.finalize())
	}
	return hours, nil
}

// upsert writes one hour with retry and exponential backoff.
func (a *Aggregator) upsert(ctx context.Context, agg reading.HourlyAggregate) error {
	var lastErr error
	attempts := a.retry.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(a.retry.delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = a.store.UpsertAggregate(ctx, agg)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("⚠️  Aggregate for %s failed (attempt %d/%d): %v",
			agg.Timestamp.Format(time.RFC3339), attempt+1, attempts, lastErr)
	}

	return &HourError{Hour: agg.Timestamp, Attempts: attempts, Err: lastErr}
}

// prune deletes stored aggregates in r whose hour produced no readings, so
// the aggregate store always matches what a full recompute would give.
func (a *Aggregator) prune(ctx context.Context, r storage.TimeRange, present map[int64]bool) (int, error) {
	existing, err := a.store.QueryAggregates(ctx, r)
	if err != nil {
		return 0, err
	}

	var n int
	for _, agg := range existing {
		if present[agg.Timestamp.UnixNano()] {
			continue
		}
		deleted, err := a.store.DeleteAggregates(ctx, storage.TimeRange{
			Start: agg.Timestamp,
			End:   agg.Timestamp.Add(time.Hour),
		})
		if err != nil {
			return n, err
		}
		n += deleted
	}
	return n, nil
}

func (a *Aggregator) recordFailure(err error, failedHours int) {
	if a.recorder != nil {
		a.recorder.RecordFailure(err, failedHours)
	}
}

func describeRange(r storage.TimeRange) string {
	switch {
	case r.Start.IsZero() && r.End.IsZero():
		return "(all)"
	case r.Start.IsZero():
		return "before " + r.End.Format(time.RFC3339)
	case r.End.IsZero():
		return "from " + r.Start.Format(time.RFC3339)
	default:
		return fmt.Sprintf("from %s to %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
}
