package monitor

import (
	"sync"
	"time"
)

// staleAfter is how long a successful aggregation counts as current. Batch
// ingests run daily, so anything older means the scheduler stopped.
const staleAfter = 26 * time.Hour

// AggregationMonitor tracks aggregation runs and failed hours.
type AggregationMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	hoursWritten      int
	hoursFailed       int
}

// RecordSuccess records a run in which every hour was written.
func (am *AggregationMonitor) RecordSuccess(hours int) {
	am.mu.Lock()
	defer am.mu.Unlock()
	now := time.Now()
	am.lastSuccess = now
	am.lastAttempt = now
	am.consecutiveErrors = 0
	am.lastError = ""
	am.hoursWritten += hours
}

// RecordFailure records a run that failed outright or left hours unwritten.
func (am *AggregationMonitor) RecordFailure(err error, failedHours int) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.lastAttempt = time.Now()
	am.consecutiveErrors++
	am.hoursFailed += failedHours
	if err != nil {
		am.lastError = err.Error()
	}
}

// IsHealthy returns true if aggregation is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within staleAfter
//   - More than 3 consecutive failures
func (am *AggregationMonitor) IsHealthy() bool {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.healthyLocked()
}

func (am *AggregationMonitor) healthyLocked() bool {
	if am.lastSuccess.IsZero() {
		return false
	}
	if time.Since(am.lastSuccess) > staleAfter {
		return false
	}
	return am.consecutiveErrors <= 3
}

// AggregationStatus is the aggregation section of the health response.
type AggregationStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	HoursWritten      int    `json:"hours_written"`
	HoursFailed       int    `json:"hours_failed"`
}

// Status returns current aggregation status for health checks.
func (am *AggregationMonitor) Status() AggregationStatus {
	am.mu.RLock()
	defer am.mu.RUnlock()

	status := AggregationStatus{
		Healthy:      am.healthyLocked(),
		HoursWritten: am.hoursWritten,
		HoursFailed:  am.hoursFailed,
	}

	if !am.lastSuccess.IsZero() {
		status.LastSuccess = am.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(am.lastSuccess).Round(time.Second).String()
	}

	if !am.lastAttempt.IsZero() {
		status.LastAttempt = am.lastAttempt.Format(time.RFC3339)
	}

	if am.consecutiveErrors > 0 {
		status.ConsecutiveErrors = am.consecutiveErrors
		status.LastError = am.lastError
	}

	return status
}
